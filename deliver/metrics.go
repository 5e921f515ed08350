/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package deliver

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the delivery engine's OpenTelemetry instruments, counted
// per recipient rather than per job since one job fans out to many inboxes.
type Metrics struct {
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
}

// NewMetrics creates the delivery engine's counters against the global
// meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("fedcore/deliver")

	succeeded, err := meter.Int64Counter("fedcore.deliver.deliveries_succeeded", metric.WithDescription("Per-recipient deliveries that received a non-error response"))
	if err != nil {
		slog.Error("Failed to create deliveries_succeeded counter", "error", err)
	}

	failed, err := meter.Int64Counter("fedcore.deliver.deliveries_failed", metric.WithDescription("Per-recipient deliveries that errored or were rejected"))
	if err != nil {
		slog.Error("Failed to create deliveries_failed counter", "error", err)
	}

	return &Metrics{succeeded: succeeded, failed: failed}
}

func (m *Metrics) recordDeliverySucceeded(ctx context.Context) {
	if m == nil || m.succeeded == nil {
		return
	}
	m.succeeded.Add(ctx, 1)
}

func (m *Metrics) recordDeliveryFailed(ctx context.Context) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.Add(ctx, 1)
}
