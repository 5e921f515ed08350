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

package inbox

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the inbox processor's OpenTelemetry instruments, one
// counter per terminal dispatch outcome.
type Metrics struct {
	accepted metric.Int64Counter
	rejected metric.Int64Counter
}

// NewMetrics creates the inbox processor's counters against the global
// meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("fedcore/inbox")

	accepted, err := meter.Int64Counter("fedcore.inbox.activities_accepted", metric.WithDescription("Inbound activities that dispatched without error"))
	if err != nil {
		slog.Error("Failed to create activities_accepted counter", "error", err)
	}

	rejected, err := meter.Int64Counter("fedcore.inbox.activities_rejected", metric.WithDescription("Inbound activities whose dispatch handler returned an error"))
	if err != nil {
		slog.Error("Failed to create activities_rejected counter", "error", err)
	}

	return &Metrics{accepted: accepted, rejected: rejected}
}

func (m *Metrics) recordAccepted(ctx context.Context) {
	if m == nil || m.accepted == nil {
		return
	}
	m.accepted.Add(ctx, 1)
}

func (m *Metrics) recordRejected(ctx context.Context) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(ctx, 1)
}
