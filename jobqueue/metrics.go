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

package jobqueue

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the job queue's OpenTelemetry instruments. Absent an
// exporter in go.mod, otel.Meter resolves to the global no-op
// MeterProvider, so these calls are always safe but only observable once
// an operator wires a real SDK/exporter ahead of this package.
type Metrics struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	abandoned metric.Int64Counter
}

// NewMetrics creates the job queue's counters against the global meter
// provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("fedcore/jobqueue")

	processed, err := meter.Int64Counter("fedcore.jobqueue.jobs_processed", metric.WithDescription("Jobs that completed successfully, by kind"))
	if err != nil {
		slog.Error("Failed to create jobs_processed counter", "error", err)
	}

	failed, err := meter.Int64Counter("fedcore.jobqueue.jobs_failed", metric.WithDescription("Jobs that failed and were scheduled for retry, by kind"))
	if err != nil {
		slog.Error("Failed to create jobs_failed counter", "error", err)
	}

	abandoned, err := meter.Int64Counter("fedcore.jobqueue.jobs_abandoned", metric.WithDescription("Jobs abandoned after exhausting their retry horizon or failing non-retryably"))
	if err != nil {
		slog.Error("Failed to create jobs_abandoned counter", "error", err)
	}

	return &Metrics{processed: processed, failed: failed, abandoned: abandoned}
}

func (m *Metrics) recordProcessed(ctx context.Context, kind string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordFailed(ctx context.Context, kind string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordAbandoned(ctx context.Context) {
	if m == nil || m.abandoned == nil {
		return
	}
	m.abandoned.Add(ctx, 1)
}
