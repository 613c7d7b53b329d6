// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for the replay engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	messagesPublished metric.Int64Counter
	messagesFetched   metric.Int64Counter
	messagesReplayed  metric.Int64Counter
	publishRetries    metric.Int64Counter
	jobsFinished      metric.Int64Counter

	replayDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized
// on the global meter provider.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("replay-engine"),
	}

	var err error

	m.messagesPublished, err = m.meter.Int64Counter(
		"replay.messages.published.total",
		metric.WithDescription("Total messages appended through the indexed publish path"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesPublished counter: %w", err)
	}

	m.messagesFetched, err = m.meter.Int64Counter(
		"replay.messages.fetched.total",
		metric.WithDescription("Total messages returned by fetch requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesFetched counter: %w", err)
	}

	m.messagesReplayed, err = m.meter.Int64Counter(
		"replay.messages.replayed.total",
		metric.WithDescription("Total messages re-published by replay jobs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReplayed counter: %w", err)
	}

	m.publishRetries, err = m.meter.Int64Counter(
		"replay.publish.retries.total",
		metric.WithDescription("Total transient publish failures retried"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishRetries counter: %w", err)
	}

	m.jobsFinished, err = m.meter.Int64Counter(
		"replay.jobs.finished.total",
		metric.WithDescription("Total replay jobs by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobsFinished counter: %w", err)
	}

	m.replayDuration, err = m.meter.Float64Histogram(
		"replay.job.duration.seconds",
		metric.WithDescription("Replay job duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replayDuration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordPublished(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) recordFetched(ctx context.Context, queue string, count int) {
	if m == nil {
		return
	}
	m.messagesFetched.Add(ctx, int64(count), metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) recordReplayed(ctx context.Context, target string, count int64) {
	if m == nil {
		return
	}
	m.messagesReplayed.Add(ctx, count, metric.WithAttributes(attribute.String("queue", target)))
}

func (m *Metrics) recordRetry(ctx context.Context, target string) {
	if m == nil {
		return
	}
	m.publishRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", target)))
}

func (m *Metrics) recordJobFinished(ctx context.Context, status JobStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status.String()))
	m.jobsFinished.Add(ctx, 1, attrs)
	m.replayDuration.Record(ctx, elapsed.Seconds(), attrs)
}
