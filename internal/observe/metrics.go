// Package observe provides OpenTelemetry metrics for live sessions and the
// Prometheus endpoint that exposes them.
//
// Tests should build Metrics with NewMetrics over their own MeterProvider
// (or use NopMetrics) to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Raikerian/consult-voice"

// Metrics holds the metric instruments. All fields are safe for concurrent use.
type Metrics struct {
	// FramesSent counts captured frames handed to the remote service.
	FramesSent metric.Int64Counter

	// BytesSent counts PCM bytes handed to the remote service.
	BytesSent metric.Int64Counter

	// ChunksScheduled counts decoded chunks queued on the speaker.
	ChunksScheduled metric.Int64Counter

	// PlaybackScheduled accumulates the duration of scheduled audio.
	PlaybackScheduled metric.Float64Counter

	// Transcripts counts transcription fragments. Use with attribute:
	//   attribute.String("speaker", "user"|"assistant")
	Transcripts metric.Int64Counter

	// SessionErrors counts failed sessions. Use with attribute:
	//   attribute.String("kind", "precondition"|"device"|"transport")
	SessionErrors metric.Int64Counter

	// ConnectDuration tracks the time from Connect to the open handshake.
	ConnectDuration metric.Float64Histogram

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter
}

var connectBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("consult.capture.frames_sent",
		metric.WithDescription("Captured frames sent to the remote service."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("consult.capture.bytes_sent",
		metric.WithDescription("PCM bytes sent to the remote service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("consult.playback.chunks_scheduled",
		metric.WithDescription("Decoded audio chunks queued for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Float64Counter("consult.playback.scheduled",
		metric.WithDescription("Seconds of audio queued for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("consult.transcripts",
		metric.WithDescription("Transcription fragments received by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("consult.session.errors",
		metric.WithDescription("Live session failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("consult.session.connect.duration",
		metric.WithDescription("Time from connect to the remote open handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("consult.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(bytes))
}

func (m *Metrics) RecordChunkScheduled(ctx context.Context, d time.Duration) {
	m.ChunksScheduled.Add(ctx, 1)
	m.PlaybackScheduled.Add(ctx, d.Seconds())
}

func (m *Metrics) RecordTranscript(ctx context.Context, fromUser bool) {
	speaker := "assistant"
	if fromUser {
		speaker = "user"
	}
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds())
}

// SessionOpened and SessionClosed move the active sessions gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
