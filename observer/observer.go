// Package observer implements the append-only event log: per-entity
// tracing, metrics computed on read over a time window, and passive
// alerting on elevated failure rate.
package observer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/birdwatch/id"
	"github.com/xraph/birdwatch/persistence"
)

const tableEvents = "events"

// AlertSink receives alert messages emitted when the failure rate
// exceeds the failureRateThreshold passed to New. The default sink
// writes to standard output.
type AlertSink interface {
	Alert(message string)
}

// WriterAlertSink writes each alert message as a line to w.
type WriterAlertSink struct {
	W io.Writer
}

// Alert writes message followed by a newline to the sink's writer.
func (s WriterAlertSink) Alert(message string) {
	fmt.Fprintln(s.W, message)
}

// Metrics is a windowed summary of job outcomes and processing time.
type Metrics struct {
	Submitted           int      `json:"submitted"`
	Completed           int      `json:"completed"`
	Failed              int      `json:"failed"`
	FailureRate         float64  `json:"failureRate"`
	AvgProcessingTimeMs *float64 `json:"avgProcessingTimeMs"`
}

// Observer owns the event log table and evaluates alerts as it writes.
type Observer struct {
	env      persistence.Environment
	padWidth int
	now      func() time.Time
	sink     AlertSink
	logger   *slog.Logger

	defaultMetricsWindowMs int64
	failureRateThreshold   float64
}

// Option configures an Observer.
type Option func(*Observer)

// WithAlertSink overrides the default stdout alert sink.
func WithAlertSink(sink AlertSink) Option {
	return func(o *Observer) { o.sink = sink }
}

// WithLogger overrides the observer's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) { o.logger = logger }
}

// New creates an Observer over env. defaultMetricsWindowMs and
// failureRateThreshold back the alert evaluation every job-failed log
// triggers.
func New(env persistence.Environment, padWidth int, defaultMetricsWindowMs int64, failureRateThreshold float64, opts ...Option) *Observer {
	o := &Observer{
		env:                    env,
		padWidth:               padWidth,
		now:                    time.Now,
		sink:                   WriterAlertSink{W: os.Stdout},
		logger:                 slog.Default(),
		defaultMetricsWindowMs: defaultMetricsWindowMs,
		failureRateThreshold:   failureRateThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Observer) nowMs() int64 {
	return o.now().UnixMilli()
}

// Log allocates and writes one event, then evaluates the failure-rate
// alert if action is job-failed.
func (o *Observer) Log(ctx context.Context, action Action, severity Severity, body map[string]any) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		Timestamp: o.nowMs(),
		Severity:  severity,
		Action:    action,
		Body:      body,
	}

	encoded, err := msgpack.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("observer: encode event: %w", err)
	}

	key := persistence.EncodeOrderedKey(o.padWidth, evt.Timestamp, evt.ID)
	if err := o.env.Table(tableEvents).Put(ctx, key, encoded); err != nil {
		return nil, fmt.Errorf("observer: log %s: %w", action, err)
	}

	if action == ActionJobFailed {
		o.evaluateAlert(ctx)
	}

	return evt, nil
}

func (o *Observer) evaluateAlert(ctx context.Context) {
	m, err := o.Metrics(ctx, o.defaultMetricsWindowMs)
	if err != nil {
		o.logger.Error("observer: alert evaluation failed", slog.String("error", err.Error()))
		return
	}
	if m.FailureRate <= o.failureRateThreshold {
		return
	}
	total := m.Completed + m.Failed
	o.sink.Alert(fmt.Sprintf(
		"ALERT: High failure rate detected: %.1f%% (%d/%d jobs failed)",
		m.FailureRate*100, m.Failed, total,
	))
}

func (o *Observer) scanAll(ctx context.Context, start string) ([]*Event, error) {
	entries, err := o.env.Table(tableEvents).Scan(ctx, start, 0)
	if err != nil {
		return nil, fmt.Errorf("observer: scan: %w", err)
	}
	events := make([]*Event, 0, len(entries))
	for _, e := range entries {
		var evt Event
		if err := msgpack.Unmarshal(e.Value, &evt); err != nil {
			return nil, fmt.Errorf("observer: decode event: %w", err)
		}
		events = append(events, &evt)
	}
	return events, nil
}

// Trace scans the entire event table and returns every event whose
// body.jobId matches jobID, sorted by timestamp ascending.
func (o *Observer) Trace(ctx context.Context, jobID string) ([]*Event, error) {
	events, err := o.scanAll(ctx, "")
	if err != nil {
		return nil, err
	}

	matched := make([]*Event, 0)
	for _, evt := range events {
		if fromBody, ok := evt.Body["jobId"].(string); ok && fromBody == jobID {
			matched = append(matched, evt)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })
	return matched, nil
}

// Metrics computes the windowed summary over events with
// timestamp >= now - windowMs.
func (o *Observer) Metrics(ctx context.Context, windowMs int64) (*Metrics, error) {
	now := o.nowMs()
	windowStart := now - windowMs
	startKey := persistence.StartKeyForTimestamp(o.padWidth, windowStart)

	events, err := o.scanAll(ctx, startKey)
	if err != nil {
		return nil, err
	}

	claimedAt := make(map[string]int64)
	completedAt := make(map[string]int64)

	m := &Metrics{}
	for _, evt := range events {
		switch evt.Action {
		case ActionJobSubmitted:
			m.Submitted++
		case ActionJobCompleted:
			m.Completed++
			if jobID, ok := evt.Body["jobId"].(string); ok {
				completedAt[jobID] = evt.Timestamp
			}
		case ActionJobFailed:
			m.Failed++
		case ActionJobClaimed:
			if jobID, ok := evt.Body["jobId"].(string); ok {
				claimedAt[jobID] = evt.Timestamp
			}
		}
	}

	denom := m.Completed + m.Failed
	if denom > 0 {
		m.FailureRate = float64(m.Failed) / float64(denom)
	}

	var sum float64
	var count int
	for jobID, completedTs := range completedAt {
		claimedTs, ok := claimedAt[jobID]
		if !ok {
			continue
		}
		sum += float64(completedTs - claimedTs)
		count++
	}
	if count > 0 {
		avg := sum / float64(count)
		m.AvgProcessingTimeMs = &avg
	}

	return m, nil
}
