// Package telemetry records product events and summarizes them into the
// admin metrics.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Name identifies a product event.
type Name string

const (
	EventStart        Name = "start"
	EventFormStep     Name = "form_step"
	EventDrawStarted  Name = "draw_started"
	EventWriterOK     Name = "writer_ok"
	EventQuotaSpent   Name = "quota_spent"
	EventVerifierOK   Name = "verifier_ok"
	EventVerifierFail Name = "verifier_fail"
)

// Event is one product event. Props must be JSON encodable.
type Event struct {
	Name   Name           `json:"event"`
	UserID string         `json:"user_id,omitempty"`
	Expert string         `json:"expert,omitempty"`
	Props  map[string]any `json:"props,omitempty"`
	At     time.Time      `json:"ts"`
}

// Sink accepts events.
type Sink interface {
	Track(ctx context.Context, e Event) error
}

// Source lists events recorded at or after since, oldest first.
type Source interface {
	Events(ctx context.Context, since time.Time) ([]Event, error)
}

// Tee fans an event out to every sink and joins their errors.
type Tee []Sink

func (t Tee) Track(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range t {
		if err := s.Track(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps events in process, for tests and single-node setups.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Track(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Events(_ context.Context, since time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Names returns the recorded event names in order.
func (s *MemorySink) Names() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Name, len(s.events))
	for i, e := range s.events {
		out[i] = e.Name
	}
	return out
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Track(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "event",
		"event", string(e.Name),
		"user_id", e.UserID,
		"expert", e.Expert,
		"props", e.Props,
	)
	return nil
}
