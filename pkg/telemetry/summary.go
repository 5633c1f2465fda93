package telemetry

import (
	"context"
	"fmt"
	"time"
)

// Windows used by Summarize.
const (
	Day   = 24 * time.Hour
	Month = 30 * Day
)

// Metrics are the admin dashboard figures.
type Metrics struct {
	DAU int `json:"dau"`
	MAU int `json:"mau"`
	// Conversion is writer_ok events per start event.
	Conversion float64 `json:"conversion_start_to_writer"`
	// AvgGenerationMs averages the duration_ms prop of writer_ok events.
	AvgGenerationMs float64 `json:"avg_generation_ms"`
	// VerifierFailPct is the fraction of verifications that failed.
	VerifierFailPct float64 `json:"verifier_fail_pct"`
}

// Summarize computes Metrics over the month before now. Events without a
// user id count towards rates but not towards active users.
func Summarize(events []Event, now time.Time) Metrics {
	sinceDay, sinceMonth := now.Add(-Day), now.Add(-Month)

	dau := make(map[string]struct{})
	mau := make(map[string]struct{})
	var starts, writes, verOK, verFail int
	var total float64
	var timed int

	for _, e := range events {
		if e.At.Before(sinceMonth) {
			continue
		}
		if e.UserID != "" {
			if !e.At.Before(sinceDay) {
				dau[e.UserID] = struct{}{}
			}
			mau[e.UserID] = struct{}{}
		}
		switch e.Name {
		case EventStart:
			starts++
		case EventWriterOK:
			writes++
			if ms, ok := number(e.Props["duration_ms"]); ok {
				total += ms
				timed++
			}
		case EventVerifierOK:
			verOK++
		case EventVerifierFail:
			verFail++
		}
	}

	m := Metrics{DAU: len(dau), MAU: len(mau)}
	if starts > 0 {
		m.Conversion = float64(writes) / float64(starts)
	}
	if timed > 0 {
		m.AvgGenerationMs = total / float64(timed)
	}
	if n := verOK + verFail; n > 0 {
		m.VerifierFailPct = float64(verFail) / float64(n)
	}
	return m
}

// SummarizeSource loads the last month of events from src.
func SummarizeSource(ctx context.Context, src Source, now time.Time) (Metrics, error) {
	events, err := src.Events(ctx, now.Add(-Month))
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to load events: %w", err)
	}
	return Summarize(events, now), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
