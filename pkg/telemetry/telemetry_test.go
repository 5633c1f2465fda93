package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(ago time.Duration) time.Time { return now.Add(-ago) }

func TestSummarize(t *testing.T) {
	events := []Event{
		{Name: EventStart, UserID: "1", At: at(time.Hour)},
		{Name: EventStart, UserID: "2", At: at(2 * Day)},
		{Name: EventStart, UserID: "3", At: at(40 * Day)}, // outside the month
		{Name: EventStart, At: at(time.Minute)},
		{Name: EventWriterOK, UserID: "1", At: at(time.Hour), Props: map[string]any{"duration_ms": 1200}},
		{Name: EventWriterOK, UserID: "2", At: at(2 * Day), Props: map[string]any{"duration_ms": 800.0}},
		{Name: EventWriterOK, UserID: "2", At: at(2 * Day), Props: map[string]any{"duration_ms": "n/a"}},
		{Name: EventVerifierOK, UserID: "1", At: at(time.Hour)},
		{Name: EventVerifierOK, UserID: "2", At: at(2 * Day)},
		{Name: EventVerifierOK, UserID: "2", At: at(2 * Day)},
		{Name: EventVerifierFail, UserID: "2", At: at(2 * Day)},
	}

	m := Summarize(events, now)
	assert.Equal(t, 1, m.DAU)
	assert.Equal(t, 2, m.MAU)
	assert.InDelta(t, 1.0, m.Conversion, 1e-9)
	assert.InDelta(t, 1000.0, m.AvgGenerationMs, 1e-9)
	assert.InDelta(t, 0.25, m.VerifierFailPct, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Metrics{}, Summarize(nil, now))
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink()
	require.NoError(t, s.Track(ctx, Event{Name: EventWriterOK, At: at(time.Minute)}))
	require.NoError(t, s.Track(ctx, Event{Name: EventStart, At: at(time.Hour)}))
	require.NoError(t, s.Track(ctx, Event{Name: EventStart, At: at(Month + time.Hour)}))

	events, err := s.Events(ctx, now.Add(-Month))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].Name)
	assert.Equal(t, []Name{EventWriterOK, EventStart, EventStart}, s.Names())

	m, err := SummarizeSource(ctx, s, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.Conversion, 1e-9)
}

type failingSink struct{}

func (failingSink) Track(context.Context, Event) error { return errors.New("down") }

func TestTee(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	err := Tee{a, failingSink{}, b}.Track(context.Background(), Event{Name: EventStart, At: now})
	require.Error(t, err)
	assert.Len(t, a.Names(), 1)
	assert.Len(t, b.Names(), 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, s.Track(context.Background(), Event{Name: EventQuotaSpent, UserID: "42", Expert: "tarot"}))
	out := buf.String()
	assert.Contains(t, out, "event=quota_spent")
	assert.Contains(t, out, "user_id=42")
	assert.Contains(t, out, "component=telemetry")
}

// fakeStream mimics XADD/XRANGE: "*" takes the server clock, and explicit
// ids at or below the stream top are refused as Redis does.
type fakeStream struct {
	msgs   []redis.XMessage
	args   []*redis.XAddArgs
	server time.Time
	topMs  int64
	topSeq int64
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	f.args = append(f.args, a)

	ms := f.server.UnixMilli()
	if a.ID != "*" {
		ms, _ = strconv.ParseInt(strings.SplitN(a.ID, "-", 2)[0], 10, 64)
		if ms < f.topMs {
			cmd.SetErr(errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item"))
			return cmd
		}
	}
	seq := int64(0)
	if ms == f.topMs && len(f.msgs) > 0 {
		seq = f.topSeq + 1
	}
	if ms < f.topMs {
		ms, seq = f.topMs, f.topSeq+1
	}
	f.topMs, f.topSeq = ms, seq

	id := strconv.FormatInt(ms, 10) + "-" + strconv.FormatInt(seq, 10)
	values := make(map[string]any)
	for k, v := range a.Values.(map[string]any) {
		values[k] = v
	}
	f.msgs = append(f.msgs, redis.XMessage{ID: id, Values: values})
	cmd.SetVal(id)
	return cmd
}

func (f *fakeStream) XRange(ctx context.Context, _, start, _ string) *redis.XMessageSliceCmd {
	from, _ := strconv.ParseInt(start, 10, 64)
	var out []redis.XMessage
	for _, m := range f.msgs {
		ms, _ := strconv.ParseInt(strings.SplitN(m.ID, "-", 2)[0], 10, 64)
		if ms >= from {
			out = append(out, m)
		}
	}
	cmd := redis.NewXMessageSliceCmd(ctx)
	cmd.SetVal(out)
	return cmd
}

func TestRedisSink(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{server: now}
	s := NewRedisSink(stream, "", 1000)

	require.NoError(t, s.Track(ctx, Event{Name: EventStart, UserID: "42", Expert: "tarot", At: at(Month + Day)}))
	require.NoError(t, s.Track(ctx, Event{
		Name: EventWriterOK, UserID: "42", Expert: "tarot", At: at(time.Hour),
		Props: map[string]any{"duration_ms": 250},
	}))

	require.Len(t, stream.args, 2)
	assert.Equal(t, DefaultStream, stream.args[0].Stream)
	assert.True(t, stream.args[0].Approx)
	assert.Equal(t, int64(1000), stream.args[0].MaxLen)

	events, err := s.Events(ctx, now.Add(-Month))
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, EventWriterOK, e.Name)
	assert.Equal(t, "42", e.UserID)
	assert.True(t, at(time.Hour).Equal(e.At))
	// JSON numbers decode as float64.
	assert.Equal(t, 250.0, e.Props["duration_ms"])

	m := Summarize(events, now)
	assert.InDelta(t, 250.0, m.AvgGenerationMs, 1e-9)
}

func TestRedisSink_OutOfOrderArrival(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{server: now}
	s := NewRedisSink(stream, "", 0)

	// The later event reaches Redis first.
	require.NoError(t, s.Track(ctx, Event{Name: EventWriterOK, UserID: "7", At: at(time.Second)}))
	stream.server = now.Add(2 * time.Second)
	require.NoError(t, s.Track(ctx, Event{Name: EventVerifierFail, UserID: "7", At: at(3 * time.Second)}))

	for _, a := range stream.args {
		assert.Equal(t, "*", a.ID)
	}

	events, err := s.Events(ctx, at(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventWriterOK, events[0].Name)
	assert.Equal(t, EventVerifierFail, events[1].Name)
	assert.True(t, at(3*time.Second).Equal(events[1].At))

	m := Summarize(events, now)
	assert.InDelta(t, 1.0, m.VerifierFailPct, 1e-9)
}

func TestRedisSink_EventsFiltersOnEventTime(t *testing.T) {
	ctx := context.Background()
	// Redis clock ahead of the event clock: the id lands inside the range
	// but the event time does not.
	stream := &fakeStream{server: now}
	s := NewRedisSink(stream, "", 0)
	require.NoError(t, s.Track(ctx, Event{Name: EventStart, UserID: "1", At: at(2 * time.Minute)}))
	require.NoError(t, s.Track(ctx, Event{Name: EventStart, UserID: "2", At: now}))

	events, err := s.Events(ctx, at(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].UserID)
}
