package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "astro:events"

// MaxClockSkew bounds how far an event's own time may trail the id Redis
// gave it. Events widens its id range by this much and filters on "ts".
const MaxClockSkew = 5 * time.Minute

// StreamClient is the subset of the Redis client used by RedisSink.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
}

// RedisSink appends events to a capped Redis stream. Redis assigns entry
// ids; the "ts" field is the event time.
type RedisSink struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisSink creates a sink. maxLen <= 0 leaves the stream uncapped.
func NewRedisSink(client StreamClient, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient connects to addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisSink) Track(ctx context.Context, e Event) error {
	props, err := json.Marshal(e.Props)
	if err != nil {
		return fmt.Errorf("failed to encode event props: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: map[string]any{
			"event":   string(e.Name),
			"user_id": e.UserID,
			"expert":  e.Expert,
			"props":   string(props),
			"ts":      e.At.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *RedisSink) Events(ctx context.Context, since time.Time) ([]Event, error) {
	start := since.Add(-MaxClockSkew).UnixMilli()
	if start < 0 {
		start = 0
	}
	msgs, err := s.client.XRange(ctx, s.stream, strconv.FormatInt(start, 10), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := decode(m)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", m.ID, err)
		}
		if e.At.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func decode(m redis.XMessage) (Event, error) {
	str := func(k string) string {
		s, _ := m.Values[k].(string)
		return s
	}
	e := Event{
		Name:   Name(str("event")),
		UserID: str("user_id"),
		Expert: str("expert"),
	}
	at, err := time.Parse(time.RFC3339Nano, str("ts"))
	if err != nil {
		return Event{}, err
	}
	e.At = at
	if p := str("props"); p != "" && p != "null" {
		if err := json.Unmarshal([]byte(p), &e.Props); err != nil {
			return Event{}, err
		}
	}
	return e, nil
}
