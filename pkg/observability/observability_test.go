package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

type recorder struct {
	p      *Provider
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	return &recorder{p: p, spans: spans, reader: reader}
}

func (r *recorder) metric(t *testing.T, name string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return nil
}

func sumByAttr(t *testing.T, data metricdata.Aggregation, key attribute.Key) map[string]int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected aggregation %T", data)
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.Emit()] += dp.Value
	}
	return out
}

var tarot = Reading{UserID: "42", Expert: "tarot", Version: "1.2.0"}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, ServiceName, config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNew_DisabledConfig(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	ctx, finish := p.TrackStage(context.Background(), tarot, "compose")
	require.NotNil(t, ctx)
	finish(errors.New("boom"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackStage(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	_, finish := r.p.TrackStage(ctx, tarot, "compose")
	finish(nil)
	_, finish = r.p.TrackStage(ctx, tarot, "prepare")
	finish(&form.ValidationError{Field: "spread_id", Err: seed.ErrInsufficientPool})

	hist, ok := r.metric(t, MetricStageDuration).(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 2)
	for _, dp := range hist.DataPoints {
		assert.Equal(t, uint64(1), dp.Count)
		_, hasUser := dp.Attributes.Value(AttrUserID)
		assert.False(t, hasUser, "user ids must not label metrics")
		v, _ := dp.Attributes.Value(AttrExpert)
		assert.Equal(t, "tarot", v.AsString())
	}

	failures := sumByAttr(t, r.metric(t, MetricStageFailures), AttrErrorKind)
	assert.Equal(t, map[string]int64{"insufficient_pool": 1}, failures)

	inFlight := sumByAttr(t, r.metric(t, MetricInFlight), AttrStage)
	assert.Equal(t, int64(0), inFlight["compose"])
	assert.Equal(t, int64(0), inFlight["prepare"])

	spans := r.spans.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pipeline.compose", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), AttrUserID.String("42"))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTrackStage_InFlightWhileRunning(t *testing.T) {
	r := newRecorder(t)
	_, finish := r.p.TrackStage(context.Background(), tarot, "write")

	inFlight := sumByAttr(t, r.metric(t, MetricInFlight), AttrStage)
	assert.Equal(t, int64(1), inFlight["write"])

	finish(nil)
	inFlight = sumByAttr(t, r.metric(t, MetricInFlight), AttrStage)
	assert.Equal(t, int64(0), inFlight["write"])
}

func TestTrackConsume(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	for _, err := range []error{
		nil,
		nil,
		&quota.FloodError{},
		quota.ErrNoEntitlement,
		fmt.Errorf("consume: %w", quota.ErrDailyCapExceeded),
	} {
		_, finish := r.p.TrackConsume(ctx, tarot, 1)
		finish(err)
	}

	outcomes := sumByAttr(t, r.metric(t, MetricAdmissions), AttrOutcome)
	assert.Equal(t, map[string]int64{
		OutcomeAdmitted:  2,
		"too_frequent":   1,
		"no_entitlement": 1,
		"daily_cap":      1,
	}, outcomes)

	spans := r.spans.Ended()
	require.Len(t, spans, 5)
	assert.Equal(t, "quota.consume", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), AttrCost.Int(1))
}

func TestRecordVerification(t *testing.T) {
	r := newRecorder(t)
	ctx, finish := r.p.TrackStage(context.Background(), tarot, "verify")
	r.p.RecordVerification(ctx, tarot, true, 0)
	r.p.RecordVerification(ctx, tarot, false, 2)
	finish(nil)

	counts := sumByAttr(t, r.metric(t, MetricVerifications), AttrVerified)
	assert.Equal(t, map[string]int64{"true": 1, "false": 1}, counts)

	spans := r.spans.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 2)
	assert.Equal(t, "writer.verified", events[1].Name)
	assert.Contains(t, events[1].Attributes, AttrMissing.Int(2))
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "canceled"},
		{fmt.Errorf("write: %w", context.DeadlineExceeded), "deadline"},
		{form.Invalid("name", "required"), "validation"},
		{quota.ErrInsufficientQuota, "insufficient_quota"},
		{quota.ErrParallelismExceeded, "in_flight"},
		{quota.ErrInvalidCost, "invalid_cost"},
		{errors.New("disk full"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}
