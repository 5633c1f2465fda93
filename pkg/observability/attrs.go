package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

// Dispatcher attributes.
var (
	AttrUserID    = attribute.Key("astro.user.id")
	AttrExpert    = attribute.Key("astro.expert")
	AttrVersion   = attribute.Key("astro.expert.version")
	AttrStage     = attribute.Key("astro.pipeline.stage")
	AttrVerified  = attribute.Key("astro.writer.verified")
	AttrMissing   = attribute.Key("astro.writer.missing_facts")
	AttrCost      = attribute.Key("astro.quota.cost")
	AttrOutcome   = attribute.Key("astro.quota.outcome")
	AttrErrorKind = attribute.Key("error.type")
)

// OutcomeAdmitted labels a successful quota consume.
const OutcomeAdmitted = "admitted"

// Reading identifies the request a span or sample belongs to. UserID is a
// span attribute only; metrics are labelled by expert and version.
type Reading struct {
	UserID  string
	Expert  string
	Version string
}

func (r Reading) spanAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		AttrUserID.String(r.UserID),
		AttrExpert.String(r.Expert),
		AttrVersion.String(r.Version),
	}, extra...)
}

func (r Reading) metricSet(extra ...attribute.KeyValue) attribute.Set {
	return attribute.NewSet(append([]attribute.KeyValue{
		AttrExpert.String(r.Expert),
		AttrVersion.String(r.Version),
	}, extra...)...)
}

// ErrorKind maps a dispatcher error to a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, seed.ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, form.ErrValidation):
		return "validation"
	case errors.Is(err, quota.ErrNoEntitlement):
		return "no_entitlement"
	case errors.Is(err, quota.ErrInsufficientQuota):
		return "insufficient_quota"
	case errors.Is(err, quota.ErrTooFrequent):
		return "too_frequent"
	case errors.Is(err, quota.ErrDailyCapExceeded):
		return "daily_cap"
	case errors.Is(err, quota.ErrParallelismExceeded):
		return "in_flight"
	case errors.Is(err, quota.ErrInvalidCost):
		return "invalid_cost"
	default:
		return "internal"
	}
}
