// Package pipeline runs an expert end to end: form validation, quota
// admission, then the prepare, compose, write and verify stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/compose"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/facts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/form"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/media"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/observability"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/telemetry"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// Resolver picks the expert build that serves a user.
type Resolver interface {
	GetForUser(kind experts.Kind, userID string) (experts.Expert, error)
}

// Admitter charges a user for a run.
type Admitter interface {
	Consume(ctx context.Context, userID, expert string, cost int) (*quota.Receipt, error)
}

// Request is one reading request.
type Request struct {
	UserID string
	Expert experts.Kind
	Locale string
	// Date is the logical date; zero means today in the dispatcher's
	// location.
	Date   time.Time
	Nonce  int
	Values map[string]any
}

// Result is a finished or failed run. Stage is the last stage entered.
type Result struct {
	Expert       experts.Kind   `json:"expert"`
	Version      string         `json:"version"`
	Stage        Stage          `json:"stage"`
	Locale       string         `json:"locale"`
	Output       *writer.Output `json:"output,omitempty"`
	Verification writer.Result  `json:"verification"`
	Facts        facts.Facts    `json:"facts"`
	Draws        []experts.Draw `json:"draws,omitempty"`
	// MediaRef is set when a media store is configured, Media otherwise.
	MediaRef    string         `json:"media_ref,omitempty"`
	Media       *compose.Media `json:"-"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Receipt     *quota.Receipt `json:"receipt,omitempty"`
	CTA         []string       `json:"cta,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
}

// Options configure a Dispatcher. Nil collaborators are skipped, except
// Validator and Localizer which take defaults.
type Options struct {
	Governor      Admitter
	Media         media.Store
	Events        telemetry.Sink
	Observability *observability.Provider
	SLO           *observability.SLOTracker
	Validator     *form.Validator
	Localizer     *i18n.Localizer
	Clock         quota.Clock
	// Location defines the logical date of requests without one.
	Location *time.Location
	Logger   *slog.Logger
}

// Dispatcher runs requests. It is safe for concurrent use.
type Dispatcher struct {
	resolver Resolver
	opts     Options
	logger   *slog.Logger
}

func NewDispatcher(resolver Resolver, opts Options) (*Dispatcher, error) {
	if resolver == nil {
		return nil, errors.New("pipeline: resolver is required")
	}
	if opts.Validator == nil {
		v, err := form.NewValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Localizer == nil {
		opts.Localizer = i18n.Default()
	}
	if opts.Observability == nil {
		opts.Observability = observability.Disabled()
	}
	if opts.Clock == nil {
		opts.Clock = quota.SystemClock
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		resolver: resolver,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}, nil
}

// Run executes INIT, FORM, PREPARE, COMPOSE, WRITE, VERIFY and DONE in
// order. The user is charged between FORM and PREPARE, so invalid input
// costs nothing. On failure the returned Result records the stage that
// failed and the error is returned unchanged. An unverified answer is not
// a failure: it is reported in Result.Verification.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	locale := d.opts.Localizer.Match(req.Locale)
	res := &Result{Expert: req.Expert, Stage: StageInit, Locale: locale}
	defer func() { res.Duration = time.Since(started) }()

	e, err := d.resolver.GetForUser(req.Expert, req.UserID)
	if err != nil {
		return res, err
	}
	res.Version = e.Version()
	logger := d.logger.With("user_id", req.UserID, "expert", string(e.ID()), "version", e.Version())
	d.emit(ctx, telemetry.EventStart, req.UserID, e, nil)

	var values map[string]any
	err = d.stage(ctx, res, e, req.UserID, StageForm, func(context.Context) error {
		fields := e.Form(locale)
		formID := fmt.Sprintf("%s@%s/%s", e.ID(), e.Version(), locale)
		var err error
		values, err = d.opts.Validator.Validate(formID, fields, req.Values)
		return err
	})
	if err != nil {
		logger.InfoContext(ctx, "form rejected", "error", err)
		return res, err
	}
	d.emit(ctx, telemetry.EventFormStep, req.UserID, e, map[string]any{"fields": len(values)})

	if err := d.admit(ctx, res, e, req.UserID); err != nil {
		logger.InfoContext(ctx, "admission rejected", "error", err)
		return res, err
	}

	date := req.Date
	if date.IsZero() {
		date = d.opts.Clock.Now().In(d.opts.Location)
	}
	in := experts.Input{
		UserID: req.UserID,
		Date:   date,
		Nonce:  req.Nonce,
		Locale: locale,
		Values: values,
	}

	var prepared *experts.Prepared
	d.emit(ctx, telemetry.EventDrawStarted, req.UserID, e, map[string]any{"nonce": req.Nonce})
	err = d.stage(ctx, res, e, req.UserID, StagePrepare, func(ctx context.Context) error {
		var err error
		prepared, err = e.Prepare(ctx, in)
		return err
	})
	if err != nil {
		logger.InfoContext(ctx, "prepare failed", "error", err)
		return res, err
	}
	res.Draws = prepared.Draws

	var c *experts.Composition
	err = d.stage(ctx, res, e, req.UserID, StageCompose, func(ctx context.Context) error {
		var err error
		if c, err = e.Compose(ctx, prepared); err != nil {
			return err
		}
		return d.store(ctx, res, c)
	})
	if err != nil {
		logger.WarnContext(ctx, "compose failed", "error", err)
		return res, err
	}
	res.Facts = c.Facts

	writeStart := time.Now()
	err = d.stage(ctx, res, e, req.UserID, StageWrite, func(ctx context.Context) error {
		var err error
		res.Output, err = e.Write(ctx, c)
		return err
	})
	if err != nil {
		logger.WarnContext(ctx, "write failed", "error", err)
		return res, err
	}
	d.emit(ctx, telemetry.EventWriterOK, req.UserID, e, map[string]any{
		"duration_ms": time.Since(writeStart).Milliseconds(),
	})

	err = d.stage(ctx, res, e, req.UserID, StageVerify, func(ctx context.Context) error {
		res.Verification = e.Verify(c, res.Output)
		d.opts.Observability.RecordVerification(ctx, reading(e, req.UserID), res.Verification.OK, len(res.Verification.Diffs))
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Verification.OK {
		d.emit(ctx, telemetry.EventVerifierOK, req.UserID, e, nil)
	} else {
		diffs := make([]string, len(res.Verification.Diffs))
		for i, diff := range res.Verification.Diffs {
			diffs[i] = diff.Path
		}
		d.emit(ctx, telemetry.EventVerifierFail, req.UserID, e, map[string]any{"diffs": diffs})
		logger.WarnContext(ctx, "answer not verified", "missing", diffs)
	}

	if res.Fingerprint, err = Fingerprint(e, c, res.MediaRef); err != nil {
		return res, err
	}
	res.CTA = e.CTA(locale)
	res.Stage = StageDone
	logger.InfoContext(ctx, "reading done", "fingerprint", res.Fingerprint, "verified", res.Verification.OK)
	return res, nil
}

// stage enters s and runs fn under a span. Cancellation is checked first.
func (d *Dispatcher) stage(ctx context.Context, res *Result, e experts.Expert, userID string, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Stage = s
	ctx, finish := d.opts.Observability.TrackStage(ctx, reading(e, userID), s.operation())
	start := time.Now()
	err := fn(ctx)
	finish(err)

	if d.opts.SLO != nil {
		ok := err == nil
		if s == StageVerify {
			ok = ok && res.Verification.OK
		}
		d.opts.SLO.Record(observability.SLOObservation{
			Operation: s.operation(),
			Latency:   time.Since(start),
			Success:   ok,
		})
	}
	return err
}

func reading(e experts.Expert, userID string) observability.Reading {
	return observability.Reading{UserID: userID, Expert: string(e.ID()), Version: e.Version()}
}

func (d *Dispatcher) admit(ctx context.Context, res *Result, e experts.Expert, userID string) error {
	if d.opts.Governor == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, finish := d.opts.Observability.TrackConsume(ctx, reading(e, userID), e.Cost())
	receipt, err := d.opts.Governor.Consume(ctx, userID, string(e.ID()), e.Cost())
	finish(err)
	if err != nil {
		return err
	}
	res.Receipt = receipt
	d.emit(ctx, telemetry.EventQuotaSpent, userID, e, map[string]any{
		"cost":       e.Cost(),
		"quota_left": receipt.QuotaLeft,
		"unlimited":  receipt.Unlimited,
	})
	return nil
}

func (d *Dispatcher) store(ctx context.Context, res *Result, c *experts.Composition) error {
	if c.Media == nil {
		return nil
	}
	if d.opts.Media == nil {
		res.Media = c.Media
		return nil
	}
	ref, err := d.opts.Media.Put(ctx, c.Media.Data, c.Media.ContentType)
	if err != nil {
		return fmt.Errorf("store media: %w", err)
	}
	res.MediaRef = ref
	return nil
}

// emit records an event. Sink failures are logged, never returned.
func (d *Dispatcher) emit(ctx context.Context, name telemetry.Name, userID string, e experts.Expert, props map[string]any) {
	if d.opts.Events == nil {
		return
	}
	ev := telemetry.Event{
		Name:   name,
		UserID: userID,
		Expert: string(e.ID()),
		Props:  props,
		At:     d.opts.Clock.Now(),
	}
	if err := d.opts.Events.Track(ctx, ev); err != nil {
		d.logger.WarnContext(ctx, "failed to record event", "event", string(name), "error", err)
	}
}
