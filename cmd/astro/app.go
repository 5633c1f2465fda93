package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/assets"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/config"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/i18n"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/llm"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/media"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/observability"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/pipeline"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/registry"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/telemetry"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/writer"
)

// app holds the wired collaborators of one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	localizer *i18n.Localizer
	assets    *assets.Catalog
	registry  *registry.InMemoryRegistry
	governor  *quota.Governor
	media     media.Store
	events    telemetry.Sink
	source    telemetry.Source
	obs       *observability.Provider
	slo       *observability.SLOTracker

	closers []func(context.Context) error
}

// wireApp builds the collaborators described by cfg. Media storage and
// trace exporters are only set up for serving; one-shot commands return
// media inline.
func wireApp(ctx context.Context, cfg *config.Config, logs io.Writer, serving bool) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: cfg.NewLogger(logs),
		slo:    observability.NewDefaultSLOTracker(),
		obs:    observability.Disabled(),
	}
	slog.SetDefault(a.logger)

	var err error
	if a.localizer, err = cfg.Localizer(); err != nil {
		return nil, err
	}
	if cfg.AssetsDir != "" {
		a.assets, err = assets.LoadDir(cfg.AssetsDir)
	} else {
		a.assets, err = assets.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	env := experts.Env{
		Assets:      a.assets,
		Localizer:   a.localizer,
		MaxAttempts: cfg.WriterAttempts,
	}
	if cfg.LLMEnabled() {
		client := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		env.Phraser = writer.NewLLMGenerator(client, writer.NewComposer(a.localizer))
		a.logger.Info("llm phrasing enabled", "model", cfg.LLMModel)
	}
	if a.registry, err = registry.NewDefault(env); err != nil {
		return nil, err
	}

	if err := a.wireQuota(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.wireEvents(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if serving {
		if err := a.wireMedia(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		if err := a.wireObservability(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *app) wireQuota(ctx context.Context) error {
	opts, err := a.cfg.GovernorOptions()
	if err != nil {
		return err
	}
	opts.Logger = a.logger

	var store quota.Store
	switch a.cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("DB ping failed: %w", err)
		}
		pg := quota.NewPostgresStore(db)
		if err := pg.Init(ctx); err != nil {
			return err
		}
		store = pg
		a.logger.Info("postgres: connected")
	case config.DriverSQLite:
		lite, err := quota.OpenSQLite(a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return lite.Close() })
		store = lite
		a.logger.Info("lite mode: using sqlite", "path", a.cfg.DatabaseURL)
	default:
		store = quota.NewMemoryStore()
		a.logger.Warn("entitlements are kept in memory and lost on restart")
	}

	a.governor = quota.NewGovernor(store, opts)
	return nil
}

func (a *app) wireEvents(ctx context.Context) error {
	logSink := telemetry.NewLogSink(a.logger)
	if a.cfg.RedisAddr == "" {
		mem := telemetry.NewMemorySink()
		a.events, a.source = telemetry.Tee{mem, logSink}, mem
		return nil
	}
	client := telemetry.NewRedisClient(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	sink := telemetry.NewRedisSink(client, a.cfg.EventStream, a.cfg.EventMaxLen)
	a.events, a.source = telemetry.Tee{sink, logSink}, sink
	a.logger.Info("redis: connected", "stream", a.cfg.EventStream)
	return nil
}

func (a *app) wireMedia(ctx context.Context) error {
	store, err := media.NewStore(ctx, a.cfg.Media)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
	a.media = store
	return nil
}

func (a *app) wireObservability(ctx context.Context) error {
	if a.cfg.OTLPEndpoint == "" {
		return nil
	}
	oc := observability.DefaultConfig()
	oc.ServiceVersion = experts.Version
	oc.Environment = a.cfg.Environment
	oc.OTLPEndpoint = a.cfg.OTLPEndpoint
	oc.Insecure = a.cfg.OTLPInsecure
	oc.Enabled = true
	p, err := observability.New(ctx, oc)
	if err != nil {
		return err
	}
	a.obs = p
	a.closers = append(a.closers, p.Shutdown)
	return nil
}

// dispatcher builds a pipeline over the wired collaborators. A nil
// governor runs readings without charging.
func (a *app) dispatcher(governor pipeline.Admitter) (*pipeline.Dispatcher, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return pipeline.NewDispatcher(a.registry, pipeline.Options{
		Governor:      governor,
		Media:         a.media,
		Events:        a.events,
		Observability: a.obs,
		SLO:           a.slo,
		Localizer:     a.localizer,
		Location:      loc,
		Logger:        a.logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
