package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(logs io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withApp(cmd, logs, true, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	dispatcher, err := a.dispatcher(a.governor)
	if err != nil {
		return err
	}
	srv := api.NewServer(api.Deps{
		Runner:       dispatcher,
		Experts:      a.registry,
		Entitlements: a.governor,
		Events:       a.source,
		SLO:          a.slo,
		Assets:       a.assets,
		Localizer:    a.localizer,
		Media:        a.media,
		Logger:       a.logger,
	})
	handler := api.Chain(srv.Routes(),
		api.RequestIDMiddleware,
		api.LoggingMiddleware(a.logger),
		api.NewRateLimiter(ctx, a.cfg.RateLimitRPS, a.cfg.RateLimitBurst).Middleware,
		api.IdempotencyMiddleware(api.NewIdempotencyStore(ctx, 24*time.Hour)),
	)

	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Writers may call a language model.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr, "store", a.cfg.StoreDriver, "media", string(a.cfg.Media.Type))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
