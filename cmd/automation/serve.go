package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/api"
	"github.com/deepnoodle-ai/automation/sources/pgnotify"
	"github.com/deepnoodle-ai/automation/sources/redisstream"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, delay scheduler, and event sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	server, err := api.NewServer(api.Options{Service: a.service, Logger: a.logger})
	if err != nil {
		return err
	}
	sources, closeSources, err := buildSources(a)
	if err != nil {
		return err
	}
	defer closeSources()

	httpServer := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Paths whose delay elapsed while the process was down resume first.
	if n, err := a.engine.ResumeDue(runCtx); err != nil {
		a.logger.Error("failed to resume delayed paths", "error", err)
	} else if n > 0 {
		a.logger.Info("resumed delayed paths", "count", n)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.engine.RunScheduler(runCtx, a.cfg.Scheduler.Interval); err != nil && runCtx.Err() == nil {
			errs <- err
		}
	}()
	if len(sources) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.service.Dispatcher().Run(runCtx, sources...); err != nil {
				errs <- err
			}
		}()
	}
	go func() {
		a.logger.Info("server starting", "address", httpServer.Addr, "store", a.cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	color.Green("Listening on %s", httpServer.Addr)

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr = <-errs:
		a.logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", "error", err)
		httpServer.Close()
	}
	cancel()
	wg.Wait()

	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("server stopped gracefully")
	case <-shutdownCtx.Done():
		a.logger.Warn("executions still running at shutdown")
	}
	return serveErr
}

func buildSources(a *app) ([]automation.EventSource, func(), error) {
	var (
		sources []automation.EventSource
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if cfg := a.cfg.Sources.Redis; cfg.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		closers = append(closers, func() { client.Close() })
		source, err := redisstream.New(redisstream.Options{
			Client: client,
			Stream: cfg.Stream,
			Group:  cfg.Group,
			Logger: a.logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sources = append(sources, source)
	}
	if cfg := a.cfg.Sources.Postgres; cfg.DSN != "" {
		source, err := pgnotify.New(pgnotify.Options{
			DSN:     cfg.DSN,
			Channel: cfg.Channel,
			Logger:  a.logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sources = append(sources, source)
	}
	return sources, closeAll, nil
}
