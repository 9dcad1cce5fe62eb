package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/config"
	"github.com/deepnoodle-ai/automation/nodes"
	"github.com/deepnoodle-ai/automation/postgres"
	"golang.org/x/time/rate"
)

// app is the wired set of components shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   automation.Store
	engine  *automation.Engine
	service *automation.Service
	close   func()
}

func loadConfig(flags *rootFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := automation.NewLoggerWithOptions(os.Stderr, cfg.Log.Format, automation.ParseLevel(level))
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config) (automation.Store, func(), error) {
	switch cfg.Store.Driver {
	case "file":
		store, err := automation.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory", "":
		return automation.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newRegistry builds the node registry. Without SMTP or CRM settings the
// log mailer and in-memory CRM are used.
func newRegistry(cfg *config.Config, logger *slog.Logger) (*automation.Registry, error) {
	opts := nodes.Options{
		HTTPTimeout: cfg.HTTP.Timeout,
	}
	if cfg.HTTP.RateLimit > 0 {
		opts.HTTPLimiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimit), max(cfg.HTTP.Burst, 1))
	}
	if cfg.SMTP.Host != "" {
		mailer, err := nodes.NewSMTPMailer(nodes.SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, err
		}
		opts.Mailer = mailer
	} else {
		logger.Warn("smtp not configured, emails are only logged")
	}
	if cfg.CRM.BaseURL != "" {
		client, err := nodes.NewCRMClient(nodes.CRMClientOptions{
			BaseURL: cfg.CRM.BaseURL,
			Token:   cfg.CRM.Token,
			Timeout: cfg.CRM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts.CRM = client
		opts.Tasks = client
	} else {
		logger.Warn("crm not configured, using an in-memory crm")
	}
	return nodes.NewRegistry(opts), nil
}

func newApp(cfg *config.Config, logger *slog.Logger, store automation.Store, closeStore func()) (*app, error) {
	registry, err := newRegistry(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	telemetry, err := automation.NewTelemetryCallbacks(nil)
	if err != nil {
		closeStore()
		return nil, err
	}
	engine, err := automation.NewEngine(automation.EngineOptions{
		Registry:  registry,
		Store:     store,
		Logger:    logger,
		Callbacks: telemetry,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	service, err := automation.NewService(automation.ServiceOptions{
		Store:          store,
		Engine:         engine,
		Logger:         logger,
		WebhookBaseURL: cfg.Server.BaseURL,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		engine:  engine,
		service: service,
		close:   closeStore,
	}, nil
}

// openApp loads configuration and wires the configured store.
func openApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger, store, closeStore)
}
