// Package config loads server configuration from a YAML file and
// AUTOMATION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the automation server.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		BaseURL         string        `mapstructure:"base_url"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Store struct {
		// Driver is one of memory, file, or postgres.
		Driver string `mapstructure:"driver"`
		Dir    string `mapstructure:"dir"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`
	Scheduler struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"scheduler"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	CRM struct {
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"crm"`
	HTTP struct {
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit float64       `mapstructure:"rate_limit"`
		Burst     int           `mapstructure:"burst"`
	} `mapstructure:"http"`
	Sources struct {
		Redis struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Stream   string `mapstructure:"stream"`
			Group    string `mapstructure:"group"`
		} `mapstructure:"redis"`
		Postgres struct {
			DSN     string `mapstructure:"dsn"`
			Channel string `mapstructure:"channel"`
		} `mapstructure:"postgres"`
	} `mapstructure:"sources"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dir", "./data")
	v.SetDefault("store.dsn", "")
	v.SetDefault("scheduler.interval", 15*time.Second)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.token", "")
	v.SetDefault("crm.timeout", 15*time.Second)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.burst", 10)
	v.SetDefault("sources.redis.addr", "")
	v.SetDefault("sources.redis.password", "")
	v.SetDefault("sources.redis.db", 0)
	v.SetDefault("sources.redis.stream", "crm-events")
	v.SetDefault("sources.redis.group", "automation")
	v.SetDefault("sources.postgres.dsn", "")
	v.SetDefault("sources.postgres.channel", "crm_events")
}

// Load reads the configuration. An empty path searches for automation.yaml
// in the working directory and ./config; a missing file is not an error in
// that case. Environment variables override file values, for example
// AUTOMATION_STORE_DRIVER for store.driver.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AUTOMATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("automation")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.Dir == "" {
			return errors.New("store.dir is required for the file store")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("smtp.from is required when smtp.host is set")
	}
	return nil
}
