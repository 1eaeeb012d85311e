// Package config loads crashcounter settings.
//
// Settings come from built-in defaults, then an optional YAML file, then
// command-line flags. Credentials never live here; they are read from the
// environment through the secret package.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"crashcounter/internal/domain"
	"crashcounter/internal/etl"
	"crashcounter/internal/logging"
)

// Config is the full runtime configuration.
type Config struct {
	Store    domain.DatabaseConnection `yaml:"store"`
	Remote   Remote                    `yaml:"remote"`
	Sweep    Sweep                     `yaml:"sweep"`
	State    State                     `yaml:"state"`
	Metrics  Metrics                   `yaml:"metrics"`
	Airflow  Airflow                   `yaml:"airflow"`
	LogLevel string                    `yaml:"log_level"`
}

// Remote configures the Socrata paginator.
type Remote struct {
	// BaseURL replaces the resource root of every dataset endpoint.
	BaseURL  string        `yaml:"base_url"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// Sweep configures refresh runs.
type Sweep struct {
	MaxPages  int    `yaml:"max_pages"`
	KeepGoing bool   `yaml:"keep_going"`
	Schedule  string `yaml:"schedule"` // cron expression used by `schedule`
}

// State locates the local run-history database.
type State struct {
	Path string `yaml:"path"`
}

// Metrics configures the Prometheus endpoint served by `schedule`.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Airflow configures the `trigger` command.
type Airflow struct {
	URL     string        `yaml:"url"`
	DagID   string        `yaml:"dag_id"`
	Timeout time.Duration `yaml:"timeout"`
}

const (
	DefaultStoreHost = "crashcounter-db"
	DefaultStorePort = 5432
	DefaultSchedule  = "@daily"
	DefaultStatePath = "crashcounter-state.db"
	DefaultMetrics   = ":9090"
	DefaultAirflow   = "http://localhost:8082"
	DefaultDagID     = "refresh_nyc_opendata"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: domain.DatabaseConnection{
			Driver: domain.DatabaseDriverPostgres,
			Host:   DefaultStoreHost,
			Port:   DefaultStorePort,
		},
		Remote: Remote{
			BaseURL:  etl.DefaultBaseURL,
			PageSize: etl.DefaultPageSize,
		},
		Sweep: Sweep{
			MaxPages: etl.DefaultMaxPages,
			Schedule: DefaultSchedule,
		},
		State:   State{Path: DefaultStatePath},
		Metrics: Metrics{Addr: DefaultMetrics},
		Airflow: Airflow{
			URL:     DefaultAirflow,
			DagID:   DefaultDagID,
			Timeout: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be acted on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := domain.ParseDatabaseDriver(string(c.Store.Driver)); err != nil {
		errs = append(errs, fmt.Errorf("store.driver: %w", err))
	}
	if c.Store.Host == "" {
		errs = append(errs, errors.New("store.host: required (file path for sqlite)"))
	}
	if c.Store.Port < 0 || c.Store.Port > 65535 {
		errs = append(errs, fmt.Errorf("store.port: %d out of range", c.Store.Port))
	}

	if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.base_url: %q is not an absolute URL", c.Remote.BaseURL))
	}
	if c.Remote.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("remote.page_size: must be positive, got %d", c.Remote.PageSize))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, fmt.Errorf("remote.timeout: must not be negative, got %s", c.Remote.Timeout))
	}
	if c.Remote.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("remote.rate_limit: must not be negative, got %g", c.Remote.RateLimit))
	}

	if c.Sweep.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("sweep.max_pages: must be positive, got %d", c.Sweep.MaxPages))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep.schedule: %w", err))
	}

	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path: required"))
	}
	if c.Airflow.Timeout < 0 {
		errs = append(errs, fmt.Errorf("airflow.timeout: must not be negative, got %s", c.Airflow.Timeout))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// Datasets returns the built-in descriptors, re-rooted on Remote.BaseURL
// when it differs from the public NYC Open Data root.
func (c *Config) Datasets() []*etl.Descriptor {
	ds := etl.Datasets()
	if c.Remote.BaseURL == "" || c.Remote.BaseURL == etl.DefaultBaseURL {
		return ds
	}
	out := make([]*etl.Descriptor, len(ds))
	for i, d := range ds {
		out[i] = d.WithEndpoint(c.Remote.BaseURL + d.Endpoint[len(etl.DefaultBaseURL):])
	}
	return out
}
