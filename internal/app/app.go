package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crashcounter/internal/config"
	"crashcounter/internal/dbclient"
	"crashcounter/internal/etl"
	"crashcounter/internal/etl/sources"
	"crashcounter/internal/metrics"
	"crashcounter/internal/secret"
	"crashcounter/internal/service"
	"crashcounter/internal/storage"
)

// App wires configuration, secrets, the mirror store, the state DB and the
// refresh service together. Commands open only the parts they need.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	secrets  secret.SecretStore
	registry *prometheus.Registry
	metrics  *metrics.RefreshMetrics

	state   *storage.DB
	runs    *storage.RunStore
	store   *dbclient.SQLStore
	engine  *etl.Engine
	refresh *service.RefreshService
}

// New creates a new App. Nothing is opened until Startup or a command
// that needs the state DB.
func New(cfg *config.Config, logger *zap.Logger, secrets secret.SecretStore) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		cfg:      cfg,
		logger:   logger,
		secrets:  secrets,
		registry: reg,
		metrics:  metrics.NewRefreshMetrics(reg),
	}
}

// Startup opens the state DB and the mirror store and builds the refresh
// service.
func (a *App) Startup(ctx context.Context) error {
	if err := a.openState(); err != nil {
		return err
	}
	n, err := a.runs.MarkOrphaned(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Warn("closed out runs of exited processes", zap.Int64("runs", n))
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}

	paginator, err := a.newPaginator()
	if err != nil {
		return err
	}
	a.engine = &etl.Engine{
		Source:   paginator,
		Dest:     a.store,
		MaxPages: a.cfg.Sweep.MaxPages,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}
	a.refresh = service.NewRefreshService(a.engine, a.runs, a.logger)
	return nil
}

// openState opens the run-history database. It never changes stored runs.
func (a *App) openState() error {
	if a.state != nil {
		return nil
	}
	db, err := storage.New(a.cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	a.state = db
	a.runs = storage.NewRunStore(db)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	conn := a.cfg.Store
	var password string
	if conn.Driver.NeedsCredentials() {
		creds, err := secret.RequireAll(a.secrets, secret.DBUser, secret.DBPassword, secret.DBName)
		if err != nil {
			return err
		}
		conn.Username = creds[secret.DBUser]
		conn.Database = creds[secret.DBName]
		password = creds[secret.DBPassword]
	}

	store, err := dbclient.Open(&conn, password, a.logger)
	if err != nil {
		return err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return fmt.Errorf("connect to %s store at %s: %w", conn.Driver, conn.Host, err)
	}
	a.store = store
	a.logger.Info("store connected",
		zap.String("driver", string(conn.Driver)),
		zap.String("host", conn.Host))
	return nil
}

func (a *App) newPaginator() (*sources.Paginator, error) {
	token, err := secret.Optional(a.secrets, secret.SocrataAppToken)
	if err != nil {
		return nil, err
	}
	opts := []sources.Option{
		sources.WithPageSize(a.cfg.Remote.PageSize),
		sources.WithRateLimit(a.cfg.Remote.RateLimit),
		sources.WithLogger(a.logger),
	}
	if a.cfg.Remote.Timeout > 0 {
		opts = append(opts, sources.WithHTTPClient(&http.Client{Timeout: a.cfg.Remote.Timeout}))
	}
	if token != "" {
		opts = append(opts, sources.WithAppToken(token))
	}
	return sources.NewPaginator(opts...), nil
}

// MetricsHandler serves the App's Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Shutdown stops the schedule, waits for running refreshes until ctx is
// done and closes everything that was opened.
func (a *App) Shutdown(ctx context.Context) error {
	if a.refresh != nil {
		a.refresh.Stop()
		a.refresh.WaitRunning(ctx)
	}
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
		a.state = nil
	}
	return errors.Join(errs...)
}
