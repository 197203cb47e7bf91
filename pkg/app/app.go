package app

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/config"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/services"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/logging"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
)

// App is the wired referral engine shared by the server, the Vercel entrypoint and the CLI
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Repo      *sqlite.SQLiteRepository
	Service   *services.ReferralService
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	refresher *services.StatsRefresher
}

type Option func(*options)

type options struct {
	background bool
}

// WithBackgroundStats rebuilds stats on a worker goroutine instead of inline
func WithBackgroundStats() Option {
	return func(o *options) { o.background = true }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(logging.Options{
		Production: cfg.IsProduction(),
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("referral policy: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.TrustedProxyNets(); err != nil {
		return nil, err
	}

	repo, err := sqlite.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Repo:     repo,
		Metrics:  m,
		Registry: reg,
	}

	svcOpts := []services.Option{
		services.WithPolicy(policy),
		services.WithLocation(loc),
		services.WithMetrics(m),
		services.WithLogger(logger),
	}
	if o.background {
		a.refresher = services.NewStatsRefresher(cfg.StatsQueueSize, logger.Named("stats"), m)
		svcOpts = append(svcOpts, services.WithStatsTrigger(a.refresher))
	}
	a.Service = services.NewReferralService(repo, repo, repo, svcOpts...)
	if a.refresher != nil {
		a.refresher.Start(a.Service)
	}
	return a, nil
}

func (a *App) Handler() http.Handler {
	return handler.NewRouter(a.Config, handler.Deps{
		Service:  a.Service,
		Accounts: a.Repo,
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
		Logger:   a.Logger,
	})
}

// Close drains pending stats rebuilds, then closes the database
func (a *App) Close() error {
	if a.refresher != nil {
		a.refresher.Close()
	}
	_ = a.Logger.Sync()
	return a.Repo.Close()
}
