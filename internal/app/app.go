// Package app assembles the catalog, brokers, notifiers and jobs from
// configuration. The server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/broker/alerce"
	"github.com/linnemanlabs/sdtom/internal/broker/lasair"
	"github.com/linnemanlabs/sdtom/internal/broker/mars"
	"github.com/linnemanlabs/sdtom/internal/cache"
	"github.com/linnemanlabs/sdtom/internal/cache/memcache"
	"github.com/linnemanlabs/sdtom/internal/cache/pgcache"
	"github.com/linnemanlabs/sdtom/internal/catalog"
	"github.com/linnemanlabs/sdtom/internal/catalog/memstore"
	"github.com/linnemanlabs/sdtom/internal/catalog/pgstore"
	"github.com/linnemanlabs/sdtom/internal/cfg"
	"github.com/linnemanlabs/sdtom/internal/jobs"
	"github.com/linnemanlabs/sdtom/internal/notify/natsbus"
	"github.com/linnemanlabs/sdtom/internal/notify/slack"
	"github.com/linnemanlabs/sdtom/internal/postgres"
	"github.com/linnemanlabs/sdtom/internal/queryseed"
	"github.com/linnemanlabs/sdtom/internal/tns"
)

// App is a wired jobs service and runner. Close releases its connections.
type App struct {
	Service *jobs.Service
	Runner  *jobs.Runner
	Store   catalog.Store
	Cache   cache.Cache

	closers []func()
}

// Build wires an App from c. A nil reg disables metrics.
func Build(ctx context.Context, c *cfg.Config, logger log.Logger, reg prometheus.Registerer) (_ *App, err error) {
	if logger == nil {
		logger = log.Nop()
	}
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx, c.DatabaseURL, logger); err != nil {
		return nil, err
	}

	timeout := time.Duration(c.BrokerTimeout) * time.Second
	lasairClient, err := broker.NewClient(broker.ClientConfig{
		Name: "lasair", BaseURL: c.LasairURL, Token: c.LasairToken,
		Timeout: timeout, RateLimit: c.LasairRateLimit,
	})
	if err != nil {
		return nil, err
	}
	alerceClient, err := broker.NewClient(broker.ClientConfig{
		Name: "alerce", BaseURL: c.ALeRCEURL,
		Timeout: timeout, RateLimit: c.ALeRCERateLimit,
	})
	if err != nil {
		return nil, err
	}
	marsClient, err := broker.NewClient(broker.ClientConfig{
		Name: "mars", BaseURL: c.MARSURL,
		Timeout: timeout, RateLimit: c.MARSRateLimit,
	})
	if err != nil {
		return nil, err
	}

	notifiers, err := a.notifiers(c, logger)
	if err != nil {
		return nil, err
	}

	var (
		hooks       jobs.Hooks
		runnerHooks jobs.RunnerHooks
	)
	if reg != nil {
		m := jobs.NewMetrics(reg)
		hooks, runnerHooks = m.Hooks(), m.RunnerHooks()
		registerDBMetrics(reg)
	}

	a.Service = jobs.NewService(jobs.Deps{
		Store:    a.Store,
		Cache:    a.Cache,
		TNS:      tns.New(c.TNSUpdateURL, c.TNSToken),
		MARS:     mars.New(marsClient, a.Store),
		ALeRCE:   alerce.New(alerceClient, a.Store),
		Lasair:   lasair.New(lasairClient),
		Notifier: notifiers,
		Hooks:    hooks,
		Logger:   logger,
	})
	a.Runner = jobs.NewRunner(logger, runnerHooks)
	a.Service.Register(a.Runner)

	if c.QueriesFile != "" {
		qs, err := queryseed.Load(c.QueriesFile)
		if err != nil {
			return nil, err
		}
		if err := queryseed.Seed(postgres.WithJob(ctx, "seed-queries"), a.Store, logger, qs); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context, databaseURL string, logger log.Logger) error {
	if databaseURL == "" {
		a.Store = memstore.New()
		a.Cache = memcache.New()
		logger.Info(ctx, "using in-memory catalog and cache (no database-url configured)")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return a.usePool(ctx, pool, logger)
}

func (a *App) usePool(ctx context.Context, pool *pgxpool.Pool, logger log.Logger) error {
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		return fmt.Errorf("pgstore init: %w", err)
	}
	c, err := pgcache.New(ctx, pool)
	if err != nil {
		return fmt.Errorf("pgcache init: %w", err)
	}
	a.Store, a.Cache = store, c
	logger.Info(ctx, "using postgres catalog and cache")
	return nil
}

func (a *App) notifiers(c *cfg.Config, logger log.Logger) (jobs.Notifiers, error) {
	var ns jobs.Notifiers
	if c.SlackWebhookURL != "" {
		ns = append(ns, slack.New(c.SlackWebhookURL))
		logger.Info(context.Background(), "notifier enabled", "type", "slack")
	}
	if c.NATSURL != "" {
		pub, err := natsbus.Connect(c.NATSURL, c.NATSSubject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		ns = append(ns, pub)
		logger.Info(context.Background(), "notifier enabled", "type", "nats", "subject", pub.Subject())
	}
	return ns, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func registerDBMetrics(reg prometheus.Registerer) {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sdtom_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "route", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, job, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(job, route, outcome).Observe(dur.Seconds())
		},
	))
}
