package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jorgepascosoto/vaultdb/internal/api"
	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/dispatch"
	"github.com/jorgepascosoto/vaultdb/internal/job"
	"github.com/jorgepascosoto/vaultdb/internal/metrics"
	"github.com/jorgepascosoto/vaultdb/internal/queue"
	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

type component int

const (
	withStore component = 1 << iota
	withQueue
)

// app holds the process-wide dependencies a command asked for.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	registry *backup.Registry

	mongo    *mongo.Client
	settings settings.Store
	jobs     job.Store
	tracker  *job.Tracker
	queue    queue.Queue
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, parts component) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(reg),
		registry: backup.NewRegistry(cfg, backup.NewFactory(cfg, logger)),
	}

	if parts&withStore != 0 {
		if err := a.openStore(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if parts&withQueue != 0 {
		q, err := queue.New(ctx, cfg.Queue, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open queue: %w", err)
		}
		a.queue = q
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreBackendMemory:
		a.settings = settings.NewMemoryStore()
		a.jobs = job.NewMemoryStore()
	case config.StoreBackendMongo:
		client, err := connectMongo(ctx, a.cfg.Store)
		if err != nil {
			return err
		}
		a.mongo = client
		db := client.Database(a.cfg.Store.MongoDatabase)
		a.settings = settings.NewMongoStore(db)
		a.jobs = job.NewMongoStore(db, a.logger)
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}

	a.tracker = job.NewTracker(a.jobs, a.logger)
	return nil
}

func connectMongo(ctx context.Context, cfg config.StoreConfig) (*mongo.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	return dispatch.NewDispatcher(a.settings, a.queue, a.cfg.Backup, a.metrics, a.logger)
}

// checks are the readiness probes served on /readyz.
func (a *app) checks() map[string]api.Check {
	checks := map[string]api.Check{}
	if a.mongo != nil {
		checks["store"] = func(ctx context.Context) error {
			return a.mongo.Ping(ctx, readpref.Primary())
		}
	}
	return checks
}

func (a *app) close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close queue")
		}
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to disconnect from mongodb")
		}
	}
}
