package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/pyportal/internal/api"
	"github.com/felixgeelhaar/pyportal/internal/api/middleware"
	"github.com/felixgeelhaar/pyportal/internal/config"
	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/exercise"
	"github.com/felixgeelhaar/pyportal/internal/gateway"
	"github.com/felixgeelhaar/pyportal/internal/metrics"
	"github.com/felixgeelhaar/pyportal/internal/pocketbase"
	"github.com/felixgeelhaar/pyportal/internal/progress"
	"github.com/felixgeelhaar/pyportal/internal/queue"
	"github.com/felixgeelhaar/pyportal/internal/runner"
	"github.com/felixgeelhaar/pyportal/internal/storage/postgres"
	"github.com/felixgeelhaar/pyportal/internal/storage/sqlite"
)

// app holds the services a command wires together. Each open* method adds
// one layer; Close releases everything in reverse order.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics   *metrics.Collector // nil when disabled
	exercises *exercise.Service
	gateway   *gateway.Gateway

	// nil when no data backend is configured
	progress *progress.Service
	features *pocketbase.FeatureFlags

	queue  *queue.Connection
	checks map[string]api.HealthCheck

	closers []func() error
}

func newApp(cfg *config.Config) *app {
	a := &app{
		cfg:    cfg,
		logger: slog.Default(),
		checks: make(map[string]api.HealthCheck),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector()
	}
	return a
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openCatalogue opens the store and builds the exercise service
func (a *app) openCatalogue(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	loader, err := a.newLoader()
	if err != nil {
		return err
	}

	a.exercises = exercise.NewService(loader, store, a.logger)
	if a.metrics != nil {
		a.exercises.SetObserver(a.metrics)
	}
	a.checks["store"] = func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (exercise.Store, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, a.cfg.Storage.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		store := postgres.NewExerciseStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		db, err := sqlite.Open(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlite.NewExerciseStore(db), nil
	}
}

func (a *app) newLoader() (*exercise.Loader, error) {
	ec := a.cfg.Exercises
	opts := []exercise.LoaderOption{exercise.WithLogger(a.logger)}
	if ec.SolutionsDir != "" {
		opts = append(opts, exercise.WithSolutionsDir(ec.SolutionsDir))
	}
	if ec.MetadataFile != "" {
		table, err := exercise.LoadMetadataFile(ec.MetadataFile, exercise.DefaultMetadataTable())
		if err != nil {
			return nil, err
		}
		opts = append(opts, exercise.WithMetadata(table))
	}
	if ec.StableIDs {
		opts = append(opts, exercise.WithIDGenerator(exercise.StableIDs))
	}
	return exercise.NewLoader(ec.Root, opts...), nil
}

// connectPocketBase authenticates against the data backend when one is
// configured and builds the progress and feature flag services on it.
func (a *app) connectPocketBase(ctx context.Context) error {
	pc := a.cfg.PocketBase
	if pc.URL == "" {
		return nil
	}

	client, err := pocketbase.NewClient(pocketbase.Config{
		URL:     pc.URL,
		Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	if pc.AdminEmail != "" {
		if _, err := client.AuthWithPassword(ctx, pc.AdminCollection, pc.AdminEmail, pc.AdminPassword); err != nil {
			return fmt.Errorf("authenticate with pocketbase: %w", err)
		}
		a.logger.Info("authenticated with pocketbase", "collection", pc.AdminCollection)
	}

	a.progress = progress.NewService(client, pc.ProgressCollection, a.logger)
	a.features = pocketbase.NewFeatureFlags(client)
	a.checks["pocketbase"] = client.Health
	return nil
}

// openGateway builds the execution gateway on the configured executor.
// Exercise tests are only resolvable after openCatalogue.
func (a *app) openGateway(ctx context.Context) error {
	var (
		capability runner.Capability
		err        error
	)
	if a.cfg.Runner.Executor == config.ExecutorQueue {
		capability, err = a.remoteCapability(ctx)
	} else {
		capability, err = a.sandbox(a.cfg.Runner.Executor)
	}
	if err != nil {
		return err
	}

	var lookup gateway.ExerciseLookup
	if a.exercises != nil {
		lookup = a.exercises
	} else {
		lookup = noCatalogue{}
	}

	a.gateway = gateway.New(capability, lookup, gateway.Config{
		MaxCodeBytes:  a.cfg.Runner.MaxCodeBytes,
		MaxConcurrent: a.cfg.Runner.MaxConcurrent,
	}, a.logger)
	if a.metrics != nil {
		a.gateway.SetObserver(a.metrics)
	}
	if a.progress != nil {
		a.gateway.SetProgressRecorder(a.progress)
	}
	return nil
}

// sandbox builds an executor that runs code on this host
func (a *app) sandbox(kind string) (runner.Capability, error) {
	limits := runner.Limits{
		Timeout:        a.cfg.RunnerTimeout(),
		MaxOutputBytes: a.cfg.Runner.MaxOutputBytes,
	}

	switch kind {
	case config.ExecutorDocker:
		dc := a.cfg.Runner.Docker
		d, err := runner.NewDockerExecutor(runner.DockerConfig{
			Image:      dc.Image,
			MemoryMB:   dc.MemoryMB,
			CPULimit:   dc.CPULimit,
			NetworkOff: dc.NetworkOff,
			Limits:     limits,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		a.logger.Info("using docker executor", "image", dc.Image)
		return d, nil

	default:
		a.logger.Info("using local executor", "python", a.cfg.Runner.Python)
		return runner.NewLocalExecutor(runner.LocalConfig{
			Python: a.cfg.Runner.Python,
			Limits: limits,
		}), nil
	}
}

// remoteCapability sends submissions to queue workers and listens for
// replies on an exclusive queue owned by this process.
func (a *app) remoteCapability(ctx context.Context) (runner.Capability, error) {
	conn, err := a.connectQueue()
	if err != nil {
		return nil, err
	}

	replyQueue, err := conn.DeclareReplyQueue()
	if err != nil {
		return nil, err
	}
	results := queue.NewResultConsumer(conn, replyQueue)
	if err := results.Start(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		results.Stop()
		return nil
	})

	a.logger.Info("using queue executor", "reply_queue", replyQueue)
	return queue.NewRemoteCapability(
		queue.NewProducer(conn),
		results,
		time.Duration(a.cfg.Queue.ReplyTimeoutSeconds)*time.Second,
	), nil
}

func (a *app) connectQueue() (*queue.Connection, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	conn, err := queue.NewConnection(a.cfg.Queue.URL)
	if err != nil {
		return nil, err
	}
	a.queue = conn
	a.closers = append(a.closers, conn.Close)
	a.checks["queue"] = func(context.Context) error {
		if !conn.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}
	return conn, nil
}

// newConsumer builds a queue consumer that executes jobs with the local or
// docker executor.
func (a *app) newConsumer(sandboxKind string) (*queue.Consumer, error) {
	conn, err := a.connectQueue()
	if err != nil {
		return nil, err
	}
	capability, err := a.sandbox(sandboxKind)
	if err != nil {
		return nil, err
	}
	qc := a.cfg.Queue
	return queue.NewConsumer(conn, queue.ExecutionHandler(capability), queue.ConsumerConfig{
		Workers:    qc.Workers,
		Prefetch:   qc.Prefetch,
		JobTimeout: time.Duration(qc.JobTimeoutSeconds) * time.Second,
	}), nil
}

// apiDeps assembles router dependencies, leaving absent services nil
func (a *app) apiDeps() api.Deps {
	sc := a.cfg.Server
	deps := api.Deps{
		Exercises:  a.exercises,
		Executor:   a.gateway,
		Checks:     a.checks,
		AdminToken: sc.AdminToken,
		RateLimit: middleware.RateLimitConfig{
			RatePerSecond:  sc.RatePerSecond,
			Burst:          sc.RateBurst,
			TrustedProxies: sc.TrustedProxies,
		},
		CORSOrigins: sc.CORSOrigins,
		Version:     Version,
	}
	if a.progress != nil {
		deps.Progress = a.progress
		deps.Features = a.features
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
		deps.MetricsHandler = a.metrics.Handler()
	}
	return deps
}

// noCatalogue rejects test runs when no exercise store is open
type noCatalogue struct{}

func (noCatalogue) Get(ctx context.Context, idOrSlug string) (*domain.Exercise, error) {
	return nil, domain.NewNotFoundError("exercise", idOrSlug)
}
