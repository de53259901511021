package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/config"
	"github.com/vietddude/artline/internal/core/worker"
	"github.com/vietddude/artline/internal/events"
	"github.com/vietddude/artline/internal/health"
	"github.com/vietddude/artline/internal/infra/kie"
	redisclient "github.com/vietddude/artline/internal/infra/redis"
	"github.com/vietddude/artline/internal/infra/storage"
	"github.com/vietddude/artline/internal/infra/storage/memory"
	"github.com/vietddude/artline/internal/infra/storage/postgres"
	"github.com/vietddude/artline/internal/jobs"
	"github.com/vietddude/artline/internal/pipeline"
	"github.com/vietddude/artline/internal/routing"
)

// App is the main application struct that wires the pipeline and its services.
type App struct {
	cfg          *config.AppConfig
	kieClient    *kie.Client
	jobClient    *jobs.Client
	validator    *contract.Validator
	router       *routing.Router
	runner       *pipeline.Runner
	runRepo      storage.RunRepository
	jobRepo      storage.JobRepository
	db           *postgres.DB
	redisClient  *redisclient.Client
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	// 1. Initialize Storage
	var pinger storage.Pinger
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		a.db = db
		a.runRepo = postgres.NewRunRepo(db)
		a.jobRepo = postgres.NewJobRepo(db)
		pinger = db
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		a.runRepo = memory.NewRunRepo(store)
		a.jobRepo = memory.NewJobRepo(store)
		pinger = store
		log.Info("Using Memory storage")
	}

	// 2. Event sinks
	sinks := events.Fanout{events.NewLogSink(log), events.NewMetricsSink()}
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, event stream disabled", "error", err)
		} else {
			a.redisClient = client
			sinks = append(sinks, events.NewStreamSink(client, log))
			log.Info("Publishing events to Redis stream", "stream", client.Stream())
		}
	}

	// 3. Image API and job lifecycle
	a.kieClient = kie.NewClient(cfg.KIE, kie.WithLogger(log))
	jobClient, err := jobs.NewClient(a.kieClient, cfg.Jobs, jobs.WithSink(sinks), jobs.WithLogger(log))
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to init job client: %w", err)
	}
	a.jobClient = jobClient

	// 4. Contracts and routing
	registry, err := contract.DefaultRegistry()
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to load contract schemas: %w", err)
	}
	a.validator = contract.NewValidator(registry,
		contract.WithDefaults(cfg.Pipeline.Defaults),
		contract.WithPreviewLimit(cfg.Pipeline.PreviewLimit),
	)
	a.router = routing.NewRouter(a.validator, routing.WithSink(sinks), routing.WithLogger(log))

	// 5. Pipeline
	remote := pipeline.NewHTTPStages(cfg.Stages, nil)
	stages := pipeline.Stages{
		Brief:        remote,
		ArtDirection: remote,
		Image:        pipeline.NewJobImageStage(jobClient, cfg.Pipeline.Image, a.jobRepo, log),
		Quality:      remote,
		Export:       remote,
	}
	a.runner, err = pipeline.NewRunner(stages, a.router, cfg.Pipeline.Runner(),
		pipeline.WithRunRepository(a.runRepo),
		pipeline.WithSink(sinks),
		pipeline.WithLogger(log),
	)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to init pipeline: %w", err)
	}

	// 6. Health monitor and HTTP server
	checks := []health.MonitorOption{health.WithCheck("storage", pinger, true)}
	if a.redisClient != nil {
		checks = append(checks, health.WithCheck("redis", a.redisClient, false))
	}
	a.healthMon = health.NewMonitor(a.kieClient, checks...)
	a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port,
		health.WithAPI(&health.API{
			Router: a.router,
			Runner: a.runner,
			Runs:   a.runRepo,
			Jobs:   a.jobRepo,
			Log:    log,
		}),
		health.WithServerLogger(log),
	)

	// 7. Retention
	a.pruner = worker.NewPruner(cfg.Retention, a.runRepo, a.jobRepo, log)

	return a, nil
}

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Router returns the handoff router.
func (a *App) Router() *routing.Router { return a.router }

// Validator returns the contract validator.
func (a *App) Validator() *contract.Validator { return a.validator }

// Runs returns the run ledger.
func (a *App) Runs() storage.RunRepository { return a.runRepo }

// Jobs returns the job ledger.
func (a *App) Jobs() storage.JobRepository { return a.jobRepo }

// Redis returns the event stream client, or nil when Redis is not configured.
func (a *App) Redis() *redisclient.Client { return a.redisClient }

// Monitor returns the health monitor.
func (a *App) Monitor() *health.Monitor { return a.healthMon }

// Start starts the HTTP server and background workers.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.KIE.APIKey == "" {
		a.log.Warn("KIE API key is not set, image jobs will fail with missing_credential")
	}

	go func() {
		a.log.Info("Starting HTTP server", "addr", a.healthServer.Addr())
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go a.pruner.Start(ctx)

	return nil
}

// Stop stops the server and closes connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping artline...")

	err := a.healthServer.Stop(ctx)
	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
