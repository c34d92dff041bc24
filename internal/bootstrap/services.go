package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/docpipe/config"
	"github.com/target/docpipe/internal/adapters/extractor"
	"github.com/target/docpipe/internal/adapters/gateway"
	"github.com/target/docpipe/internal/adapters/relay"
	"github.com/target/docpipe/internal/adapters/worker"
	"github.com/target/docpipe/internal/bus"
	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/data"
	domainjob "github.com/target/docpipe/internal/domain/job"
	"github.com/target/docpipe/internal/observability/statsd"
	"github.com/target/docpipe/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Commit        *service.CommitService
	Bus           *bus.Client
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires repositories and business services on the shared
// connections. Every process mode uses the same container; modes differ only
// in which long-lived loops they start.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)

	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	invoiceRepo := data.NewInvoiceRepo(deps.DB, data.RepoConfig{Logger: logger})

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:   jobRepo,
		Logger: logger,
		NotifierOptions: domainjob.NotifierOptions{
			WaitWindow: appCfg.Worker.WaitWindow,
		},
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	commit, err := service.NewCommitService(service.CommitServiceOptions{
		Invoices: invoiceRepo,
		Jobs:     jobRepo,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create commit service: %w", err)
	}

	var busClient *bus.Client
	if deps.RedisClient != nil {
		busClient = bus.NewClient(deps.RedisClient, bus.Options{
			Channel: appCfg.Redis.Channel,
			Logger:  logger,
		})
	}

	return ServiceContainer{
		Jobs:          jobs,
		Commit:        commit,
		Bus:           busClient,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal arrives or a service fails; on
// either it cancels the shared context and waits for every service to stop.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// The gateway hub exists whenever the relay runs; the HTTP listener serves
	// its upgrade endpoint.
	var hub *gateway.Hub
	if enabled[config.ServiceModeRelay] {
		hub = gateway.NewHub(gateway.HubOptions{Logger: logger})
	}

	if enabled[config.ServiceModeHTTP] || hub != nil {
		startHTTPService(group, groupCtx, httpServiceConfig{
			cfg:        cfg,
			logger:     logger,
			hub:        hub,
			apiEnabled: enabled[config.ServiceModeHTTP],
		})
	}

	if enabled[config.ServiceModeWorker] {
		if err := startWorkerService(group, groupCtx, cfg, logger); err != nil {
			stop()
			return err
		}
	}

	if hub != nil {
		startRelayService(group, groupCtx, cfg, logger, hub)
	}

	err = group.Wait()
	cfg.Services.Jobs.StopAllListeners()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type httpServiceConfig struct {
	cfg        *ServiceOrchestrationConfig
	logger     *slog.Logger
	hub        *gateway.Hub
	apiEnabled bool
}

func startHTTPService(group *errgroup.Group, ctx context.Context, sc httpServiceConfig) {
	server := buildHTTPServer(sc)

	group.Go(func() error {
		sc.logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownTimeout := sc.cfg.Config.HTTP.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		sc.logger.Info("shutting down HTTP server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		sc.logger.Info("HTTP server stopped")
		return context.Canceled
	})
}

func startWorkerService(
	group *errgroup.Group, ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger,
) error {
	engine, err := extractor.NewClient(extractor.Options{
		BaseURL:        cfg.Config.Extractor.BaseURL,
		Logger:         logger,
		EngineName:     cfg.Config.Extractor.EngineName,
		FieldsExpr:     cfg.Config.Extractor.FieldsExpr,
		ConfidenceExpr: cfg.Config.Extractor.ConfidenceExpr,
		RawTextExpr:    cfg.Config.Extractor.RawTextExpr,
		HTTPClient:     &http.Client{Timeout: cfg.Config.Extractor.Timeout},
	})
	if err != nil {
		return fmt.Errorf("create extraction engine client: %w", err)
	}

	emitter := service.NewProgressEmitter(publisherOrNil(cfg.Services.Bus), logger)

	jobRepo := data.NewJobRepo(cfg.DB, data.RepoConfig{Logger: logger})
	pipeline, err := service.NewPipeline(service.PipelineOptions{
		Jobs:      jobRepo,
		Extractor: engine,
		Commit:    cfg.Services.Commit,
		Emitter:   emitter,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	runner, err := worker.NewRunner(worker.RunnerOptions{
		Jobs:        cfg.Services.Jobs,
		Pipeline:    pipeline,
		Logger:      logger,
		Metrics:     cfg.Services.Observability.MetricsSink,
		Concurrency: cfg.Config.Worker.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}

	group.Go(func() error {
		if runErr := runner.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("worker pool: %w", runErr)
		}
		return context.Canceled
	})
	return nil
}

func startRelayService(
	group *errgroup.Group, ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger, hub *gateway.Hub,
) {
	group.Go(func() error {
		if cfg.Services.Bus == nil {
			return errors.New("relay service requires a redis connection")
		}
		rly, err := relay.NewRelay(relay.Options{
			Source:      cfg.Services.Bus,
			Broadcaster: hub,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("create relay: %w", err)
		}
		if runErr := rly.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("event relay: %w", runErr)
		}
		return context.Canceled
	})
}

// publisherOrNil avoids handing the emitter a typed-nil interface value.
//
//nolint:ireturn // the emitter takes the publisher port, not the concrete bus client.
func publisherOrNil(client *bus.Client) core.EventPublisher {
	if client == nil {
		return nil
	}
	return client
}
