// cmd/admission-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emergency-admission/internal/api"
	"emergency-admission/internal/audit"
	"emergency-admission/internal/common/aws"
	"emergency-admission/internal/common/camunda"
	"emergency-admission/internal/common/config"
	"emergency-admission/internal/common/database"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/common/observability"
	"emergency-admission/internal/facility"
	"emergency-admission/internal/models"
	"emergency-admission/internal/notification"
	"emergency-admission/internal/pipeline"
	"emergency-admission/internal/queue"
	"emergency-admission/internal/repository"
	"emergency-admission/internal/triage"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting admission manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.Observability, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(ctx)
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	store := repository.NewPostgres(pg.DB, log)
	if err := store.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	repo := repository.NewCached(store, rdb.Client, time.Duration(cfg.Database.Redis.CacheTTL)*time.Second, log)

	// --- Audit index (optional: admission runs without it) ---
	var auditor pipeline.Auditor
	if esClient, err := connectElasticsearch(ctx, cfg, zapLog); err != nil {
		zapLog.Warn("elasticsearch unavailable, event history disabled", zap.Error(err))
	} else {
		auditor = audit.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.EventsIndex, log)
	}

	// --- Notifications ---
	gateway := buildGateway(ctx, cfg, log, zapLog)
	dispatcher := notification.NewDispatcher(gateway, notification.DispatcherOptions{
		Workers:    cfg.Integrations.Dispatcher.Workers,
		BufferSize: cfg.Integrations.Dispatcher.BufferSize,
		Timeout:    config.GetTimeout(cfg.Integrations.Dispatcher.Timeout, 5*time.Second),
	}, log)
	dispatcher.Start(ctx)

	// --- Facility directory ---
	directory := facility.NewDirectory(repo, config.GetTimeout(cfg.Database.Postgres.QueryTimeout, 2*time.Second), log)
	if err := loadDirectory(ctx, directory, cfg.Directory, zapLog); err != nil {
		zapLog.Fatal("facility directory is empty", zap.Error(err))
	}
	go directory.Run(ctx, time.Duration(cfg.Directory.RefreshInterval)*time.Second)

	// --- Triage ---
	classifier, err := triage.NewClassifier(loadRules(ctx, repo, cfg.Triage, zapLog), triage.Options{
		Weights: cfg.Triage.Weights,
		MaxWait: cfg.Triage.MaxWait,
	}, log)
	if err != nil {
		zapLog.Fatal("triage classifier init failed", zap.Error(err))
	}

	scorer := facility.NewScorer(directory, facility.ScorerConfigFrom(cfg.Scoring), log)
	coordinator := queue.NewCoordinator(directory, repo, queue.OptionsFrom(cfg.Queue), log)

	admission := pipeline.New(pipeline.Dependencies{
		Classifier:    classifier,
		Ranker:        scorer,
		Facilities:    directory,
		Queue:         coordinator,
		Repository:    repo,
		Notifier:      dispatcher,
		Auditor:       auditor,
		Observability: obs,
		Logger:        log,
	}, pipeline.Options{
		DefaultFacilityID: cfg.Scoring.DefaultFacilityID,
		StoreTimeout:      config.GetTimeout(cfg.Database.Postgres.QueryTimeout, 2*time.Second),
	})
	coordinator.SetObserver(admission.OnPositionChanges)
	admission.Start(ctx)

	// --- Zeebe workers ---
	var (
		zeebe   *camunda.Client
		workers []worker.JobWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")
		workers = registerWorkers(zeebe, cfg, admission, log, zapLog)
	} else {
		zapLog.Info("camunda disabled, job workers not started")
	}

	// --- HTTP API ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.NewRouter(api.NewHandler(admission, log), cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP API listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP API failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping...")
	case <-ctx.Done():
		zapLog.Info("Server stopped, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetTimeout(cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP API", zap.Error(err))
	}
	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	drainThenCancel(stop, admission.Stop, dispatcher.Stop)

	zapLog.Info("Admission manager stopped gracefully",
		zap.Int("pendingSubmissions", len(admission.Pending())),
	)
}

// drainThenCancel runs each drain in order before cancelling the root
// context, so background workers flush what they have queued.
func drainThenCancel(cancel context.CancelFunc, drains ...func()) {
	for _, drain := range drains {
		drain()
	}
	cancel()
}

func connectElasticsearch(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (*database.ElasticsearchClient, error) {
	var esClient *database.ElasticsearchClient
	err := retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		return nil, err
	}
	zapLog.Info("Elasticsearch connected successfully")
	return esClient, nil
}

// buildGateway wires SNS and SES when enabled. Without AWS the notifications
// are only logged.
func buildGateway(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) notification.Gateway {
	awsCfg := cfg.Integrations.AWS
	if !awsCfg.SNS.Enabled && !awsCfg.SES.Enabled {
		return notification.NewLogGateway(log)
	}

	sdkCfg, err := aws.LoadConfig(ctx, awsCfg.Region)
	if err != nil {
		zapLog.Warn("aws config unavailable, notifications are logged only", zap.Error(err))
		return notification.NewLogGateway(log)
	}

	var gateways notification.Multi
	if awsCfg.SNS.Enabled {
		gateways = append(gateways, notification.NewSNSGateway(aws.NewSNSClient(sdkCfg), awsCfg.SNS.TopicARN, log))
	}
	if awsCfg.SES.Enabled {
		gateways = append(gateways, notification.NewSESGateway(aws.NewSESClient(sdkCfg), awsCfg.SES.FromEmail, awsCfg.SES.DeskEmail, log))
	}
	return gateways
}

// loadDirectory fills the directory from the repository, falling back to the
// seed file when the facilities table is empty or unreachable.
func loadDirectory(ctx context.Context, dir *facility.Directory, cfg config.DirectoryConfig, zapLog *zap.Logger) error {
	err := dir.Refresh(ctx)
	if err == nil && dir.Len() > 0 {
		zapLog.Info("facility directory loaded", zap.Int("facilities", dir.Len()))
		return nil
	}
	if err != nil {
		zapLog.Warn("facility refresh failed", zap.Error(err))
	}
	if cfg.SeedFile == "" {
		return fmt.Errorf("no facilities in repository and no seed file configured")
	}

	records, seedErr := facility.LoadSeedFile(cfg.SeedFile)
	if seedErr != nil {
		return seedErr
	}
	dir.Replace(records)
	zapLog.Info("facility directory seeded", zap.String("file", cfg.SeedFile), zap.Int("facilities", len(records)))
	return nil
}

// loadRules prefers the active rules table, then the configured rules file,
// then the built-in rule set.
func loadRules(ctx context.Context, repo repository.Repository, cfg config.TriageConfig, zapLog *zap.Logger) models.RuleSet {
	rules, err := repo.LoadRules(ctx)
	if err == nil && len(rules.Rules) > 0 {
		zapLog.Info("triage rules loaded from repository", zap.String("version", rules.Version), zap.Int("rules", len(rules.Rules)))
		return rules
	}
	if err != nil {
		zapLog.Warn("triage rules unavailable in repository", zap.Error(err))
	}

	if cfg.RulesFile != "" {
		rules, err = triage.LoadRuleSetFile(cfg.RulesFile)
		if err == nil {
			zapLog.Info("triage rules loaded from file", zap.String("file", cfg.RulesFile), zap.Int("rules", len(rules.Rules)))
			return rules
		}
		zapLog.Warn("triage rules file unreadable", zap.String("file", cfg.RulesFile), zap.Error(err))
	}

	zapLog.Info("using built-in triage rules")
	return triage.DefaultRuleSet()
}
