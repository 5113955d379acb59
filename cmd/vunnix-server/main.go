package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/config"
	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/common/middleware"
	"github.com/vunnix/vunnix/internal/dispatch"
	"github.com/vunnix/vunnix/internal/events/bus"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/jobs"
	"github.com/vunnix/vunnix/internal/permission"
	"github.com/vunnix/vunnix/internal/projectcfg"
	"github.com/vunnix/vunnix/internal/reconcile"
	"github.com/vunnix/vunnix/internal/result"
	resultapi "github.com/vunnix/vunnix/internal/result/api"
	"github.com/vunnix/vunnix/internal/stream"
	taskapi "github.com/vunnix/vunnix/internal/task/api"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/task/token"
	"github.com/vunnix/vunnix/internal/webhook"
	webhookapi "github.com/vunnix/vunnix/internal/webhook/api"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Vunnix orchestration server...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the task repository
	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to open task repository", zap.Error(err))
	}
	defer repo.Close()
	log.Info("Opened task repository", zap.String("driver", cfg.Database.Driver))

	// 5. Connect the event bus
	var eventBus bus.EventBus
	if cfg.NATS.Enabled {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsBus.Close()
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		localBus := bus.NewLocalBus()
		defer localBus.Close()
		eventBus = localBus
		log.Info("Using in-process event bus")
	}

	// 6. GitLab API client and permission gate
	client := gitlab.NewHTTPClient(cfg.GitLab.BaseURL, cfg.GitLab.Token, cfg.GitLab.TriggerToken, log)
	gate := permission.NewMembershipGate(client, log)

	// 7. Task token service, bound to the execution budget
	tokens := token.NewService(cfg.Tasks.AppSecret, time.Duration(cfg.Tasks.BudgetMinutes)*time.Minute)

	// 8. Background job runner
	var runner jobs.Runner
	var pool *jobs.Pool
	if cfg.Jobs.Inline {
		runner = jobs.NewInline(log)
		log.Info("Running jobs inline")
	} else {
		pool = jobs.NewPool(cfg.Jobs.Workers, cfg.Jobs.QueueMax, log)
		pool.Start()
		runner = pool
		log.Info("Started job pool", zap.Int("workers", cfg.Jobs.Workers))
	}

	// 9. Dispatch and reconciliation components
	projectCfg := projectcfg.NewStatic(map[string]string{
		projectcfg.KeyPipelineRef:  cfg.GitLab.DefaultRef,
		projectcfg.KeyTargetBranch: cfg.GitLab.DefaultRef,
	})
	dispatcher := dispatch.NewDispatcher(repo, client, tokens, eventBus, projectCfg, log)
	coordinator := reconcile.NewCoordinator(repo, client, projectCfg, log)
	tracker := reconcile.NewTracker(repo, client, eventBus, log)

	service := dispatch.NewService(
		repo,
		webhook.NewClassifier(cfg.GitLab.BotAccountID),
		webhook.NewDeduplicator(repo),
		gate,
		dispatcher,
		runner,
		client,
		coordinator,
		tracker,
		tracker,
		log,
	)

	// 10. Result intake pipeline
	pricing := result.Pricing{
		InputPerMTok:  cfg.Tasks.InputPricePerMTok,
		OutputPerMTok: cfg.Tasks.OutputPricePerMTok,
	}
	processor := result.NewProcessor(repo, coordinator, runner, pricing, eventBus, log)

	// 11. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS())

	// 12. Register API routes
	webhookapi.NewHandler(service, cfg.GitLab.WebhookSecret, log).RegisterRoutes(router)
	resultapi.NewHandler(repo, tokens, processor, log).RegisterRoutes(router)
	taskapi.NewHandler(repo, log).RegisterRoutes(router)

	hub := stream.NewHub(log)
	if err := hub.AttachBus(eventBus); err != nil {
		log.Fatal("Failed to subscribe stream hub", zap.Error(err))
	}
	hub.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 13. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 14. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 15. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Vunnix orchestration server...")

	// 16. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	hub.Close()

	if pool != nil {
		pool.Stop()
	}

	log.Info("Vunnix orchestration server stopped")
}

// openRepository selects the storage backend from config.
func openRepository(ctx context.Context, cfg config.DatabaseConfig) (repository.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		return repository.NewPostgresRepository(ctx, cfg.DSN)
	case "memory":
		return repository.NewMemoryRepository(), nil
	case "sqlite", "":
		return repository.NewSQLiteRepository(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
