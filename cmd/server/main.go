package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"opzenix/backend/internal/api"
	"opzenix/backend/internal/auth"
	"opzenix/backend/internal/config"
	"opzenix/backend/internal/engine"
	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/mcp"
	"opzenix/backend/internal/repository"
	"opzenix/backend/internal/services"
	"opzenix/backend/internal/tls"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opzenix-server",
	Short: "OpZenix workflow automation backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is search in standard locations)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting OpZenix workflow service", "environment", cfg.Environment)

	// Database
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer dbPool.Close()

	store := repository.NewPostgresStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	logger.Info("Database connected")

	// Step logs go to Redis when enabled; Postgres otherwise.
	var stepLogs repository.StepLogStore = store
	if cfg.Redis.Enable {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		stepLogs = repository.NewRedisStepLogStore(redisClient,
			repository.WithTTL(time.Duration(cfg.Redis.TTL)*time.Hour))
		logger.Info("Redis step log store enabled", "addr", cfg.Redis.Addr)
	}

	// Engine wiring
	notifier := services.NewHTTPNotifier(cfg.Notifier.URL, &http.Client{Timeout: 10 * time.Second})
	executor := engine.NewExecutor(store, notifier, nil, logger)
	eng := engine.NewEngine(store, stepLogs, executor, logger)

	dispatcher := engine.NewDispatcher(eng, cfg.Engine.Workers, cfg.Engine.QueueSize, logger)
	dispatcher.Start()

	workflowService := engine.NewService(store, store, eng, dispatcher, logger)
	logger.Info("Workflow engine initialized", "workers", cfg.Engine.Workers, "queue_size", cfg.Engine.QueueSize)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("opzenix-backend"))

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}

	e.GET("/healthz", api.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiServer := api.NewServer(store, store, stepLogs, workflowService, logger)
	apiServer.RegisterRoutes(apiGroup)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(workflowService, store, store)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				serverErrors <- fmt.Errorf("TLS enabled but cert/key file not provided")
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) && len(cfg.TLS.Hostnames) > 0 {
				if genErr := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); genErr != nil {
					logger.Error("failed to generate self-signed cert", "error", genErr)
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Let queued async runs drain before the stores go away.
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Error("Dispatcher shutdown error", "error", err)
		}

		logger.Info("Server stopped gracefully")
	}

	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
