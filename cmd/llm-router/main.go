package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/breaker"
	"github.com/maxr0ssi/llm-router/internal/config"
	"github.com/maxr0ssi/llm-router/internal/middleware"
	"github.com/maxr0ssi/llm-router/internal/providers/anthropic"
	"github.com/maxr0ssi/llm-router/internal/providers/openai"
	"github.com/maxr0ssi/llm-router/internal/registry"
	"github.com/maxr0ssi/llm-router/internal/retry"
	"github.com/maxr0ssi/llm-router/internal/routing"
	"github.com/maxr0ssi/llm-router/internal/security"
	"github.com/maxr0ssi/llm-router/internal/server"
)

// Application wires configuration, router and server together.
type Application struct {
	config *config.Config
	router *routing.Router
	server *server.Server
	logger *logrus.Logger
}

// NewApplication builds the full dependency graph from configuration.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	reg := registry.New(cfg.Models, logger)

	retries := retry.NewManager(retry.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      cfg.Retry.InitialDelay,
		BackoffFactor:     cfg.Retry.BackoffFactor,
		MaxDelay:          cfg.Retry.MaxDelay,
		RespectRetryAfter: cfg.Retry.RespectRetryAfter,
	}, logger)

	streams := retry.NewStreamManager(retry.StreamConfig{
		MaxConnectionAttempts:   cfg.Stream.MaxConnectionAttempts,
		ConnectionTimeout:       cfg.Stream.ConnectionTimeout,
		ReadTimeout:             cfg.Stream.ReadTimeout,
		ReconnectOnError:        cfg.Stream.ReconnectOnError,
		PreservePartialResponse: cfg.Stream.PreservePartialResponse,
	}, logger)

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold:     cfg.Breaker.FailureThreshold,
		FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
		SuccessThreshold:     cfg.Breaker.SuccessThreshold,
		Timeout:              cfg.Breaker.Timeout,
		WindowSize:           cfg.Breaker.WindowSize,
	}, logger)

	router := routing.New(reg, retries, streams, breakers, routing.Config{
		BypassAvailability: cfg.Router.BypassAvailability,
	}, logger)

	if err := registerBackends(router, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register backends: %w", err)
	}

	srv, err := server.New(router, serverConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		router: router,
		server: srv,
		logger: logger,
	}, nil
}

// Run starts the server and blocks until a signal or server error.
func (app *Application) Run() error {
	app.logger.Info("Starting LLM router")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger from configuration.
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}
	return nil
}

// registerBackends registers every provider with credentials.
func registerBackends(router *routing.Router, cfg *config.Config, logger *logrus.Logger) error {
	registered := 0

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		router.RegisterBackend(openai.New(cfg.Providers.OpenAI, logger))
		registered++
	}
	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		router.RegisterBackend(anthropic.New(cfg.Providers.Anthropic, logger))
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("no backends were registered - check your configuration and API keys")
	}

	logger.WithField("count", registered).Info("Backend registration completed")
	return nil
}

func serverConfig(cfg *config.Config) *server.Config {
	return &server.Config{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		Security:       securityConfig(cfg),
	}
}

func securityConfig(cfg *config.Config) *middleware.SecurityConfig {
	return &middleware.SecurityConfig{
		Auth: &security.Config{
			APIKeys:     cfg.Security.APIKeys,
			JWTSecret:   cfg.Security.JWTSecret,
			RequireAuth: len(cfg.Security.APIKeys) > 0 || cfg.Security.JWTSecret != "",
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           cfg.Security.RateLimiting.Enabled,
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMin,
			BurstSize:         cfg.Security.RateLimiting.BurstSize,
			WindowDuration:    cfg.Security.RateLimiting.WindowDuration,
		},
		Audit: &security.AuditConfig{
			Enabled: true,
		},
		Validation: &middleware.ValidationConfig{
			Enabled:  true,
			SpecPath: "docs/openapi.yaml",
		},
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY                      OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY                   Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_PORT                     Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_LEVEL                Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_FORMAT               Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_BYPASS_AVAILABILITY      Skip availability checks (true/false)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_STREAM_MAX_RECONNECTS    Max stream connection attempts\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_STREAM_CONNECT_TIMEOUT   Stream connect timeout (e.g. 10s)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_STREAM_READ_TIMEOUT      Stream read timeout (e.g. 30s)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_STREAM_RECONNECT         Reconnect on stream errors (true/false)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_STREAM_PRESERVE_PARTIAL  Keep partial text across reconnects (true/false)\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *version {
		fmt.Println("llm-router v1.0.0")
		os.Exit(0)
	}

	// Load .env for local development, ignore when absent.
	_ = godotenv.Load()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
