package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/juanjortega/openhimtoFhirproxy/internal/api"
	"github.com/juanjortega/openhimtoFhirproxy/internal/circuitbreaker"
	"github.com/juanjortega/openhimtoFhirproxy/internal/config"
	"github.com/juanjortega/openhimtoFhirproxy/internal/metrics"
	"github.com/juanjortega/openhimtoFhirproxy/internal/register"
	"github.com/juanjortega/openhimtoFhirproxy/internal/replicator"
	"github.com/juanjortega/openhimtoFhirproxy/internal/retry"
	"github.com/juanjortega/openhimtoFhirproxy/internal/seen"
	"github.com/juanjortega/openhimtoFhirproxy/internal/sink"
	"github.com/juanjortega/openhimtoFhirproxy/internal/source"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`fhirproxy - OpenHIM mediator that replicates clinical records between FHIR servers

Usage:
  fhirproxy <command>

Commands:
  serve      Start the event listener and replicator
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  FHIR_SOURCE_URL           Base URL of the FHIR server to pull from (required)
  FHIR_SINK_URL             Base URL of the FHIR server to push to (required)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  LOG_LEVEL                 Log level: debug, info, warn, error (default: "info")

  ROOT_RESOURCE_TYPE        Resource type the event id names (default: "Encounter")
  RESOURCE_SPEC_PATH        YAML file overriding the related-resource pull list
  REPLICATOR_WORKERS        Parallel related-resource branches (default: "1")

  SEEN_BACKEND              Seen-event store: file, redis or postgres (default: "file")
  SEEN_FILE_PATH            Path for the file backend (default: "seen-events.json")
  REDIS_ADDR                Redis address for the redis backend
  DATABASE_URL              PostgreSQL connection string for the postgres backend

  RETRY_MAX_ATTEMPTS        Delivery attempts per record (default: "3")
  RETRY_BACKOFF_BASE        Linear backoff base between attempts (default: "500ms")

  HTTP_TIMEOUT              Outbound HTTP request timeout (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  TLS_INSECURE_SKIP_VERIFY  Skip upstream certificate checks (default: "false")

  CIRCUIT_BREAKER_THRESHOLD Consecutive sink failures before tripping; 0 disables (default: "0")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown before probing (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  OPENHIM_API_URL           OpenHIM core API for mediator registration (optional)
  OPENHIM_USER              OpenHIM API user
  OPENHIM_PASSWORD          OpenHIM API password
  CALLBACK_URL              Public URL the core should route events to`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitRuntimeError
	}
	defer logger.Sync()

	related, err := config.LoadRelatedResources(cfg.ResourceSpecPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load resource specs: %v\n", err)
		return exitInvalidConfig
	}

	httpClient := newHTTPClient(cfg)

	// Seen-event store backend
	var backend seen.Backend
	switch cfg.SeenBackend {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		backend = seen.NewRedisBackend(redisClient)
		logger.Info("seen store backend ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		pg := seen.NewPostgresBackend(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to prepare database schema: %v\n", err)
			return exitRuntimeError
		}
		backend = pg
		logger.Info("seen store backend ready", zap.String("backend", "postgres"))
	default:
		backend = seen.NewFileBackend(cfg.SeenFilePath)
		logger.Info("seen store backend ready", zap.String("backend", "file"), zap.String("path", cfg.SeenFilePath))
	}

	seenSet := seen.NewSet(backend, logger)
	seenSet.Load(context.Background())

	// Metrics sink is always wired; disabled means the no-op variant.
	// The Prometheus server runs on its own port like the main API.
	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		logger.Info("metrics enabled", zap.String("port", cfg.MetricsPort), zap.String("path", cfg.MetricsPath))

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	sourceClient := source.NewClient(cfg.SourceURL, httpClient, logger)
	sinkClient := sink.NewClient(cfg.SinkURL, httpClient, logger)
	if cfg.CircuitBreakerThreshold > 0 {
		sinkClient = sinkClient.WithBreaker(
			circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown),
		)
		logger.Info("circuit breaker enabled",
			zap.Int("threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
	}

	exec := retry.New(cfg.RetryMaxAttempts, cfg.RetryBackoffBase, logger).
		WithMetrics(metricsSink)

	repl := replicator.New(seenSet, sourceClient, sinkClient, exec, related, logger).
		WithRootType(cfg.RootType).
		WithWorkers(cfg.ReplicatorWorkers).
		WithMetrics(metricsSink)

	// Register with OpenHIM core if configured. Failure is not fatal: the
	// core may come up after us, and events can still arrive directly.
	if cfg.OpenHIMAPIURL != "" {
		reg := register.NewClient(cfg.OpenHIMAPIURL, cfg.OpenHIMUser, cfg.OpenHIMPassword, httpClient, logger)
		regCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		if err := reg.Register(regCtx, version, cfg.CallbackURL); err != nil {
			logger.Warn("mediator registration failed", zap.Error(err))
		} else {
			logger.Info("registered with openhim core", zap.String("api", cfg.OpenHIMAPIURL))
		}
		cancel()
	} else {
		logger.Info("OPENHIM_API_URL not set; registration skipped")
	}

	apiHandler := api.NewHandler(repl, logger).WithSeenReporter(seenSet)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	logger.Info("fhirproxy started",
		zap.String("version", version),
		zap.String("source", cfg.SourceURL),
		zap.String("sink", cfg.SinkURL),
		zap.String("root_type", cfg.RootType),
		zap.Int("related_types", len(related)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info("shutting down", zap.String("signal", received.String()))

	// Phase 1: Stop the HTTP server so no new events are admitted.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	// Phase 2: Flush the seen store so admissions survive the restart.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer persistCancel()
	if err := seenSet.Persist(persistCtx); err != nil {
		logger.Error("seen store flush error", zap.Error(err))
	}

	// Phase 3: Stop the metrics server if running.
	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsCancel()
		if err := metricsServer.Shutdown(metricsCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
		logger.Info("metrics server stopped")
	}

	logger.Info("stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	out, err := config.MaskedJSON(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(out)
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("fhirproxy version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

// newLogger builds a production JSON logger at the configured level.
// Debug level switches to the development console encoder.
func newLogger(logLevel string) (*zap.Logger, error) {
	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if logLevel == "" {
		logLevel = "info"
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return cfg.Build()
}

func newHTTPClient(cfg config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: transport,
	}
}
