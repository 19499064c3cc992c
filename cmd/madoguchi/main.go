package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/madoguchi/api"
	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/mcp"
	"github.com/ashita-ai/madoguchi/internal/ratelimit"
	"github.com/ashita-ai/madoguchi/internal/server"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/telemetry"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("MADOGUCHI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "replay" {
		// Replay prints its report on stdout, so logs go to stderr.
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		err = replay(ctx, logger, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx, logger)
	}
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("madoguchi starting", "version", version, "port", cfg.Port, "storage", cfg.StorageBackend)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	st, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if err := seedCustomers(ctx, cfg, st, logger); err != nil {
		return err
	}

	// Workflow log: storage is authoritative; the file mirror and Kafka
	// stream are best-effort copies; the broker feeds live SSE subscribers.
	var sink workflowlog.Sink = st.log
	if cfg.LogFilePath != "" {
		sink = workflowlog.NewMirrorSink(sink, workflowlog.NewFileSink(cfg.LogFilePath), logger)
		slog.Info("workflow log file mirror enabled", "path", cfg.LogFilePath)
	}
	var publisher *workflowlog.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = workflowlog.NewKafkaPublisher(sink, workflowlog.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		sink = publisher
		slog.Info("workflow log kafka stream enabled", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
	}
	broker := server.NewBroker(logger)
	wlog := workflowlog.New(broker.Sink(sink), logger, cfg.LogBufferSize, cfg.LogFlushInterval)
	wlog.Start(ctx)

	p, err := buildPipeline(cfg, st, wlog, logger)
	if err != nil {
		return err
	}
	p.memory.Start()

	var authn *auth.Authenticator
	if cfg.AuthDisabled {
		slog.Warn("authentication disabled: every caller acts as admin")
	} else {
		jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
		if err != nil {
			return fmt.Errorf("jwt: %w", err)
		}
		authn = auth.NewAuthenticator(st.operators, jwtMgr, logger)
		if cfg.AdminAPIKey != "" {
			if err := authn.BootstrapAdmin(ctx, cfg.AdminAPIKey); err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		slog.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		slog.Info("rate limiting disabled")
	}
	defer func() { _ = limiter.Close() }()

	mcpSrv := mcp.New(mcp.Deps{
		Orchestrator: p.orchestrator,
		Classifier:   p.classifier,
		Retriever:    p.retriever,
		Memory:       p.memory,
		Log:          wlog,
	}, logger, version)

	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			Orchestrator:        p.orchestrator,
			Classifier:          p.classifier,
			Retriever:           p.retriever,
			Memory:              p.memory,
			Log:                 wlog,
			Support:             p.support,
			Broker:              broker,
			Ping:                st.ping,
			Version:             version,
			BatchWorkers:        cfg.BatchWorkers,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
			OpenAPISpec:         api.OpenAPISpec,
		},
		Authenticator: authn,
		Limiter:       limiter,
		MCPServer:     mcpSrv.MCPServer(),
		Logger:        logger,
		Port:          cfg.Port,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	// Phased shutdown: stop accepting requests, let running stages return,
	// then flush the workflow log, then release the rest. Each phase gets its own deadline.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Stages detached by a timeout may still be inside a support call.
	stageCtx, stageCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stageCancel()
	if err := p.orchestrator.Wait(stageCtx); err != nil {
		slog.Error("stage wait error", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	wlog.Drain(drainCtx)

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("kafka writer close error", "error", err)
		}
	}
	if err := p.memory.Close(); err != nil {
		slog.Error("memory close error", "error", err)
	}

	slog.Info("madoguchi stopped")
	return nil
}

// seedCustomers loads the customer seed file into the backend when present.
func seedCustomers(ctx context.Context, cfg config.Config, st *backend, logger *slog.Logger) error {
	if cfg.CustomersPath == "" {
		return nil
	}
	if _, err := os.Stat(cfg.CustomersPath); errors.Is(err, os.ErrNotExist) {
		logger.Info("no customer seed file", "path", cfg.CustomersPath)
		return nil
	}
	seed, err := support.LoadSeed(cfg.CustomersPath)
	if err != nil {
		return fmt.Errorf("customer seed: %w", err)
	}
	if err := st.seed(ctx, seed); err != nil {
		return fmt.Errorf("customer seed: %w", err)
	}
	logger.Info("customer seed loaded", "path", cfg.CustomersPath, "accounts", len(seed.Accounts))
	return nil
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
