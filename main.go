package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inquest/internal/config"
	"inquest/internal/gate"
	"inquest/internal/health"
	"inquest/internal/llm"
	_ "inquest/internal/metrics"
	"inquest/internal/models"
	"inquest/internal/orchestrator"
	"inquest/internal/planner"
	"inquest/internal/pool"
	"inquest/internal/retriever"
	"inquest/internal/session"
	"inquest/internal/synthesis"
	"inquest/internal/tracing"
	"inquest/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inquest: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := config.ResolvePath()
	manager, err := config.NewManager(configPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Current()

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := tracing.Initialize(cfg.Observability.Tracing, logger); err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Timeout, logger)
	ret := retriever.NewHTTPClient(
		cfg.Retriever.SearchURL,
		cfg.Retriever.APIKey,
		cfg.Retriever.RateRPS,
		cfg.Retriever.RateBurst,
		retriever.RetryPolicy{
			MaxAttempts:     cfg.Retriever.Retry.MaxAttempts,
			InitialInterval: cfg.Retriever.Retry.InitialInterval,
			MaxInterval:     cfg.Retriever.Retry.MaxInterval,
		},
		logger,
	)

	rules, err := synthesis.LoadAuthorityRules(cfg.Synthesis.AuthorityRulesPath)
	if err != nil {
		return fmt.Errorf("load authority rules: %w", err)
	}

	permits := pool.NewAdaptivePermits(cfg.Research.RetrievalPermits, cfg.Research.AdaptivePermits, logger)
	wk := worker.New(ret, llmClient, permits, worker.Tuning{
		Budgets:  cfg.Budgets,
		Research: cfg.Research,
	}, logger)
	exec := pool.New(wk, cfg.Research.MaxParallelWorkers, cfg.Budgets.HardCeiling, logger)

	g := gate.New(llmClient, ret, cfg.Gate, logger)
	dec := planner.New(llmClient, logger)
	synth := synthesis.New(llmClient, rules, cfg.Synthesis, logger)
	orch := orchestrator.New(g, dec, exec, synth, store, logger)

	// Tuning knobs follow config file edits without a restart.
	manager.OnChange(func(c *config.Config) {
		g.UpdateConfig(c.Gate)
		wk.UpdateTuning(worker.Tuning{Budgets: c.Budgets, Research: c.Research})
		exec.UpdateTuning(c.Research.MaxParallelWorkers, c.Budgets.HardCeiling)
	})
	if err := manager.Start(); err != nil {
		logger.Warn("config hot-reload unavailable", zap.Error(err))
	}
	defer manager.Stop()

	obsServer := startObservabilityServer(cfg, store, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obsServer.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("inquest started",
		zap.String("config", configPath),
		zap.Int("metrics_port", cfg.Observability.MetricsPort),
		zap.String("session_backend", cfg.Session.Backend))
	return conversationLoop(ctx, orch, logger)
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Observability.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Observability.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Observability.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func buildStore(cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case "redis":
		return session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.TTL, logger)
	default:
		return session.NewMemoryStore(cfg.Session.TTL), nil
	}
}

// startObservabilityServer serves metrics and health probes on one port.
func startObservabilityServer(cfg *config.Config, store session.Store, logger *zap.Logger) *http.Server {
	hm := health.NewManager(logger)
	hm.Register(&health.StoreChecker{Store: store})
	hm.Register(&health.EndpointChecker{Component: "llm_service", URL: cfg.LLM.BaseURL + "/health"})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", hm.Handler())
	mux.Handle("/readyz", hm.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server failed", zap.Error(err))
		}
	}()
	return srv
}

// conversationLoop drives clarification turns over stdin/stdout. Each
// process run is one conversation; the session store keeps its state so a
// Redis-backed deployment could resume it elsewhere.
func conversationLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *zap.Logger) error {
	conversationID := uuid.New().String()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("What would you like researched?")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		resp, err := orch.HandleTurn(ctx, conversationID, input)
		if err != nil {
			logger.Error("turn failed", zap.Error(err))
			fmt.Println("Something went wrong; please try again.")
			continue
		}
		printResponse(resp)
	}
}

func printResponse(resp orchestrator.Response) {
	switch resp.Kind {
	case orchestrator.KindQuestion:
		c := resp.Clarification
		if c == nil {
			fmt.Println("Could you tell me more?")
			return
		}
		fmt.Println(c.Question)
		for i, opt := range c.Options {
			fmt.Printf("  %d. %s\n", i+1, opt)
		}
	case orchestrator.KindConfirm, orchestrator.KindRejected:
		fmt.Println(resp.Message)
	case orchestrator.KindResult:
		printResult(resp.Result)
	default:
		fmt.Println(resp.Message)
	}
}

func printResult(r *models.AggregateResult) {
	if r == nil {
		return
	}
	fmt.Println(r.Synthesis)
	fmt.Printf("\nOverall confidence: %.2f", r.OverallConfidence)
	if r.DegradedCount > 0 {
		fmt.Printf(" (%d degraded threads)", r.DegradedCount)
	}
	fmt.Println()
}
