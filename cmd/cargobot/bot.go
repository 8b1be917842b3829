package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kenesbay/cargobot/internal/assistant"
	"github.com/kenesbay/cargobot/internal/backend"
	"github.com/kenesbay/cargobot/internal/config"
	"github.com/kenesbay/cargobot/internal/gateway"
	"github.com/kenesbay/cargobot/internal/gateway/ops"
	"github.com/kenesbay/cargobot/internal/gateway/telegram"
	"github.com/kenesbay/cargobot/internal/llm"
	"github.com/kenesbay/cargobot/internal/llm/gemini"
	"github.com/kenesbay/cargobot/internal/llm/openai"
	"github.com/kenesbay/cargobot/internal/observability"
	"github.com/kenesbay/cargobot/internal/ratelimit"
	"github.com/kenesbay/cargobot/internal/session"
)

var botConfigPath string

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Start the Telegram bot",
	RunE:  runBot,
}

func init() {
	// Register flags on both root and bot so that
	// `cargobot --config path` and `cargobot bot --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, botCmd} {
		cmd.Flags().StringVar(&botConfigPath, "config", "config.yaml", "path to config file")
	}
}

func runBot(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(botConfigPath)
	if err != nil {
		return err
	}
	logger.Info("starting cargobot",
		slog.String("config", botConfigPath),
		slog.Int64("company_id", cfg.Backend.CompanyID),
	)

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}

	api := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.CompanyID, logger,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout()}),
		backend.WithTracer(obs.TracerOrNil().Tracer()),
		backend.WithMetrics(obs.MetricsOrNil()),
	)

	provider, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		return err
	}

	sessions, err := session.Open(cfg.Session.Path(), logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	pending := assistant.NewPendingStore(cfg.Assistant.PendingTTL(), logger)
	as := assistant.New(api, provider, pending, logger,
		assistant.WithMetrics(obs.MetricsOrNil()),
		assistant.WithModelTimeout(cfg.LLM.Timeout()),
		assistant.WithMaxTokens(cfg.LLM.MaxTokens),
		assistant.WithHistoryCap(cfg.Assistant.HistoryCap()),
	)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	var gw gateway.Gateway = telegram.NewGateway(telegram.Config{
		BotToken:    cfg.Telegram.BotToken,
		WebhookURL:  cfg.Telegram.WebhookURL,
		ListenAddr:  cfg.Telegram.ListenAddr,
		PollTimeout: cfg.Telegram.PollTimeout,
		Staff:       cfg.Telegram.Staff,
	}, as, api, sessions, limiter, obs.MetricsOrNil(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer obs.Shutdown(context.Background())

	// Background maintenance: expired proposals and stale histories.
	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", func() { pending.Sweep() }); err != nil {
		return fmt.Errorf("scheduling pending sweep: %w", err)
	}
	if _, err := sched.AddFunc("@every 6h", func() {
		n, err := sessions.TrimHistories(context.Background(), 72*time.Hour)
		if err != nil {
			logger.Error("history trim failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			logger.Info("stale histories trimmed", slog.Int64("count", n))
		}
	}); err != nil {
		return fmt.Errorf("scheduling history trim: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Optional ops server (health, metrics).
	if cfg.Ops != nil {
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("session_db", sessions.Ping)
			obs.Health.AddCheck("crm_backend", api.Ping)
		}
		opsCfg := ops.Config{
			ListenAddr:  cfg.Ops.ListenAddr,
			MetricsPath: cfg.Ops.MetricsPath,
		}
		if obs != nil {
			opsCfg.HealthChecker = obs.Health
			if obs.Metrics != nil {
				opsCfg.MetricsRegistry = obs.Metrics.Registry
			}
		}
		opsServer := ops.NewServer(opsCfg, logger)
		go func() {
			if err := opsServer.Start(ctx); err != nil {
				logger.Error("ops server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = opsServer.Stop(shutdownCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = gw.Stop(shutdownCtx)
	}()

	return gw.Start(ctx)
}

// buildProvider constructs the configured LLM provider chain.
func buildProvider(cfg config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	primary, err := newProvider(cfg.Primary, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	for _, pc := range cfg.Fallbacks {
		p, err := newProvider(pc, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return llm.NewFallbackProvider(providers, logger), nil
}

func newProvider(pc config.ProviderConfig, logger *slog.Logger) (llm.Provider, error) {
	switch pc.Type {
	case "openai":
		opts := []openai.Option{}
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		return openai.NewClient(pc.APIKey, pc.Model, logger, opts...), nil
	case "gemini":
		opts := []gemini.Option{}
		if pc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
		}
		return gemini.NewClient(pc.APIKey, pc.Model, logger, opts...), nil
	case "ollama":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return openai.NewClient("", pc.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown llm provider type %q", pc.Type)
	}
}
