// Command falavox-server is the main entrypoint for the translation session API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the credential issuer, OAuth token cache, provider client,
//     session store, and session orchestrator.
//   - Starts the background session expiry sweeper.
//   - Exposes the HTTP API with /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/AliJawad91/falavox-server/config"
	"github.com/AliJawad91/falavox-server/orchestrator"
	"github.com/AliJawad91/falavox-server/providerapi"
	"github.com/AliJawad91/falavox-server/rtctoken"
	"github.com/AliJawad91/falavox-server/server"
	"github.com/AliJawad91/falavox-server/session"
	"github.com/AliJawad91/falavox-server/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("falavox-server", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	if err := cfg.ValidateProviderReady(); err != nil {
		slog.Warn("provider not configured, session starts will fail", slog.Any("err", err))
	}
	if err := cfg.ValidateIssuerReady(); err != nil {
		slog.Warn("credential issuer not configured, session starts will fail", slog.Any("err", err))
	}

	issuer := rtctoken.NewIssuer(cfg.AppID, cfg.AppSecret, cfg.CredentialTTL)
	tokens := &providerapi.TokenSource{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.ProviderTimeout},
	}
	client := &providerapi.Client{
		BaseURL:     cfg.ProviderBaseURL,
		AppID:       cfg.AppID,
		TokenSource: tokens,
		Timeout:     cfg.ProviderTimeout,
	}
	store := session.NewStore(cfg.MaxSessions, cfg.SweepInterval)
	orch := orchestrator.New(issuer, client, tokens, store, cfg.SessionTTL, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background session expiry sweeper
	go store.Run(ctx)

	ready := func() error {
		return errors.Join(cfg.ValidateProviderReady(), cfg.ValidateIssuerReady())
	}
	slog.Info("starting falavox-server",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("max_sessions", cfg.MaxSessions),
		slog.Duration("session_ttl", cfg.SessionTTL))
	if err := server.Start(ctx, orch, ready, cfg.HTTPAddr); err != nil {
		slog.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
