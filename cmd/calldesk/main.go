package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/api"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/auth"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/config"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/correlation"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/dispatch"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/events"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/limits"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/observability"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/settings"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/version"
)

const defaultConfigPath = "calldesk.yaml"

const otelShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute
const eventBufferSize = 64

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil, os.Stdout, os.Stderr)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:], os.Stdout, os.Stderr)
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	case "report":
		return runReport(args[1:], os.Stdout, os.Stderr)
	case "doctor":
		return runDoctor(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}
	pricing, err := cfg.Pricing.CostConfig()
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	logger := observability.NewLogger(out, slog.LevelInfo)
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize %s storage: %v\n", cfg.Storage.Driver, err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "driver", cfg.Storage.Driver, "error", err)
		}
	}()

	authorizer, err := auth.NewAuthorizer(auth.Options{
		Enabled: cfg.Auth.Enabled,
		Header:  cfg.Auth.Header,
		Keys:    authKeysFromConfig(cfg.Auth.Keys),
	})
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize auth config: %v\n", err)
		return 1
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	personaStore := persona.NewFileStore(cfg.Agent.PersonaPath)
	if cfg.Agent.Watch {
		if err := personaStore.Watch(ctx, logger); err != nil {
			logger.Warn("persona hot-reload disabled", "path", personaStore.Path(), "error", err)
		}
	}

	apiHandler := api.NewRouter(api.RouterOptions{
		AppVersion:    version.String(),
		Store:         store,
		StorageDriver: cfg.Storage.Driver,
		StoragePath:   cfg.Storage.Path,
		Pricing:       pricing,
		Settings:      settings.NewEnvFile(cfg.Dispatch.EnvFile),
		Persona:       personaStore,
		Dispatchers: dispatch.LiveKitFactory(
			dispatch.WithAgentName(cfg.Dispatch.AgentName),
			dispatch.WithTimeout(cfg.Dispatch.Timeout()),
		),
		AgentName: cfg.Dispatch.AgentName,
		Limiter: limits.NewDispatchLimiter(store, limits.Config{
			CallsPerMinute:   cfg.Limits.CallsPerMinute,
			MaxCostUSDPerDay: cfg.Limits.MaxCostUSDPerDay,
			Location:         pricing.Location,
		}),
		Events:    events.NewHub(eventBufferSize),
		Telemetry: otelRuntime,
		LLM: api.LLMOptions{
			BaseURL:   cfg.LLM.BaseURL,
			Timeout:   cfg.LLM.Timeout(),
			MaxTokens: cfg.LLM.MaxTokens,
		},
		AuthHeader: authorizer.HeaderName(),
		Logger:     logger,
	})

	var serverHandler http.Handler = otelRuntime.SpanEnrichmentMiddleware(apiHandler)
	serverHandler = auth.Middleware(authorizer, auth.MiddlewareOptions{
		APIPrefix:     api.APIPrefix,
		WebhookPrefix: api.WebhookPrefix,
		WebSocketPath: api.EventsPath,
		OnDeny:        newAuthDenyRecorder(logger),
	}, serverHandler)
	serverHandler = otelRuntime.WrapHTTPHandler(serverHandler)
	server := newServer(cfg, logger, serverHandler)

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"storage_driver", cfg.Storage.Driver,
		"config_path", *configPath,
		"env_file", cfg.Dispatch.EnvFile,
		"persona_path", personaStore.Path(),
		"timezone", pricing.Location.String(),
		"auth_enabled", cfg.Auth.Enabled,
		"otel_enabled", otelRuntime.Enabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("calldesk stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("calldesk failed", "error", err)
			return 1
		}
		return 0
	}
}

func newServer(cfg config.Config, logger *slog.Logger, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.LoggingMiddleware(logger, handler),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

func authKeysFromConfig(keys []config.AuthKeyConfig) []auth.KeyConfig {
	if len(keys) == 0 {
		return nil
	}
	out := make([]auth.KeyConfig, 0, len(keys))
	for _, key := range keys {
		out = append(out, auth.KeyConfig{
			ID:    key.ID,
			Token: key.Token,
			Name:  key.Name,
			Role:  key.Role,
		})
	}
	return out
}

func newAuthDenyRecorder(logger *slog.Logger) auth.DenyRecorder {
	if logger == nil {
		return nil
	}
	return func(r *http.Request, status int, reason string) {
		logger.Warn(
			"audit api auth deny",
			"correlation_id", requestCorrelationID(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", status,
			"audit_reason", reason,
		)
	}
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil && logger != nil {
		logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
	}
}

func requestCorrelationID(req *http.Request) string {
	if req == nil {
		return ""
	}
	if id, ok := correlation.FromContext(req.Context()); ok {
		return id
	}
	return strings.TrimSpace(correlation.FromHeaders(req.Header))
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  calldesk serve [--config path/to/calldesk.yaml]")
	fmt.Fprintln(out, "  calldesk version")
	fmt.Fprintln(out, "  calldesk config validate [--config path/to/calldesk.yaml]")
	fmt.Fprintln(out, "  calldesk report [--config path/to/calldesk.yaml] [--format text|json] [--limit N]")
	fmt.Fprintln(out, "  calldesk doctor [--config path/to/calldesk.yaml] [--format text|json]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  calldesk config validate [--config path/to/calldesk.yaml]")
}
