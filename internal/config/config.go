package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Limits        LimitsConfig        `yaml:"limits"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// PricingConfig carries the per-unit price table plus the display currency
// conversion and the timezone that defines calendar days for reporting.
type PricingConfig struct {
	cost.PriceTable `yaml:",inline"`
	USDToINR        float64 `yaml:"usd_to_inr"`
	Timezone        string  `yaml:"timezone"`
}

// CostConfig resolves the pricing section into the value passed to every
// cost consumer.
func (c PricingConfig) CostConfig() (cost.Config, error) {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return cost.Config{}, err
	}
	out := cost.Config{Prices: c.PriceTable, ExchangeRate: c.USDToINR, Location: loc}
	if err := out.Validate(); err != nil {
		return cost.Config{}, err
	}
	return out, nil
}

type DispatchConfig struct {
	AgentName string `yaml:"agent_name"`
	// EnvFile holds provider credentials edited from the settings page.
	EnvFile   string `yaml:"env_file"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type AgentConfig struct {
	PersonaPath string `yaml:"persona_path"`
	Watch       bool   `yaml:"watch"`
}

type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	MaxTokens int    `yaml:"max_tokens"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "calldesk"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type AuthConfig struct {
	Enabled bool            `yaml:"enabled"`
	Header  string          `yaml:"header"`
	Keys    []AuthKeyConfig `yaml:"keys"`
}

type AuthKeyConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

// LimitsConfig guards outbound dialing. Zero disables a limit.
type LimitsConfig struct {
	CallsPerMinute   int     `yaml:"calls_per_minute"`
	MaxCostUSDPerDay float64 `yaml:"max_cost_usd_per_day"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5001,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/calldesk.db",
		},
		Pricing: PricingConfig{
			PriceTable: cost.DefaultPriceTable(),
			USDToINR:   cost.DefaultExchangeRate,
			Timezone:   "Local",
		},
		Dispatch: DispatchConfig{
			AgentName: "outbound-caller",
			EnvFile:   ".env",
			TimeoutMS: 10000,
		},
		Agent: AgentConfig{
			PersonaPath: "./data/persona.yaml",
			Watch:       true,
		},
		LLM: LLMConfig{
			BaseURL:   "https://api.groq.com/openai/v1",
			TimeoutMS: 30000,
			MaxTokens: 256,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
		Auth: AuthConfig{
			Enabled: false,
			Header:  "X-Calldesk-Key",
		},
	}
}

// Load reads the YAML file at path over Default(), loads the credentials
// env file into the process environment without overriding variables that
// are already set, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := decodeYAML(path, data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	envFile := cfg.Dispatch.EnvFile
	if override := strings.TrimSpace(os.Getenv("CALLDESK_ENV_FILE")); override != "" {
		envFile = override
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(path string, data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml %q: %w", path, err)
	}
	// A trailing document would silently be ignored; refuse it instead.
	var trailing any
	if err := decoder.Decode(&trailing); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml %q: %w", path, err)
	}
	if trailing != nil {
		return fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
	}
	return nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if err := cfg.Pricing.PriceTable.Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if cfg.Pricing.USDToINR <= 0 {
		return fmt.Errorf("pricing.usd_to_inr must be > 0 (got %v)", cfg.Pricing.USDToINR)
	}
	if _, err := loadLocation(cfg.Pricing.Timezone); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Dispatch.AgentName) == "" {
		return errors.New("dispatch.agent_name must not be empty")
	}
	if cfg.Dispatch.TimeoutMS <= 0 {
		return fmt.Errorf("dispatch.timeout_ms must be > 0 (got %d)", cfg.Dispatch.TimeoutMS)
	}
	if strings.TrimSpace(cfg.Agent.PersonaPath) == "" {
		return errors.New("agent.persona_path must not be empty")
	}

	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := validateAuth(cfg.Auth); err != nil {
		return err
	}
	if cfg.Limits.CallsPerMinute < 0 {
		return fmt.Errorf("limits.calls_per_minute must be >= 0 (got %d)", cfg.Limits.CallsPerMinute)
	}
	if cfg.Limits.MaxCostUSDPerDay < 0 {
		return fmt.Errorf("limits.max_cost_usd_per_day must be >= 0 (got %v)", cfg.Limits.MaxCostUSDPerDay)
	}
	return validateOTelConfig(cfg.Observability.OTel)
}

func validateLLM(cfg LLMConfig) error {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return fmt.Errorf("parse llm.base_url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("llm.base_url must include scheme and host (got %q)", cfg.BaseURL)
	}
	if cfg.TimeoutMS <= 0 {
		return fmt.Errorf("llm.timeout_ms must be > 0 (got %d)", cfg.TimeoutMS)
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be > 0 (got %d)", cfg.MaxTokens)
	}
	return nil
}

func validateAuth(cfg AuthConfig) error {
	if strings.TrimSpace(cfg.Header) == "" {
		return errors.New("auth.header must not be empty")
	}
	if cfg.Enabled && len(cfg.Keys) == 0 {
		return errors.New("auth.keys must contain at least one key when auth.enabled=true")
	}
	seen := make(map[string]struct{}, len(cfg.Keys))
	for idx, key := range cfg.Keys {
		name := fmt.Sprintf("auth.keys[%d]", idx)
		if strings.TrimSpace(key.Token) == "" {
			return fmt.Errorf("%s.token must not be empty", name)
		}
		if _, dup := seen[key.Token]; dup {
			return fmt.Errorf("%s.token duplicates an earlier key", name)
		}
		seen[key.Token] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(key.Role)) {
		case "", RoleAdmin, RoleViewer:
		default:
			return fmt.Errorf("%s.role must be one of admin, viewer (got %q)", name, key.Role)
		}
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	switch strings.TrimSpace(name) {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("pricing.timezone %q: %w", name, err)
	}
	return loc, nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("CALLDESK_HOST"); host != "" {
		cfg.Server.Host = host
	}
	// PORT is honored for platforms that inject it; CALLDESK_PORT wins.
	for _, name := range []string{"PORT", "CALLDESK_PORT"} {
		if port := strings.TrimSpace(os.Getenv(name)); port != "" {
			v, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			cfg.Server.Port = v
		}
	}

	if storageDriver := os.Getenv("CALLDESK_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("CALLDESK_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("CALLDESK_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}
	if envFile := os.Getenv("CALLDESK_ENV_FILE"); envFile != "" {
		cfg.Dispatch.EnvFile = envFile
	}
	if agentName := os.Getenv("CALLDESK_AGENT_NAME"); agentName != "" {
		cfg.Dispatch.AgentName = agentName
	}
	if personaPath := os.Getenv("CALLDESK_PERSONA_PATH"); personaPath != "" {
		cfg.Agent.PersonaPath = personaPath
	}
	if baseURL := os.Getenv("CALLDESK_LLM_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if rate := strings.TrimSpace(os.Getenv("CALLDESK_USD_TO_INR")); rate != "" {
		v, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return fmt.Errorf("invalid CALLDESK_USD_TO_INR: %w", err)
		}
		cfg.Pricing.USDToINR = v
	}
	if tz := os.Getenv("CALLDESK_TIMEZONE"); tz != "" {
		cfg.Pricing.Timezone = tz
	}

	if err := applyOTelEnv(&cfg.Observability.OTel); err != nil {
		return err
	}

	if authEnabled := os.Getenv("CALLDESK_AUTH_ENABLED"); authEnabled != "" {
		v, err := strconv.ParseBool(authEnabled)
		if err != nil {
			return fmt.Errorf("invalid CALLDESK_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if authHeader := os.Getenv("CALLDESK_AUTH_HEADER"); authHeader != "" {
		cfg.Auth.Header = authHeader
	}
	return nil
}

func applyOTelEnv(cfg *OTelConfig) error {
	configured := false
	sdkDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Enabled = !v
		sdkDisabledSet = true
		configured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Endpoint = endpoint
		configured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Insecure = v
		configured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.ServiceName = serviceName
		configured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.TracesEnabled = enabled
		configured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.MetricsEnabled = enabled
		configured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.SamplingRatio = v
		configured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.ExportTimeoutMS = v
		configured = true
	}
	if interval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); interval != "" {
		v, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.MetricExportIntervalMS = v
		configured = true
	}
	if configured && !sdkDisabledSet {
		cfg.Enabled = true
	}
	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}
