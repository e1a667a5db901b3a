package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Address() != "0.0.0.0:5001" {
		t.Fatalf("server address=%q, want 0.0.0.0:5001", cfg.Server.Address())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage.driver=%q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Pricing.TransportPerMinute != 0.010 || cfg.Pricing.AvgTokensPerCall != 2000 {
		t.Fatalf("pricing=%+v, want default table", cfg.Pricing.PriceTable)
	}
	if cfg.Pricing.USDToINR != 83.0 {
		t.Fatalf("pricing.usd_to_inr=%v, want 83", cfg.Pricing.USDToINR)
	}
	if cfg.Dispatch.AgentName != "outbound-caller" {
		t.Fatalf("dispatch.agent_name=%q, want outbound-caller", cfg.Dispatch.AgentName)
	}
	if cfg.Observability.OTel.Enabled {
		t.Fatal("observability.otel.enabled=true, want false")
	}
	if cfg.Auth.Header != "X-Calldesk-Key" {
		t.Fatalf("auth.header=%q, want X-Calldesk-Key", cfg.Auth.Header)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(defaults) error: %v", err)
	}
}

func TestLoadAppliesYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "calldesk.yaml")
	configYAML := `server:
  host: 127.0.0.1
  port: 9090
storage:
  driver: sqlite
  path: /tmp/custom.db
pricing:
  transport_per_minute: 0.02
  stt_per_minute: 0.0059
  tts_per_minute: 0.027
  llm_input_per_token: 0.00000059
  llm_output_per_token: 0.00000079
  avg_tokens_per_call: 1500
  usd_to_inr: 84.5
  timezone: UTC
dispatch:
  agent_name: yaml-agent
  env_file: ` + filepath.Join(dir, "missing.env") + `
  timeout_ms: 5000
limits:
  calls_per_minute: 3
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CALLDESK_PORT", "7070")
	t.Setenv("CALLDESK_USD_TO_INR", "90")
	t.Setenv("CALLDESK_AGENT_NAME", "env-agent")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 7070 {
		t.Fatalf("server=%+v, want 127.0.0.1:7070", cfg.Server)
	}
	if cfg.Pricing.TransportPerMinute != 0.02 || cfg.Pricing.AvgTokensPerCall != 1500 {
		t.Fatalf("pricing=%+v, want yaml values", cfg.Pricing.PriceTable)
	}
	if cfg.Pricing.USDToINR != 90 {
		t.Fatalf("usd_to_inr=%v, want env override 90", cfg.Pricing.USDToINR)
	}
	if cfg.Dispatch.AgentName != "env-agent" {
		t.Fatalf("agent_name=%q, want env-agent", cfg.Dispatch.AgentName)
	}
	if cfg.Limits.CallsPerMinute != 3 {
		t.Fatalf("calls_per_minute=%d, want 3", cfg.Limits.CallsPerMinute)
	}

	costCfg, err := cfg.Pricing.CostConfig()
	if err != nil {
		t.Fatalf("CostConfig() error: %v", err)
	}
	if costCfg.Location != time.UTC || costCfg.ExchangeRate != 90 {
		t.Fatalf("cost config=%+v, want UTC and rate 90", costCfg)
	}
}

func TestLoadEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "creds.env")
	if err := os.WriteFile(envPath, []byte("CALLDESK_HOST=10.0.0.1\nCALLDESK_STORAGE_PATH=/from/file.db\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CALLDESK_ENV_FILE", envPath)
	t.Setenv("CALLDESK_STORAGE_PATH", "/from/process.db")
	t.Setenv("CALLDESK_HOST", "")
	_ = os.Unsetenv("CALLDESK_HOST")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Host != "10.0.0.1" {
		t.Fatalf("host=%q, want value from env file", cfg.Server.Host)
	}
	if cfg.Storage.Path != "/from/process.db" {
		t.Fatalf("storage.path=%q, want process env to win", cfg.Storage.Path)
	}
	_ = os.Unsetenv("CALLDESK_HOST")
}

func TestLoadRejectsUnknownFieldsAndMultipleDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("server:\n  hostname: x\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(unknown); err == nil {
		t.Fatal("Load(unknown field) error=nil, want error")
	}

	multi := filepath.Join(dir, "multi.yaml")
	if err := os.WriteFile(multi, []byte("server:\n  port: 1\n---\nserver:\n  port: 2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(multi)
	if err == nil || !strings.Contains(err.Error(), "multiple yaml documents") {
		t.Fatalf("Load(multi) error=%v, want multiple documents error", err)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, want: "storage.driver"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.dsn"},
		{name: "negative price", mutate: func(c *Config) { c.Pricing.STTPerMinute = -0.1 }, want: "stt_per_minute"},
		{name: "rate", mutate: func(c *Config) { c.Pricing.USDToINR = 0 }, want: "usd_to_inr"},
		{name: "timezone", mutate: func(c *Config) { c.Pricing.Timezone = "Mars/Olympus" }, want: "pricing.timezone"},
		{name: "agent name", mutate: func(c *Config) { c.Dispatch.AgentName = " " }, want: "dispatch.agent_name"},
		{name: "llm url", mutate: func(c *Config) { c.LLM.BaseURL = "groq" }, want: "llm.base_url"},
		{name: "auth without keys", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.keys"},
		{name: "auth role", mutate: func(c *Config) {
			c.Auth.Keys = []AuthKeyConfig{{ID: "k", Token: "t", Role: "owner"}}
		}, want: "role"},
		{name: "limits", mutate: func(c *Config) { c.Limits.CallsPerMinute = -1 }, want: "limits.calls_per_minute"},
		{name: "otel ratio", mutate: func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.SamplingRatio = 2
		}, want: "sampling_ratio"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error=%v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestOTelEnvEnablesExport(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	otel := cfg.Observability.OTel
	if !otel.Enabled || otel.Endpoint != "collector:4318" || otel.MetricsEnabled {
		t.Fatalf("otel=%+v, want enabled with metrics disabled", otel)
	}

	t.Setenv("OTEL_TRACES_EXPORTER", "zipkin")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() error=nil, want invalid OTEL_TRACES_EXPORTER")
	}
}
