package main

import (
	"fmt"
	"strings"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/config"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

var newSQLiteStore = func(path string) (calls.Store, error) {
	return calls.NewSQLiteStore(path)
}

var newPostgresStore = func(dsn string) (calls.Store, error) {
	return calls.NewPostgresStore(dsn)
}

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

// openStore opens the configured call store. Both drivers apply pending
// migrations before returning.
func openStore(cfg config.Config) (calls.Store, error) {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		return newSQLiteStore(cfg.Storage.Path)
	case "postgres":
		return newPostgresStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}
