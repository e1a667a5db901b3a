package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/auth"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/config"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/settings"
)

const defaultDoctorFormat = "text"

const doctorStorageTimeout = 5 * time.Second

const (
	doctorStatusPass = "pass"
	doctorStatusWarn = "warn"
	doctorStatusFail = "fail"
	doctorStatusSkip = "skip"
)

type doctorDocument struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	ConfigPath    string        `json:"config_path"`
	OverallStatus string        `json:"overall_status"`
	Checks        []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Details []string `json:"details,omitempty"`
}

var doctorDependentChecks = []string{"storage", "credentials", "persona", "auth_posture"}

func runDoctor(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultDoctorFormat, "Output format: text or json")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "doctor does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("doctor", *format, defaultDoctorFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	document := buildDoctorDocument(strings.TrimSpace(*configPath))
	if err := writeDoctor(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write doctor output: %v\n", err)
		return 1
	}
	if document.OverallStatus == doctorStatusFail {
		return 1
	}
	return 0
}

func buildDoctorDocument(configPath string) doctorDocument {
	doc := doctorDocument{
		GeneratedAt: time.Now().UTC(),
		ConfigPath:  configPath,
		Checks:      make([]doctorCheck, 0, 1+len(doctorDependentChecks)),
	}

	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		summary, skipped := "failed to load config", "skipped: config failed to load"
		if stage == configStageValidate {
			summary, skipped = "config is invalid", "skipped: config validation failed"
		}
		doc.Checks = append(doc.Checks, doctorCheck{
			Name:    "config",
			Status:  doctorStatusFail,
			Summary: summary,
			Details: []string{err.Error()},
		})
		for _, name := range doctorDependentChecks {
			doc.Checks = append(doc.Checks, doctorCheck{Name: name, Status: doctorStatusSkip, Summary: skipped})
		}
		doc.OverallStatus = doctorOverallStatus(doc.Checks)
		return doc
	}

	doc.Checks = append(doc.Checks,
		doctorCheck{
			Name:    "config",
			Status:  doctorStatusPass,
			Summary: "loaded and validated configuration",
			Details: []string{fmt.Sprintf("config path: %s", nonEmpty(configPath, "(defaults)"))},
		},
		runDoctorStorageCheck(cfg),
		runDoctorCredentialsCheck(cfg),
		runDoctorPersonaCheck(cfg),
		runDoctorAuthPostureCheck(cfg),
	)
	doc.OverallStatus = doctorOverallStatus(doc.Checks)
	return doc
}

func runDoctorStorageCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "storage"}
	store, err := openStore(cfg)
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "failed to initialize call storage"
		check.Details = []string{err.Error()}
		return check
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorStorageTimeout)
	defer cancel()

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "call storage connectivity check failed"
		check.Details = []string{err.Error()}
		if closeErr := store.Close(); closeErr != nil {
			check.Details = append(check.Details, fmt.Sprintf("close call store: %v", closeErr))
		}
		return check
	}
	applied, err := store.AppliedMigrations(ctx)
	if err != nil {
		check.Details = append(check.Details, fmt.Sprintf("read migrations: %v", err))
	}

	total := int64(0)
	for _, n := range counts {
		total += n
	}

	check.Status = doctorStatusPass
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		path := strings.TrimSpace(cfg.Storage.Path)
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		check.Summary = "connected to sqlite call storage"
		check.Details = append(check.Details, fmt.Sprintf("path: %s", path))
	case "postgres":
		check.Summary = "connected to postgres call storage"
	}
	check.Details = append(check.Details,
		fmt.Sprintf("calls recorded: %d", total),
		fmt.Sprintf("migrations applied: %d", len(applied)),
	)
	if closeErr := store.Close(); closeErr != nil {
		check.Status = doctorStatusWarn
		check.Summary += " with close warning"
		check.Details = append(check.Details, fmt.Sprintf("close call store: %v", closeErr))
	}
	return check
}

// runDoctorCredentialsCheck reports which provider settings are missing.
// Missing credentials only warn: the dashboard is usable for editing them.
func runDoctorCredentialsCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "credentials"}
	envFile := settings.NewEnvFile(cfg.Dispatch.EnvFile)
	if _, err := envFile.Read(); err != nil {
		check.Status = doctorStatusFail
		check.Summary = "failed to read credentials env file"
		check.Details = []string{err.Error()}
		return check
	}

	var missing []string
	for _, key := range []string{
		settings.KeyLiveKitURL,
		settings.KeyLiveKitAPIKey,
		settings.KeyLiveKitAPISecret,
		settings.KeySIPTrunkID,
		settings.KeyGroqAPIKey,
	} {
		if strings.TrimSpace(envFile.Lookup(key)) == "" {
			missing = append(missing, key)
		}
	}

	check.Details = []string{fmt.Sprintf("env file: %s", cfg.Dispatch.EnvFile)}
	if len(missing) > 0 {
		check.Status = doctorStatusWarn
		check.Summary = "some provider credentials are not configured"
		check.Details = append(check.Details, "missing: "+strings.Join(missing, ", "))
		return check
	}
	status := envFile.Status()
	check.Status = doctorStatusPass
	check.Summary = "provider credentials are configured"
	check.Details = append(check.Details,
		fmt.Sprintf("livekit url: %s", status.LiveKitURL),
		fmt.Sprintf("outbound number: %s", status.OutboundNumber),
	)
	return check
}

func runDoctorPersonaCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "persona"}
	store := persona.NewFileStore(cfg.Agent.PersonaPath)
	p, err := store.Load()
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "persona file is not usable"
		check.Details = []string{err.Error()}
		return check
	}

	check.Details = []string{
		fmt.Sprintf("path: %s", store.Path()),
		fmt.Sprintf("system prompt tokens: %d", persona.CountTokens(p.SystemPrompt)),
	}
	if _, err := os.Stat(store.Path()); errors.Is(err, fs.ErrNotExist) {
		check.Status = doctorStatusWarn
		check.Summary = "persona file not found; the built-in default persona is used"
		return check
	}
	check.Status = doctorStatusPass
	check.Summary = "persona file loaded"
	return check
}

func runDoctorAuthPostureCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{Name: "auth_posture"}
	header := strings.TrimSpace(cfg.Auth.Header)

	if strings.EqualFold(header, "Authorization") {
		check.Status = doctorStatusFail
		check.Summary = "auth header conflicts with the LiveKit webhook signature header"
		check.Details = []string{fmt.Sprintf("auth.header=%q", header)}
		return check
	}
	if !cfg.Auth.Enabled {
		check.Status = doctorStatusWarn
		check.Summary = "api auth is disabled"
		check.Details = []string{
			fmt.Sprintf("auth.enabled=false (header: %s)", header),
			"anyone who can reach the server can place calls and edit credentials",
		}
		return check
	}

	keys := authKeysFromConfig(cfg.Auth.Keys)
	if _, err := auth.NewAuthorizer(auth.Options{Enabled: true, Header: header, Keys: keys}); err != nil {
		check.Status = doctorStatusFail
		check.Summary = "api auth configuration is not runnable"
		check.Details = []string{err.Error()}
		return check
	}

	admins := 0
	for _, key := range keys {
		if role := strings.ToLower(strings.TrimSpace(key.Role)); role == "" || role == auth.RoleAdmin {
			admins++
		}
	}
	check.Status = doctorStatusPass
	check.Summary = "api auth posture is healthy"
	check.Details = []string{
		fmt.Sprintf("auth header: %s", header),
		fmt.Sprintf("keys: %d (admin: %d, viewer: %d)", len(keys), admins, len(keys)-admins),
	}
	return check
}

func doctorOverallStatus(checks []doctorCheck) string {
	hasWarn := false
	for _, check := range checks {
		switch check.Status {
		case doctorStatusFail:
			return doctorStatusFail
		case doctorStatusWarn:
			hasWarn = true
		}
	}
	if hasWarn {
		return doctorStatusWarn
	}
	return doctorStatusPass
}

func writeDoctor(out io.Writer, format string, doc doctorDocument) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	default:
		return writeDoctorText(out, doc)
	}
}

func writeDoctorText(out io.Writer, doc doctorDocument) error {
	fmt.Fprintln(out, "Calldesk Doctor")

	meta := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(meta, "Generated at\t%s\n", doc.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(meta, "Config path\t%s\n", nonEmpty(doc.ConfigPath, defaultConfigPath))
	fmt.Fprintf(meta, "Overall status\t%s\n", strings.ToUpper(doc.OverallStatus))
	if err := meta.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nChecks")
	for _, check := range doc.Checks {
		fmt.Fprintf(out, "- [%s] %s: %s\n", strings.ToUpper(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "  %s\n", detail)
		}
	}
	return nil
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
