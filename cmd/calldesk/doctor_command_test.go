package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeDoctor(t *testing.T, body []byte) doctorDocument {
	t.Helper()
	var doc doctorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode doctor json: %v\nbody=%s", err, body)
	}
	return doc
}

func doctorCheckByName(t *testing.T, doc doctorDocument, name string) doctorCheck {
	t.Helper()
	for _, check := range doc.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q missing from %+v", name, doc.Checks)
	return doctorCheck{}
}

func TestRunDoctorWarnsOnFreshInstall(t *testing.T) {
	t.Parallel()

	fixture := writeTestConfig(t, testConfigOptions{})

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runDoctor([]string{"--config", fixture.configPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runDoctor() code=%d, want 0 (stderr=%q)", code, stderr.String())
	}
	body := stdout.String()
	if !strings.Contains(body, "Calldesk Doctor") {
		t.Fatalf("stdout=%q, want doctor header", body)
	}
	for _, want := range []string{
		"[PASS] config",
		"[PASS] storage",
		"[WARN] persona",
		"[WARN] auth_posture",
		"auth.enabled=false",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stdout missing %q:\n%s", want, body)
		}
	}
}

func TestRunDoctorJSONPassesAuthWithKeys(t *testing.T) {
	t.Parallel()

	fixture := writeTestConfig(t, testConfigOptions{
		authEnabled: true,
		keys:        []string{"admin", "viewer"},
		personaBody: "system_prompt: You are Maya.\ninitial_greeting: Hi!\n",
	})

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if code := runDoctor([]string{"--config", fixture.configPath, "--format", "json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("runDoctor() code=%d, want 0 (stderr=%q)", code, stderr.String())
	}
	doc := decodeDoctor(t, stdout.Bytes())

	authCheck := doctorCheckByName(t, doc, "auth_posture")
	if authCheck.Status != doctorStatusPass {
		t.Fatalf("auth_posture=%+v, want pass", authCheck)
	}
	if !strings.Contains(strings.Join(authCheck.Details, "\n"), "keys: 2 (admin: 1, viewer: 1)") {
		t.Fatalf("auth details=%v", authCheck.Details)
	}
	if got := doctorCheckByName(t, doc, "persona"); got.Status != doctorStatusPass {
		t.Fatalf("persona=%+v, want pass", got)
	}
	if got := doctorCheckByName(t, doc, "storage"); got.Status != doctorStatusPass {
		t.Fatalf("storage=%+v, want pass", got)
	}
}

func TestRunDoctorFailsOnBrokenPersona(t *testing.T) {
	t.Parallel()

	fixture := writeTestConfig(t, testConfigOptions{personaBody: "system_prompt: \"\"\n"})

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if code := runDoctor([]string{"--config", fixture.configPath, "--format", "json"}, &stdout, &stderr); code != 1 {
		t.Fatalf("runDoctor() code=%d, want 1", code)
	}
	doc := decodeDoctor(t, stdout.Bytes())
	if doc.OverallStatus != doctorStatusFail {
		t.Fatalf("overall=%q, want fail", doc.OverallStatus)
	}
	if got := doctorCheckByName(t, doc, "persona"); got.Status != doctorStatusFail {
		t.Fatalf("persona=%+v, want fail", got)
	}
}

func TestRunDoctorFailsWhenAuthHeaderIsAuthorization(t *testing.T) {
	t.Parallel()

	fixture := writeTestConfig(t, testConfigOptions{authHeader: "Authorization"})

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if code := runDoctor([]string{"--config", fixture.configPath}, &stdout, &stderr); code != 1 {
		t.Fatalf("runDoctor() code=%d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "[FAIL] auth_posture") {
		t.Fatalf("stdout=%q, want auth failure", stdout.String())
	}
}

func TestRunDoctorSkipsDependentChecksOnInvalidConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "calldesk.yaml")
	if err := os.WriteFile(configPath, []byte("storage:\n  driver: mysql\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if code := runDoctor([]string{"--config", configPath, "--format", "json"}, &stdout, &stderr); code != 1 {
		t.Fatalf("runDoctor() code=%d, want 1", code)
	}
	doc := decodeDoctor(t, stdout.Bytes())
	if got := doctorCheckByName(t, doc, "config"); got.Status != doctorStatusFail || got.Summary != "config is invalid" {
		t.Fatalf("config=%+v", got)
	}
	for _, name := range doctorDependentChecks {
		if got := doctorCheckByName(t, doc, name); got.Status != doctorStatusSkip {
			t.Fatalf("%s=%+v, want skip", name, got)
		}
	}
}

func TestDoctorOverallStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		statuses []string
		want     string
	}{
		{statuses: []string{doctorStatusPass, doctorStatusPass}, want: doctorStatusPass},
		{statuses: []string{doctorStatusPass, doctorStatusWarn, doctorStatusSkip}, want: doctorStatusWarn},
		{statuses: []string{doctorStatusWarn, doctorStatusFail}, want: doctorStatusFail},
	}
	for _, tt := range tests {
		checks := make([]doctorCheck, 0, len(tt.statuses))
		for _, status := range tt.statuses {
			checks = append(checks, doctorCheck{Status: status})
		}
		if got := doctorOverallStatus(checks); got != tt.want {
			t.Fatalf("doctorOverallStatus(%v)=%q, want %q", tt.statuses, got, tt.want)
		}
	}
}
