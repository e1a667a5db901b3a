package calls

import (
	"errors"
	"testing"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]Status{
		"completed":   StatusCompleted,
		" DIALING ":   StatusDialing,
		"in-progress": StatusInProgress,
		"no_answer":   StatusNoAnswer,
	} {
		got, err := ParseStatus(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseStatus("ringing"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus(ringing) error=%v, want ErrInvalidStatus", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{StatusCompleted: true, StatusFailed: true, StatusNoAnswer: true}
	for _, status := range Statuses() {
		if got := status.Terminal(); got != terminal[status] {
			t.Fatalf("%s.Terminal()=%v, want %v", status, got, terminal[status])
		}
	}
}

func TestNewPatchPricesDurationOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	patch, err := NewPatch(UpdateRequest{Status: strPtr("completed"), DurationSeconds: intPtr(120)}, cost.DefaultConfig(), now)
	if err != nil {
		t.Fatalf("NewPatch() error: %v", err)
	}
	if patch.Cost == nil || patch.DurationSeconds == nil {
		t.Fatal("duration patch must carry cost")
	}
	if patch.Cost.TotalUSD != 0.0886 || patch.Cost.TotalINR != 7.35 {
		t.Fatalf("cost=%+v, want usd 0.0886 inr 7.35", *patch.Cost)
	}
	if patch.EndedAt == nil || !patch.EndedAt.Equal(now) {
		t.Fatalf("ended_at=%v, want %v", patch.EndedAt, now)
	}
}

func TestNewPatchNonTerminalStatusLeavesEndedAt(t *testing.T) {
	t.Parallel()

	patch, err := NewPatch(UpdateRequest{Status: strPtr("in_progress")}, cost.DefaultConfig(), time.Now())
	if err != nil {
		t.Fatalf("NewPatch() error: %v", err)
	}
	if patch.EndedAt != nil {
		t.Fatalf("ended_at=%v, want nil", patch.EndedAt)
	}
	if patch.Cost != nil {
		t.Fatal("status-only patch should not carry cost")
	}
}

func TestNewPatchRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cfg := cost.DefaultConfig()
	if _, err := NewPatch(UpdateRequest{DurationSeconds: intPtr(-1)}, cfg, time.Now()); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("negative duration error=%v, want ErrInvalidDuration", err)
	}
	if _, err := NewPatch(UpdateRequest{Status: strPtr("bogus")}, cfg, time.Now()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status error=%v, want ErrInvalidStatus", err)
	}
	if _, err := NewPatch(UpdateRequest{}, cfg, time.Now()); !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("empty update error=%v, want ErrEmptyUpdate", err)
	}
}

func TestPatchApplyKeepsFirstEndedAt(t *testing.T) {
	t.Parallel()

	first := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	call := Call{ID: 1, Status: StatusDialing}

	patch, _ := NewPatch(UpdateRequest{Status: strPtr("completed")}, cost.DefaultConfig(), first)
	call = patch.Apply(call)
	if call.EndedAt == nil || !call.EndedAt.Equal(first) {
		t.Fatalf("ended_at=%v, want %v", call.EndedAt, first)
	}

	again, _ := NewPatch(UpdateRequest{Status: strPtr("failed")}, cost.DefaultConfig(), first.Add(time.Hour))
	call = again.Apply(call)
	if !call.EndedAt.Equal(first) {
		t.Fatalf("ended_at after re-terminal=%v, want %v", call.EndedAt, first)
	}
	if call.Status != StatusFailed {
		t.Fatalf("status=%s, want failed", call.Status)
	}
}

func TestNewPatchMatchesApplyDuration(t *testing.T) {
	t.Parallel()

	cfg := cost.DefaultConfig()
	for _, seconds := range []int{0, 45, 120, 3599} {
		patch, err := NewPatch(UpdateRequest{DurationSeconds: intPtr(seconds)}, cfg, time.Now())
		if err != nil {
			t.Fatalf("NewPatch(%d) error: %v", seconds, err)
		}
		want := cfg.Compute(seconds)
		if *patch.Cost != want {
			t.Fatalf("d=%d patch cost=%+v, want %+v", seconds, *patch.Cost, want)
		}
		applied := patch.Apply(Call{ID: 1})
		if applied != ApplyDuration(Call{ID: 1}, seconds, cfg) {
			t.Fatalf("d=%d Apply()=%+v differs from ApplyDuration", seconds, applied)
		}
	}
}

func TestApplyDurationWritesAllCostFields(t *testing.T) {
	t.Parallel()

	call := ApplyDuration(Call{ID: 7, Status: StatusCompleted}, 120, cost.DefaultConfig())
	if call.DurationSeconds != 120 {
		t.Fatalf("duration=%d, want 120", call.DurationSeconds)
	}
	if call.CostTransport != 0.02 || call.CostSTT != 0.0118 || call.CostTTS != 0.054 || call.CostLLM != 0.00276 {
		t.Fatalf("components=%v/%v/%v/%v", call.CostTransport, call.CostSTT, call.CostTTS, call.CostLLM)
	}
	if call.TotalCostUSD != 0.0886 || call.TotalCostINR != 7.35 {
		t.Fatalf("totals=%v/%v, want 0.0886/7.35", call.TotalCostUSD, call.TotalCostINR)
	}
	if call.Status != StatusCompleted {
		t.Fatalf("status=%s, want completed", call.Status)
	}
}

func TestDailyCounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	entries := []cost.Entry{
		{CreatedAt: now.Add(-time.Hour), Cost: cost.Breakdown{TotalUSD: 0.0886}},
		{CreatedAt: now.Add(-2 * time.Hour), Cost: cost.Breakdown{TotalUSD: 0.0886}},
		{CreatedAt: now.AddDate(0, 0, -2), Cost: cost.Breakdown{TotalUSD: 0.01}},
		{CreatedAt: now.AddDate(0, 0, -30)},
	}
	got := DailyCounts(entries, 7, now, time.UTC)
	if len(got) != 7 {
		t.Fatalf("len=%d, want 7", len(got))
	}
	if got[0].Date != "2026-06-04" || got[6].Date != "2026-06-10" {
		t.Fatalf("range=%s..%s, want 2026-06-04..2026-06-10", got[0].Date, got[6].Date)
	}
	if got[6].Count != 2 || got[6].CostUSD != 0.1772 {
		t.Fatalf("today=%+v, want 2 calls 0.1772", got[6])
	}
	if got[4].Count != 1 {
		t.Fatalf("two days ago=%+v, want 1 call", got[4])
	}
	if start := DailyWindowStart(7, now, time.UTC); !start.Equal(time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("DailyWindowStart=%v", start)
	}
}
