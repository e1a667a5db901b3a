package calls

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

// exerciseCallLifecycle drives a call from dispatch to completion and checks
// the stored row after each step.
func exerciseCallLifecycle(t *testing.T, store Store, phone string, base time.Time) {
	t.Helper()
	ctx := context.Background()
	cfg := cost.DefaultConfig()

	call := &Call{PhoneNumber: phone, RoomName: "call-" + phone[1:] + "-1234", DispatchID: "AD_test", Status: StatusDialing, CreatedAt: base}
	if err := store.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall() error: %v", err)
	}
	if call.ID == 0 {
		t.Fatal("CreateCall() did not assign id")
	}

	byRoom, err := store.GetCallByRoom(ctx, call.RoomName)
	if err != nil {
		t.Fatalf("GetCallByRoom() error: %v", err)
	}
	if byRoom.ID != call.ID || byRoom.Status != StatusDialing {
		t.Fatalf("GetCallByRoom()=%+v, want id %d dialing", byRoom, call.ID)
	}
	if !byRoom.CreatedAt.Equal(base) {
		t.Fatalf("created_at=%v, want %v", byRoom.CreatedAt, base)
	}

	progress, _ := NewPatch(UpdateRequest{Status: strPtr("in_progress")}, cfg, base.Add(5*time.Second))
	updated, err := store.UpdateCall(ctx, call.ID, progress)
	if err != nil {
		t.Fatalf("UpdateCall(in_progress) error: %v", err)
	}
	if updated.Status != StatusInProgress || updated.EndedAt != nil {
		t.Fatalf("after in_progress=%+v, want no ended_at", updated)
	}

	endedAt := base.Add(2 * time.Minute)
	done, _ := NewPatch(UpdateRequest{Status: strPtr("completed"), DurationSeconds: intPtr(120), Notes: strPtr(" interested ")}, cfg, endedAt)
	updated, err = store.UpdateCall(ctx, call.ID, done)
	if err != nil {
		t.Fatalf("UpdateCall(completed) error: %v", err)
	}
	want := done.Apply(*byRoom)
	want.Status = StatusCompleted
	if updated.DurationSeconds != 120 || updated.TotalCostUSD != want.TotalCostUSD || updated.TotalCostINR != want.TotalCostINR {
		t.Fatalf("after completed=%+v, want duration 120 usd %v inr %v", updated, want.TotalCostUSD, want.TotalCostINR)
	}
	if updated.CostTransport != 0.02 || updated.CostSTT != 0.0118 || updated.CostTTS != 0.054 || updated.CostLLM != 0.00276 {
		t.Fatalf("cost components=%+v", updated)
	}
	if updated.Notes != "interested" {
		t.Fatalf("notes=%q, want interested", updated.Notes)
	}
	if updated.EndedAt == nil || !updated.EndedAt.Equal(endedAt) {
		t.Fatalf("ended_at=%v, want %v", updated.EndedAt, endedAt)
	}

	again, _ := NewPatch(UpdateRequest{Status: strPtr("completed")}, cfg, endedAt.Add(time.Hour))
	updated, err = store.UpdateCall(ctx, call.ID, again)
	if err != nil {
		t.Fatalf("UpdateCall(completed again) error: %v", err)
	}
	if !updated.EndedAt.Equal(endedAt) {
		t.Fatalf("ended_at after re-apply=%v, want %v", updated.EndedAt, endedAt)
	}
	if updated.TotalCostUSD != 0.0886 {
		t.Fatalf("status-only update changed cost to %v", updated.TotalCostUSD)
	}

	if _, err := store.UpdateCall(ctx, call.ID+1_000_000, again); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateCall(missing) error=%v, want ErrNotFound", err)
	}
	if _, err := store.GetCall(ctx, call.ID+1_000_000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCall(missing) error=%v, want ErrNotFound", err)
	}

	first := &TranscriptEntry{CallID: call.ID, Speaker: "agent", Message: "Hello!", Timestamp: base.Add(time.Second)}
	second := &TranscriptEntry{CallID: call.ID, Speaker: "user", Message: "Hi.", Timestamp: base.Add(2 * time.Second)}
	for _, entry := range []*TranscriptEntry{second, first} {
		if err := store.AddTranscript(ctx, entry); err != nil {
			t.Fatalf("AddTranscript() error: %v", err)
		}
	}
	transcript, err := store.ListTranscript(ctx, call.ID)
	if err != nil {
		t.Fatalf("ListTranscript() error: %v", err)
	}
	if len(transcript) != 2 || transcript[0].Speaker != "agent" || transcript[1].Speaker != "user" {
		t.Fatalf("transcript=%+v, want agent then user", transcript)
	}
	if err := store.AddTranscript(ctx, &TranscriptEntry{CallID: call.ID + 1_000_000, Speaker: "x", Message: "y"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddTranscript(missing call) error=%v, want ErrNotFound", err)
	}
}

// exerciseCostWindows checks that store sums agree with in-memory
// aggregation over the same records. base must be far from other rows.
func exerciseCostWindows(t *testing.T, store Store, base time.Time) {
	t.Helper()
	ctx := context.Background()
	cfg := cost.DefaultConfig()

	durations := []int{0, 45, 120, 317, 600}
	entries := make([]cost.Entry, 0, len(durations))
	for i, seconds := range durations {
		call := &Call{PhoneNumber: fmt.Sprintf("+1555000%04d", i), Status: StatusDialing, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateCall(ctx, call); err != nil {
			t.Fatalf("CreateCall() error: %v", err)
		}
		patch, _ := NewPatch(UpdateRequest{DurationSeconds: intPtr(seconds)}, cfg, base)
		updated, err := store.UpdateCall(ctx, call.ID, patch)
		if err != nil {
			t.Fatalf("UpdateCall() error: %v", err)
		}
		entries = append(entries, updated.Entry())
	}

	from := base.Add(-time.Minute)
	to := base.Add(time.Duration(len(durations)) * time.Hour)
	sums, err := store.SummarizeCosts(ctx, CostFilter{From: from, To: to})
	if err != nil {
		t.Fatalf("SummarizeCosts() error: %v", err)
	}
	got := cost.TotalsFromSums(*sums, cfg.ExchangeRate)
	want := cost.Aggregate(entries, cost.WindowAllTime, to, time.UTC, cfg.ExchangeRate)
	want.Window = ""
	if got != want {
		t.Fatalf("store totals=%+v, want %+v", got, want)
	}

	listed, err := store.CostEntriesSince(ctx, from)
	if err != nil {
		t.Fatalf("CostEntriesSince() error: %v", err)
	}
	if len(listed) < len(entries) {
		t.Fatalf("CostEntriesSince() len=%d, want >= %d", len(listed), len(entries))
	}
}

func exerciseContacts(t *testing.T, store Store, phone string) {
	t.Helper()
	ctx := context.Background()

	contact := &Contact{Name: "  Priya Shah ", PhoneNumber: phone, Company: "Acme Dental"}
	if err := store.CreateContact(ctx, contact); err != nil {
		t.Fatalf("CreateContact() error: %v", err)
	}
	if contact.ID == 0 || contact.Name != "Priya Shah" {
		t.Fatalf("contact=%+v, want id and trimmed name", contact)
	}
	if err := store.CreateContact(ctx, &Contact{Name: "Dup", PhoneNumber: phone}); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("duplicate CreateContact() error=%v, want ErrDuplicatePhone", err)
	}
	if err := store.CreateContact(ctx, &Contact{Name: "", PhoneNumber: "+1"}); !errors.Is(err, ErrInvalidContact) {
		t.Fatalf("empty name error=%v, want ErrInvalidContact", err)
	}

	found, err := store.ListContacts(ctx, "acme dental")
	if err != nil {
		t.Fatalf("ListContacts() error: %v", err)
	}
	if len(found) == 0 || found[0].PhoneNumber != phone {
		t.Fatalf("ListContacts(acme dental)=%+v, want %s", found, phone)
	}

	calledAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.TouchContact(ctx, phone, calledAt); err != nil {
		t.Fatalf("TouchContact() error: %v", err)
	}
	got, err := store.GetContact(ctx, contact.ID)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if got.LastCalled == nil || !got.LastCalled.Equal(calledAt) {
		t.Fatalf("last_called=%v, want %v", got.LastCalled, calledAt)
	}

	got.Notes = "prefers mornings"
	if err := store.UpdateContact(ctx, got); err != nil {
		t.Fatalf("UpdateContact() error: %v", err)
	}
	got, _ = store.GetContact(ctx, contact.ID)
	if got.Notes != "prefers mornings" {
		t.Fatalf("notes=%q, want prefers mornings", got.Notes)
	}

	if err := store.DeleteContact(ctx, contact.ID); err != nil {
		t.Fatalf("DeleteContact() error: %v", err)
	}
	if err := store.DeleteContact(ctx, contact.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteContact() error=%v, want ErrNotFound", err)
	}
	if _, err := store.GetContact(ctx, contact.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetContact(deleted) error=%v, want ErrNotFound", err)
	}
}
