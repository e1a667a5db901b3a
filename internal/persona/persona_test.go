package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func strPtr(v string) *string { return &v }

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "persona.yaml"))
	p, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p.SystemPrompt != Default().SystemPrompt {
		t.Fatalf("system prompt=%q, want default", p.SystemPrompt)
	}
	if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("Load() should not create the file")
	}
}

func TestSaveRoundTripsThroughDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent", "persona.yaml")
	store := NewFileStore(path)
	fixed := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	saved, err := store.Save(Persona{
		SystemPrompt:     "You are Maya.\nBook appointments \"politely\".",
		InitialGreeting:  `Hi, it's "Maya"!`,
		FallbackGreeting: "Hello!",
	})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !saved.UpdatedAt.Equal(fixed) {
		t.Fatalf("updated_at=%v, want %v", saved.UpdatedAt, fixed)
	}

	reloaded, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if reloaded.SystemPrompt != saved.SystemPrompt || reloaded.InitialGreeting != saved.InitialGreeting {
		t.Fatalf("reloaded=%+v, want %+v", reloaded, saved)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want only persona.yaml", len(entries))
	}
}

func TestSaveRejectsEmptySystemPrompt(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "persona.yaml"))
	if _, err := store.Save(Persona{SystemPrompt: "  "}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Save() error=%v, want ErrInvalid", err)
	}
}

func TestUpdateMergesPartialPatch(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "persona.yaml"))
	if _, err := store.Save(Persona{SystemPrompt: "prompt", InitialGreeting: "hi", FallbackGreeting: "hello"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	updated, err := store.Update(Patch{InitialGreeting: strPtr("  hey there  ")})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.SystemPrompt != "prompt" || updated.InitialGreeting != "hey there" || updated.FallbackGreeting != "hello" {
		t.Fatalf("updated=%+v", updated)
	}

	if _, err := store.Update(Patch{SystemPrompt: strPtr("")}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Update() clearing prompt error=%v, want ErrInvalid", err)
	}
	current, _ := store.Get()
	if current.SystemPrompt != "prompt" {
		t.Fatalf("failed update changed the cache: %+v", current)
	}
}

func TestConcurrentPartialUpdatesKeepEveryField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persona.yaml")
	store := NewFileStore(path)
	if _, err := store.Save(Persona{SystemPrompt: "prompt"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	for round := 0; round < 20; round++ {
		greeting := "hi " + strings.Repeat("!", round)
		fallback := "hello " + strings.Repeat("?", round)

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, patch := range []Patch{{InitialGreeting: strPtr(greeting)}, {FallbackGreeting: strPtr(fallback)}} {
			wg.Add(1)
			go func(patch Patch) {
				defer wg.Done()
				_, err := store.Update(patch)
				errs <- err
			}(patch)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Update() error: %v", err)
			}
		}

		got, err := NewFileStore(path).Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if got.InitialGreeting != strings.TrimSpace(greeting) || got.FallbackGreeting != strings.TrimSpace(fallback) {
			t.Fatalf("round %d: persona=%+v, want both fields kept", round, got)
		}
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("system_prompt: hi\nvoice: aura\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path).Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persona.yaml")
	store := NewFileStore(path)
	if _, err := store.Save(Persona{SystemPrompt: "before"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.Watch(ctx, nil); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("system_prompt: after\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := store.Get(); p.SystemPrompt == "after" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("persona cache was not reloaded after external edit")
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	templates, err := Templates()
	if err != nil {
		t.Fatalf("Templates() error: %v", err)
	}
	want := []string{"website_sales", "appointment_setter", "customer_support", "lead_qualifier", "reminder_agent"}
	if len(templates) != len(want) {
		t.Fatalf("templates=%d, want %d", len(templates), len(want))
	}
	for i, id := range want {
		tmpl := templates[i]
		if tmpl.ID != id {
			t.Fatalf("template[%d]=%q, want %q", i, tmpl.ID, id)
		}
		if err := tmpl.Persona().Validate(); err != nil {
			t.Fatalf("template %s invalid: %v", id, err)
		}
		if tmpl.InitialGreeting == "" || tmpl.FallbackGreeting == "" {
			t.Fatalf("template %s missing greetings", id)
		}
	}
	if !strings.Contains(templates[0].SystemPrompt, "Krish") {
		t.Fatal("website_sales template should introduce Krish")
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	if got := CountTokens(""); got != 0 {
		t.Fatalf("CountTokens(\"\")=%d, want 0", got)
	}
	short := CountTokens("Hello there")
	long := CountTokens(strings.Repeat("Hello there, how are you doing today? ", 20))
	if short <= 0 || long <= short {
		t.Fatalf("token counts short=%d long=%d, want 0 < short < long", short, long)
	}
	if got := estimateTokens("abc"); got != 1 {
		t.Fatalf("estimateTokens(abc)=%d, want 1", got)
	}
}
