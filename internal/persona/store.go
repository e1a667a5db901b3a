package persona

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 100 * time.Millisecond

// FileStore keeps the persona YAML on disk and a cached copy in memory.
type FileStore struct {
	path string
	now  func() time.Time

	mu     sync.RWMutex
	cached *Persona

	// writeMu serializes read-merge-write cycles so concurrent partial
	// updates do not drop each other's fields.
	writeMu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: filepath.Clean(path),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file into the cache. A missing file yields Default().
func (s *FileStore) Load() (Persona, error) {
	p, err := s.read()
	if err != nil {
		return Persona{}, err
	}
	s.mu.Lock()
	s.cached = &p
	s.mu.Unlock()
	return p, nil
}

func (s *FileStore) read() (Persona, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Persona{}, fmt.Errorf("read persona %s: %w", s.path, err)
	}

	var p Persona
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return Persona{}, fmt.Errorf("parse persona %s: %w", s.path, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Get returns the cached persona, loading it on first use.
func (s *FileStore) Get() (Persona, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return s.Load()
}

// Save validates p, stamps it and atomically replaces the file.
func (s *FileStore) Save(p Persona) (Persona, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.saveLocked(p)
}

// saveLocked expects writeMu to be held.
func (s *FileStore) saveLocked(p Persona) (Persona, error) {
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	p.UpdatedAt = s.now()

	raw, err := yaml.Marshal(p)
	if err != nil {
		return Persona{}, fmt.Errorf("encode persona: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, raw); err != nil {
		return Persona{}, err
	}
	s.cached = &p
	return p, nil
}

// Update merges patch into the current persona and saves the result.
func (s *FileStore) Update(patch Patch) (Persona, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get()
	if err != nil {
		return Persona{}, err
	}
	return s.saveLocked(patch.Apply(current))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create persona directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp persona file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp persona file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp persona file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace persona file: %w", err)
	}
	return nil
}

// Watch reloads the cache whenever the file changes on disk, until ctx is
// done. The parent directory is watched so atomic renames are seen.
func (s *FileStore) Watch(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("create persona directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if _, err := s.Load(); err != nil {
						logger.Warn("persona reload failed; keeping previous persona", "path", s.path, "error", err)
						return
					}
					logger.Info("persona reloaded", "path", s.path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("persona watcher error", "error", err)
			}
		}
	}()
	return nil
}
