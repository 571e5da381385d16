package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Store guards a single swappable Snapshot. Reads and writes both take the
// same mutex, so a reader never observes a half-merged snapshot and two
// writers cannot interleave partial merges. The snapshot is hydrated from
// disk on first access; a missing or corrupt document silently yields the
// built-in defaults.
type Store struct {
	mu       sync.Mutex
	path     string
	current  *Snapshot
	logger   zerolog.Logger
	onUpdate func()
}

// NewStore creates a store persisting to path. Nothing is read until the
// first Get or Update.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// OnUpdate registers a hook invoked after every successful update, once the
// new snapshot has been persisted. The engine uses it to drop cached model
// state whose governing parameters changed.
func (s *Store) OnUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Get returns the current snapshot, loading it from disk on first call.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.load()
}

// load must be called with the mutex held.
func (s *Store) load() *Snapshot {
	if s.current != nil {
		return s.current
	}
	snap := Defaults()
	data, err := os.ReadFile(s.path)
	if err == nil {
		if unmarshalErr := json.Unmarshal(data, &snap); unmarshalErr != nil {
			s.logger.Warn().Err(unmarshalErr).Str("path", s.path).Msg("settings: stored document unreadable, using defaults")
			snap = Defaults()
		}
	}
	s.current = &snap
	return s.current
}

// Update merges only the supplied fields onto the current snapshot, swaps the
// cached reference, and persists the full document before returning. The new
// snapshot is active even when persisting fails; the error tells the caller
// the disk copy is stale.
func (s *Store) Update(fields map[string]any) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()
	merged, err := merge(*current, fields)
	if err != nil {
		return *current, err
	}
	s.current = &merged

	persistErr := s.persist(merged)
	if s.onUpdate != nil {
		s.onUpdate()
	}
	return merged, persistErr
}

// merge overlays fields (keyed by JSON tag) onto snap via a document-level
// round trip, so the result is exactly the field-wise merge the on-disk
// format would produce.
func merge(snap Snapshot, fields map[string]any) (Snapshot, error) {
	base, err := json.Marshal(snap)
	if err != nil {
		return snap, fmt.Errorf("settings: encode current: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(base, &doc); err != nil {
		return snap, fmt.Errorf("settings: decode current: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return snap, fmt.Errorf("settings: encode merged: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return snap, fmt.Errorf("settings: apply merged fields: %w", err)
	}
	return out, nil
}

func (s *Store) persist(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: ensure directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("settings: write document: %w", err)
	}
	return nil
}
