// Package snapshot implements the "any persistent storage beyond an
// in-memory store with optional snapshotting" surface of spec.md §1: a
// periodic, crash-safe dump of the store's order hashes to a JSON file and
// a restore path run at startup when OES_NO_CLEAR_DATA is set.
//
// Grounded on 0xtitan6-polymarket-mm/internal/store.Store's SavePosition:
// the same write-to-.tmp-then-rename atomic file replacement, generalized
// from one position per file to one file holding every order hash in the
// store.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

// Source is the subset of store.Store a snapshot needs.
type Source interface {
	Scan(pattern string) []string
	HGet(key string) (map[string]string, bool)
	HSet(key string, fields map[string]string)
}

// Snapshotter periodically dumps a store's order hashes to path.
type Snapshotter struct {
	store Source
	path  string
	every time.Duration
}

// New constructs a Snapshotter writing to path every `every`.
func New(s Source, path string, every time.Duration) *Snapshotter {
	return &Snapshotter{store: s, path: path, every: every}
}

// Save writes every "order:*" hash in the store to path, atomically.
func (s *Snapshotter) Save() error {
	dump := make(map[string]map[string]string)
	for _, key := range s.store.Scan("order:*") {
		if rec, ok := s.store.HGet(key); ok {
			dump[key] = rec
		}
	}

	data, err := json.Marshal(dump)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Restorer rebuilds a book's sorted sets once its hashes are loaded.
type Restorer interface {
	Reindex()
}

// Load restores every hash from path into the store and reindexes book.
// A missing file is not an error — it means this is a fresh start.
func Load(s Source, path string, book Restorer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var dump map[string]map[string]string
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	for key, fields := range dump {
		s.HSet(key, fields)
	}
	book.Reindex()
	log.Info().Int("orders", len(dump)).Str("path", path).Msg("restored snapshot")
	return nil
}

// Run starts the periodic save loop as a tomb-managed goroutine. It saves
// once more on shutdown so the final state before exit is captured.
func (s *Snapshotter) Run(t *tomb.Tomb) {
	t.Go(func() error {
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-t.Dying():
				if err := s.Save(); err != nil {
					log.Error().Err(err).Msg("final snapshot save failed")
				}
				return nil
			case <-ticker.C:
				if err := s.Save(); err != nil {
					log.Error().Err(err).Msg("periodic snapshot save failed")
				}
			}
		}
	})
}
