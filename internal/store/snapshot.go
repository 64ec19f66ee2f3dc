package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/five82/segcache/internal/segment"
)

// Snapshot is the serializable state of a store, handed from a server
// execution to a client execution for hydration.
type Snapshot struct {
	ID        string                    `json:"id"`
	StoreID   string                    `json:"store_id"`
	Mode      string                    `json:"mode"`
	CreatedAt time.Time                 `json:"created_at"`
	Segments  map[string]*segment.State `json:"segments"`
}

// Snapshot captures the current state of every segment. States are immutable,
// so the snapshot shares them with the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		ID:        uuid.NewString(),
		StoreID:   s.id,
		Mode:      s.mode.String(),
		CreatedAt: time.Now().UTC(),
		Segments:  maps.Clone(s.states),
	}
}

// Hydrate restores the loaded pieces of snap into registered segments and
// returns how many it restored. Placeholders and failed pieces are skipped so
// the client fetches them; segments this store does not know are logged and
// skipped.
func (s *Store) Hydrate(ctx context.Context, snap *Snapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}
	restored := 0
	for _, segmentID := range slices.Sorted(maps.Keys(snap.Segments)) {
		s.mu.RLock()
		r, ok := s.segments[segmentID]
		s.mu.RUnlock()
		if !ok {
			s.logger.WarnContext(ctx, "snapshot segment not registered",
				slog.String("segment", segmentID),
				slog.String("snapshot_id", snap.ID),
			)
			continue
		}

		state := snap.Segments[segmentID]
		for _, queryID := range state.QueryIDs() {
			p := state.Piece(queryID)
			if !p.Loaded || p.Err != nil {
				continue
			}
			if err := s.Publish(ctx, r.Restore(queryID, p)); err != nil {
				return restored, fmt.Errorf("store: hydrate %s: %w", segmentID, err)
			}
			restored++
		}
	}

	s.logger.InfoContext(ctx, "store hydrated",
		slog.String("snapshot_id", snap.ID),
		slog.String("source_store", snap.StoreID),
		slog.Int("pieces", restored),
	)
	return restored, nil
}

// WriteSnapshot stores snap at path as JSON. The file is replaced atomically.
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot. A missing file
// returns an error matching os.ErrNotExist.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}
