package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"goldscalper/internal/portfolio"
)

const snapshotVersion = 1

// ErrSnapshotVersion means a stored snapshot was written by an incompatible
// version and cannot be resumed.
var ErrSnapshotVersion = errors.New("session: unsupported snapshot version")

type snapshot struct {
	Version   int             `json:"version"`
	SessionID string          `json:"session_id"`
	SavedAt   time.Time       `json:"saved_at"`
	Tracker   portfolio.State `json:"tracker"`
}

// Save writes the session snapshot to the configured store. Without a store
// it is a no-op.
func (s *Session) Save(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	data, err := json.Marshal(snapshot{
		Version:   snapshotVersion,
		SessionID: s.id,
		SavedAt:   time.Now().UTC(),
		Tracker:   s.tracker.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("session: encode snapshot: %w", err)
	}
	if err := s.deps.Store.SaveSessionJSON(ctx, s.key, data); err != nil {
		return fmt.Errorf("session: save snapshot: %w", err)
	}
	return nil
}

func (s *Session) saveIfDirty(ctx context.Context) {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if !dirty {
		return
	}
	if err := s.Save(ctx); err != nil {
		s.markDirty()
		s.log.Warn("snapshot save failed", slog.String("error", err.Error()))
	}
}

// Resume restores positions and statistics from the stored snapshot. It
// reports false when there is nothing to resume. Closed tickets from the
// snapshot are marked reported so their side effects never run twice.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	if s.deps.Store == nil {
		return false, nil
	}
	data, err := s.deps.Store.LoadSessionJSON(ctx, s.key)
	if err != nil {
		return false, fmt.Errorf("session: load snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}
	if !gjson.ValidBytes(data) {
		return false, fmt.Errorf("session: snapshot %s is not valid JSON", s.key)
	}
	if v := gjson.GetBytes(data, "version").Int(); v != snapshotVersion {
		return false, fmt.Errorf("%w: %d", ErrSnapshotVersion, v)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("session: decode snapshot: %w", err)
	}
	snap.Tracker.Stats.SessionID = s.id
	if err := s.tracker.Restore(snap.Tracker); err != nil {
		return false, fmt.Errorf("session: restore: %w", err)
	}

	s.mu.Lock()
	for _, tk := range snap.Tracker.ClosedTickets {
		s.reported[tk] = struct{}{}
	}
	s.mu.Unlock()

	s.log.Info("session resumed",
		slog.Time("saved_at", snap.SavedAt),
		slog.Int("positions", len(snap.Tracker.Positions)),
		slog.Int("closed", snap.Tracker.Stats.Closed),
	)
	return true, nil
}
