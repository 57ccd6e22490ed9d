package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// snapshotVersion is bumped whenever the snapshot layout changes.
const snapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Records []Record  `json:"records"`
}

// Snapshot serializes every record. Transport state is never included.
func (t *Tracker) Snapshot() ([]byte, error) {
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: t.clock.Now(),
		Records: t.List(),
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation snapshot: %w", err)
	}
	return data, nil
}

// Restore loads records from a snapshot. Records whose last activity is
// older than the retention window are discarded, as are ids already
// tracked. Thinking records keep their original deadline: the remaining
// time is re-armed, and records already past it time out immediately.
// It returns the number of records restored.
func (t *Tracker) Restore(data []byte) (int, error) {
	var snap snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("unmarshal conversation snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	now := t.clock.Now()
	var expired []string
	restored, stale := 0, 0

	t.mu.Lock()
	for i := range snap.Records {
		rec := snap.Records[i]
		if rec.ID == "" || !validStatus(rec.Status) {
			continue
		}
		if now.Sub(rec.lastActivity()) > t.settings.Retention {
			stale++
			continue
		}
		if _, exists := t.records[rec.ID]; exists {
			continue
		}

		t.records[rec.ID] = &rec
		restored++

		if rec.Status == StatusThinking {
			remaining := rec.TimeoutAt.Sub(now)
			if remaining <= 0 {
				expired = append(expired, rec.ID)
				continue
			}
			t.armLocked(rec.ID, remaining)
		}
	}
	t.mu.Unlock()

	for _, conversationID := range expired {
		t.expire(conversationID)
	}

	t.logger.Info("conversations restored",
		zap.Int("restored", restored),
		zap.Int("stale", stale),
		zap.Int("expired", len(expired)),
		zap.Time("saved_at", snap.SavedAt),
	)
	return restored, nil
}

func validStatus(s Status) bool {
	return s == StatusThinking || s.Terminal()
}
