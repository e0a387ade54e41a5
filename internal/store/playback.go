package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// StatePointer is the durable "now playing" pointer
type StatePointer struct {
	Key        types.ItemKey
	QueueIndex int
	UpdatedAt  time.Time
}

// SavePosition upserts the resume position for key
func (db *DB) SavePosition(ctx context.Context, key types.ItemKey, position float64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO playback_positions (source, source_track_id, position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, source_track_id) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		string(key.Source), key.SourceTrackID, position, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// Position returns the stored resume position for key; ok is false when none exists
func (db *DB) Position(ctx context.Context, key types.ItemKey) (position float64, ok bool, err error) {
	err = db.conn.QueryRowContext(ctx, `SELECT position FROM playback_positions WHERE source = ? AND source_track_id = ?`,
		string(key.Source), key.SourceTrackID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read position: %w", err)
	}
	return position, true, nil
}

// SavePlaybackState replaces the single playback pointer row
func (db *DB) SavePlaybackState(ctx context.Context, p StatePointer) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO playback_state (id, source, source_track_id, queue_index, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			source_track_id = excluded.source_track_id,
			queue_index = excluded.queue_index,
			updated_at = excluded.updated_at`,
		string(p.Key.Source), p.Key.SourceTrackID, p.QueueIndex, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save playback state: %w", err)
	}
	return nil
}

// PlaybackState returns the stored pointer; ok is false when none exists
func (db *DB) PlaybackState(ctx context.Context) (StatePointer, bool, error) {
	var (
		p       StatePointer
		source  string
		updated int64
	)
	err := db.conn.QueryRowContext(ctx, `SELECT source, source_track_id, queue_index, updated_at FROM playback_state WHERE id = 1`).
		Scan(&source, &p.Key.SourceTrackID, &p.QueueIndex, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("failed to read playback state: %w", err)
	}
	p.Key.Source = types.Source(source)
	p.UpdatedAt = time.UnixMilli(updated)
	return p, true, nil
}
