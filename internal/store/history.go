package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// HistoryEntry is one recorded playback start
type HistoryEntry struct {
	ID       int64
	Key      types.ItemKey
	TrackID  int64
	PlayedAt time.Time
	Position float64
}

// AppendHistory inserts e and deletes everything beyond the newest limit rows
func (db *DB) AppendHistory(ctx context.Context, e HistoryEntry, limit int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history_entries (source, source_track_id, track_id, played_at, position)
			VALUES (?, ?, NULLIF(?, 0), ?, ?)`,
			string(e.Key.Source), e.Key.SourceTrackID, e.TrackID, e.PlayedAt.UnixMilli(), e.Position)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM history_entries WHERE id NOT IN (
				SELECT id FROM history_entries ORDER BY played_at DESC, id DESC LIMIT ?
			)`, limit)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
		return nil
	})
}

// History returns up to limit entries, newest first
func (db *DB) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, source_track_id, COALESCE(track_id, 0), played_at, position
		FROM history_entries ORDER BY played_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e      HistoryEntry
			source string
			played int64
		)
		if err := rows.Scan(&e.ID, &source, &e.Key.SourceTrackID, &e.TrackID, &played, &e.Position); err != nil {
			return nil, err
		}
		e.Key.Source = types.Source(source)
		e.PlayedAt = time.UnixMilli(played)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementListening bumps the per-day play counter for an artist
func (db *DB) IncrementListening(ctx context.Context, artistID int64, day string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO listening_stats (artist_id, day, play_count) VALUES (?, ?, 1)
		ON CONFLICT(artist_id, day) DO UPDATE SET play_count = play_count + 1`,
		artistID, day)
	if err != nil {
		return fmt.Errorf("failed to increment listening stats: %w", err)
	}
	return nil
}

// ListeningCount returns the play counter for an artist on day
func (db *DB) ListeningCount(ctx context.Context, artistID int64, day string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT play_count FROM listening_stats WHERE artist_id = ? AND day = ?`,
		artistID, day).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
