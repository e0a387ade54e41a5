package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// QueueRow is one persisted queue entry
type QueueRow struct {
	Ordinal       int
	Source        types.Source
	SourceTrackID string
	TrackID       int64
}

// QueueRowsFor converts items to rows numbered from start
func QueueRowsFor(items []types.PlaybackItem, start int) []QueueRow {
	rows := make([]QueueRow, len(items))
	for i, item := range items {
		rows[i] = QueueRow{
			Ordinal:       start + i,
			Source:        item.Source,
			SourceTrackID: item.SourceTrackID,
			TrackID:       item.ID,
		}
	}
	return rows
}

// LoadQueue returns the persisted queue ordered by ordinal
func (db *DB) LoadQueue(ctx context.Context) ([]QueueRow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT ordinal, source, source_track_id, COALESCE(track_id, 0) FROM queue_items ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var (
			r      QueueRow
			source string
		)
		if err := rows.Scan(&r.Ordinal, &source, &r.SourceTrackID, &r.TrackID); err != nil {
			return nil, err
		}
		r.Source = types.Source(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceQueue overwrites the queue with items in order
func (db *DB) ReplaceQueue(ctx context.Context, items []types.PlaybackItem) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items`); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		return insertRows(ctx, tx, QueueRowsFor(items, 0))
	})
}

// InsertQueue inserts items at ordinal at, shifting later ordinals up
func (db *DB) InsertQueue(ctx context.Context, at int, items []types.PlaybackItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := shiftOrdinals(ctx, tx, at, len(items)); err != nil {
			return err
		}
		return insertRows(ctx, tx, QueueRowsFor(items, at))
	})
}

// DeleteQueue removes count rows starting at ordinal at, shifting later ordinals down
func (db *DB) DeleteQueue(ctx context.Context, at, count int) error {
	if count <= 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE ordinal >= ? AND ordinal < ?`, at, at+count)
		if err != nil {
			return fmt.Errorf("failed to delete queue rows: %w", err)
		}
		return shiftOrdinals(ctx, tx, at+count, -count)
	})
}

// shiftOrdinals adds delta to every ordinal >= from. The rows pass through
// negative ordinals so the primary key never collides mid-update.
func shiftOrdinals(ctx context.Context, tx *sql.Tx, from, delta int) error {
	if _, err := tx.ExecContext(ctx, `UPDATE queue_items SET ordinal = -(ordinal + ?) - 1 WHERE ordinal >= ?`, delta, from); err != nil {
		return fmt.Errorf("failed to shift ordinals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE queue_items SET ordinal = -ordinal - 1 WHERE ordinal < 0`); err != nil {
		return fmt.Errorf("failed to shift ordinals: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, rows []QueueRow) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queue_items (ordinal, source, source_track_id, track_id) VALUES (?, ?, ?, NULLIF(?, 0))`)
	if err != nil {
		return fmt.Errorf("failed to prepare queue insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Ordinal, string(r.Source), r.SourceTrackID, r.TrackID); err != nil {
			return fmt.Errorf("failed to insert queue row %d: %w", r.Ordinal, err)
		}
	}
	return nil
}
