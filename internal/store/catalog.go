package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// LookupChunkSize bounds the number of ids per catalog round-trip
const LookupChunkSize = 500

// TrackRecord is the writable shape of a tracks row
type TrackRecord struct {
	Source        types.Source
	SourceTrackID string
	FileURI       string
	ArtworkURI    string
	Title         string
	ArtistID      *int64
	AlbumID       *int64
	Duration      *float64
	Bookmark      []byte
}

const selectItem = `
	SELECT t.id, t.source, t.source_track_id, COALESCE(t.file_uri, ''), COALESCE(t.artwork_uri, ''),
	       t.title, COALESCE(ar.name, ''), COALESCE(al.title, ''), t.duration, t.artist_id
	FROM tracks t
	LEFT JOIN artists ar ON ar.id = t.artist_id
	LEFT JOIN albums al ON al.id = t.album_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (types.PlaybackItem, error) {
	var (
		item     types.PlaybackItem
		source   string
		duration sql.NullFloat64
		artistID sql.NullInt64
	)
	err := row.Scan(&item.ID, &source, &item.SourceTrackID, &item.FileURI, &item.ArtworkURI,
		&item.Title, &item.Artist, &item.Album, &duration, &artistID)
	if err != nil {
		return item, err
	}
	item.Source = types.Source(source)
	if duration.Valid {
		d := duration.Float64
		item.Duration = &d
	}
	if artistID.Valid {
		id := artistID.Int64
		item.ArtistID = &id
	}
	return item, nil
}

// PutArtist inserts an artist by name, returning the existing id on conflict
func (db *DB) PutArtist(ctx context.Context, name string) (int64, error) {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO artists (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert artist: %w", err)
	}
	var id int64
	if err := db.conn.QueryRowContext(ctx, `SELECT id FROM artists WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read artist id: %w", err)
	}
	return id, nil
}

// PutAlbum inserts an album row
func (db *DB) PutAlbum(ctx context.Context, title string, artistID *int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `INSERT INTO albums (title, artist_id) VALUES (?, ?)`, title, artistID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert album: %w", err)
	}
	return res.LastInsertId()
}

// PutTrack upserts a track keyed by (source, source_track_id) and returns its id
func (db *DB) PutTrack(ctx context.Context, rec TrackRecord) (int64, error) {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tracks (source, source_track_id, file_uri, artwork_uri, title, artist_id, album_id, duration, bookmark)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_track_id) DO UPDATE SET
			file_uri = excluded.file_uri,
			artwork_uri = excluded.artwork_uri,
			title = excluded.title,
			artist_id = excluded.artist_id,
			album_id = excluded.album_id,
			duration = excluded.duration,
			bookmark = excluded.bookmark`,
		string(rec.Source), rec.SourceTrackID, rec.FileURI, rec.ArtworkURI, rec.Title,
		rec.ArtistID, rec.AlbumID, rec.Duration, rec.Bookmark)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert track: %w", err)
	}

	var id int64
	err = db.conn.QueryRowContext(ctx, `SELECT id FROM tracks WHERE source = ? AND source_track_id = ?`,
		string(rec.Source), rec.SourceTrackID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read track id: %w", err)
	}
	return id, nil
}

// TracksByIDs materializes playback items for ids, preserving the order of
// ids and skipping ids with no row. Lookups are chunked.
func (db *DB) TracksByIDs(ctx context.Context, ids []int64) ([]types.PlaybackItem, error) {
	found := make(map[int64]types.PlaybackItem, len(ids))

	for _, chunk := range lo.Chunk(lo.Uniq(ids), LookupChunkSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := lo.Map(chunk, func(id int64, _ int) any { return id })

		rows, err := db.conn.QueryContext(ctx, selectItem+` WHERE t.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query tracks: %w", err)
		}
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan track: %w", err)
			}
			found[item.ID] = item
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	items := make([]types.PlaybackItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := found[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// TrackByKey loads a single item by its stable key
func (db *DB) TrackByKey(ctx context.Context, key types.ItemKey) (types.PlaybackItem, error) {
	row := db.conn.QueryRowContext(ctx, selectItem+` WHERE t.source = ? AND t.source_track_id = ?`,
		string(key.Source), key.SourceTrackID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item, ErrNotFound
	}
	return item, err
}

// Bookmark returns the stored bookmark blob for a track, or nil
func (db *DB) Bookmark(ctx context.Context, trackID int64) ([]byte, error) {
	var blob []byte
	err := db.conn.QueryRowContext(ctx, `SELECT bookmark FROM tracks WHERE id = ?`, trackID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmark: %w", err)
	}
	return blob, nil
}

// SetMissing flags a track as missing with a reason
func (db *DB) SetMissing(ctx context.Context, trackID int64, reason types.MissingReason) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE tracks SET is_missing = 1, missing_reason = ? WHERE id = ?`,
		string(reason), trackID)
	if err != nil {
		return fmt.Errorf("failed to flag missing track: %w", err)
	}
	return nil
}

// ClearMissing clears the missing flag after a successful open
func (db *DB) ClearMissing(ctx context.Context, trackID int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE tracks SET is_missing = 0, missing_reason = NULL WHERE id = ? AND is_missing = 1`, trackID)
	if err != nil {
		return fmt.Errorf("failed to clear missing flag: %w", err)
	}
	return nil
}

// ClearMissingByURI clears the flag on every track whose file_uri is one of
// uris, so a file can be matched by its URI and its bare path at once
func (db *DB) ClearMissingByURI(ctx context.Context, uris ...string) (int64, error) {
	if len(uris) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uris)), ",")
	args := lo.Map(uris, func(u string, _ int) any { return u })
	res, err := db.conn.ExecContext(ctx, `UPDATE tracks SET is_missing = 0, missing_reason = NULL WHERE file_uri IN (`+placeholders+`) AND is_missing = 1`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear missing flag: %w", err)
	}
	return res.RowsAffected()
}

// MissingState reports a track's missing flag and reason
func (db *DB) MissingState(ctx context.Context, trackID int64) (bool, types.MissingReason, error) {
	var (
		missing bool
		reason  sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `SELECT is_missing, missing_reason FROM tracks WHERE id = ?`, trackID).Scan(&missing, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", ErrNotFound
	}
	if err != nil {
		return false, "", err
	}
	return missing, types.MissingReason(reason.String), nil
}
