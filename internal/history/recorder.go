// Package history records recordable playback starts and per-day listening stats.
package history

import (
	"context"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/persist"
	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Limit is the number of history rows kept
const Limit = 100

// Store is the durable side of history
type Store interface {
	AppendHistory(ctx context.Context, e store.HistoryEntry, limit int) error
	IncrementListening(ctx context.Context, artistID int64, day string) error
}

// Recorder appends history through its own writer
type Recorder struct {
	db     Store
	writer *persist.Writer
	now    func() time.Time
}

// NewRecorder creates a history recorder
func NewRecorder(db Store, writer *persist.Writer) *Recorder {
	return &Recorder{db: db, writer: writer, now: time.Now}
}

// Record appends an entry for item, trims history, and bumps the artist's
// counter for today when the artist is known.
func (r *Recorder) Record(item types.PlaybackItem, position float64) {
	playedAt := r.now()
	entry := store.HistoryEntry{
		Key:      item.Key(),
		TrackID:  item.ID,
		PlayedAt: playedAt,
		Position: position,
	}
	r.writer.Submit("history.append", func(ctx context.Context) error {
		return r.db.AppendHistory(ctx, entry, Limit)
	})

	if item.ArtistID == nil {
		return
	}
	artistID := *item.ArtistID
	day := playedAt.Format("2006-01-02")
	r.writer.Submit("history.stats", func(ctx context.Context) error {
		return r.db.IncrementListening(ctx, artistID, day)
	})
}

// Flush waits for pending history writes
func (r *Recorder) Flush(ctx context.Context) error {
	return r.writer.Flush(ctx)
}
