package queue

import (
	"context"

	"github.com/austinkregel/local-media/playerd/internal/persist"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Persister is the durable side of the queue
type Persister interface {
	ReplaceQueue(ctx context.Context, items []types.PlaybackItem) error
	InsertQueue(ctx context.Context, at int, items []types.PlaybackItem) error
	DeleteQueue(ctx context.Context, at, count int) error
}

// Store mirrors queue mutations to durable storage through a single writer.
// Calls return immediately; the in-memory Queue stays the source of truth.
type Store struct {
	db     Persister
	writer *persist.Writer
}

// NewStore creates a queue store
func NewStore(db Persister, writer *persist.Writer) *Store {
	return &Store{db: db, writer: writer}
}

// Replace persists a full snapshot
func (s *Store) Replace(items []types.PlaybackItem) {
	snapshot := append([]types.PlaybackItem(nil), items...)
	s.writer.Submit("queue.replace", func(ctx context.Context) error {
		return s.db.ReplaceQueue(ctx, snapshot)
	})
}

// Insert persists a positional insert at ordinal at
func (s *Store) Insert(at int, items []types.PlaybackItem) {
	batch := append([]types.PlaybackItem(nil), items...)
	s.writer.Submit("queue.insert", func(ctx context.Context) error {
		return s.db.InsertQueue(ctx, at, batch)
	})
}

// Delete persists a positional delete
func (s *Store) Delete(at, count int) {
	s.writer.Submit("queue.delete", func(ctx context.Context) error {
		return s.db.DeleteQueue(ctx, at, count)
	})
}

// Flush waits for pending queue writes
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}
