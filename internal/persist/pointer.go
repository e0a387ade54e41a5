package persist

import (
	"context"
	"sync"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// PointerStore is the durable side of the playback pointer
type PointerStore interface {
	SavePlaybackState(ctx context.Context, p store.StatePointer) error
	PlaybackState(ctx context.Context) (store.StatePointer, bool, error)
}

type pointerKey struct {
	key   types.ItemKey
	index int
}

// Pointer writes the "now playing" pointer, skipping writes whose
// (source, sourceTrackId, index) matches the previous one.
type Pointer struct {
	store  PointerStore
	writer *Writer
	now    func() time.Time

	mu   sync.Mutex
	last *pointerKey
}

// NewPointer creates a deduplicating pointer writer
func NewPointer(store PointerStore, writer *Writer) *Pointer {
	return &Pointer{store: store, writer: writer, now: time.Now}
}

// Save dispatches a write if the pointer changed; it reports whether it did
func (p *Pointer) Save(key types.ItemKey, index int) bool {
	next := pointerKey{key: key, index: index}

	p.mu.Lock()
	if p.last != nil && *p.last == next {
		p.mu.Unlock()
		return false
	}
	p.last = &next
	at := p.now()
	p.mu.Unlock()

	return p.writer.Submit("pointer", func(ctx context.Context) error {
		return p.store.SavePlaybackState(ctx, store.StatePointer{Key: key, QueueIndex: index, UpdatedAt: at})
	})
}

// Load returns the stored pointer and primes deduplication with it
func (p *Pointer) Load(ctx context.Context) (store.StatePointer, bool, error) {
	sp, ok, err := p.store.PlaybackState(ctx)
	if err != nil || !ok {
		return sp, ok, err
	}
	p.mu.Lock()
	p.last = &pointerKey{key: sp.Key, index: sp.QueueIndex}
	p.mu.Unlock()
	return sp, true, nil
}
