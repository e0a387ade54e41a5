package persist

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

const (
	// ThrottleInterval is the minimum wall time between unforced writes for a key
	ThrottleInterval = 5 * time.Second

	// ThrottleDelta is the minimum position change (seconds) that bypasses the interval
	ThrottleDelta = 5.0

	// finishedWindow treats positions this close to the end as finished
	finishedWindow = 2.0
)

// PositionStore is the durable side of resume positions
type PositionStore interface {
	SavePosition(ctx context.Context, key types.ItemKey, position float64, at time.Time) error
	Position(ctx context.Context, key types.ItemKey) (float64, bool, error)
}

type lastWrite struct {
	at       time.Time
	position float64
}

// Positions throttles resume-position writes. Only the most recently saved
// key is tracked, since one item plays at a time.
type Positions struct {
	store  PositionStore
	writer *Writer
	now    func() time.Time

	mu      sync.Mutex
	lastKey types.ItemKey
	last    *lastWrite
}

// NewPositions creates a throttled position writer
func NewPositions(store PositionStore, writer *Writer) *Positions {
	return &Positions{
		store:  store,
		writer: writer,
		now:    time.Now,
	}
}

// SetClock replaces the wall clock, for tests
func (p *Positions) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Save dispatches a write unless the previous write was for the same key,
// less than ThrottleInterval ago and within ThrottleDelta seconds of
// position. force bypasses the throttle. It reports whether a write was
// dispatched.
func (p *Positions) Save(key types.ItemKey, position float64, force bool) bool {
	p.mu.Lock()
	now := p.now()
	if prev := p.last; prev != nil && p.lastKey == key && !force {
		if now.Sub(prev.at) < ThrottleInterval && math.Abs(position-prev.position) < ThrottleDelta {
			p.mu.Unlock()
			return false
		}
	}
	p.lastKey = key
	p.last = &lastWrite{at: now, position: position}
	p.mu.Unlock()

	return p.writer.Submit("position", func(ctx context.Context) error {
		return p.store.SavePosition(ctx, key, position, now)
	})
}

// Resume reads the stored position for key and normalizes it against duration
func (p *Positions) Resume(ctx context.Context, key types.ItemKey, duration float64) (float64, error) {
	pos, ok, err := p.store.Position(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return Normalize(pos, duration), nil
}

// Flush waits for pending position writes
func (p *Positions) Flush(ctx context.Context) error {
	return p.writer.Flush(ctx)
}

// Normalize returns 0 when position is within two seconds of a known
// duration, otherwise position unchanged.
func Normalize(position, duration float64) float64 {
	if duration <= 0 {
		return position
	}
	if position >= duration-finishedWindow {
		return 0
	}
	return position
}
