// Package engine is the single owner of "what is playing now". Every
// command and every asynchronous signal (render item, OS audio session,
// background lookups) is serialized through one goroutine that holds the
// queue, the active render item and the playback state.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/history"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/persist"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

var (
	ErrClosed          = errors.New("engine closed")
	ErrQueueEmpty      = errors.New("queue is empty")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrNoCurrentItem   = errors.New("no current item")
	ErrNothingPlayable = errors.New("no playable item in queue")

	// ErrSuperseded is returned when a newer queue replaced the one a
	// background lookup was building
	ErrSuperseded = errors.New("superseded by a newer queue")
)

const (
	// restartThreshold is how far into a track previous() restarts it
	restartThreshold = 4.0

	defaultTick       = 250 * time.Millisecond
	defaultStallRetry = 2 * time.Second
	sessionSyncEvery  = time.Second
	inboxSize         = 64
)

// Catalog is the read side of the store plus the missing flag
type Catalog interface {
	TracksByIDs(ctx context.Context, ids []int64) ([]types.PlaybackItem, error)
	TrackByKey(ctx context.Context, key types.ItemKey) (types.PlaybackItem, error)
	SetMissing(ctx context.Context, trackID int64, reason types.MissingReason) error
	ClearMissing(ctx context.Context, trackID int64) error
	LoadQueue(ctx context.Context) ([]store.QueueRow, error)
}

// Resolver maps items to local files
type Resolver interface {
	Resolve(ctx context.Context, item types.PlaybackItem) (access.Resource, error)
	Probe(ctx context.Context, item types.PlaybackItem) (access.Resource, error)
}

// Prober reads facts from a resolved file
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
	Lyrics(path string) (string, error)
	Artwork(trackPath string) string
}

// Deps are the collaborators of an Engine. Analyzer, Prober and Session
// may be nil.
type Deps struct {
	Catalog   Catalog
	Resolver  Resolver
	Access    *access.Access
	Prober    Prober
	Pipeline  audio.Pipeline
	Analyzer  *spectrum.Analyzer
	Positions *persist.Positions
	Pointer   *persist.Pointer
	Queue     *queue.Store
	History   *history.Recorder

	// Flags carries missing-flag writes
	Flags *persist.Writer

	Session media.Session
	Logger  logrus.FieldLogger
}

// Options tune engine timing and resume behavior
type Options struct {
	// StallRetry is how long to wait in buffering before nudging the output
	StallRetry time.Duration

	// Tick is the position update interval
	Tick time.Duration

	RememberPosition bool
	ResumeOnStart    bool

	// Rand drives shuffle; nil seeds from the clock
	Rand *rand.Rand
}

// Engine is the playback state machine
type Engine struct {
	deps   Deps
	opts   Options
	logger logrus.FieldLogger
	hub    *hub
	levels *levelsHub

	inbox     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// Owned by the run goroutine
	queue       *queue.Queue
	state       State
	item        audio.Item
	loaded      types.PlaybackItem
	grant       *access.Grant
	duration    float64
	gen         uint64
	epoch       uint64
	repeat      types.RepeatMode
	shuffle     bool
	lyrics      string
	rng         *rand.Rand
	failing     bool
	interrupted bool
	stallTimer  *time.Timer
	lastSync    time.Time
}

// New creates an engine and starts its owner goroutine
func New(deps Deps, opts Options) *Engine {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.StallRetry <= 0 {
		opts.StallRetry = defaultStallRetry
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Session == nil {
		deps.Session = media.NewNoOpSession()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		hub:     newHub(),
		levels:  newLevelsHub(),
		inbox:   make(chan func(), inboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		queue:   queue.New(),
		state:   StateStopped,
		rng:     rng,
	}

	if deps.Analyzer != nil {
		deps.Analyzer.SetCallback(func(levels spectrum.Levels) {
			e.levels.publish(levels)
		})
	}
	deps.Session.SetCommandHandler(e)

	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-ticker.C:
			e.tick()
		case <-e.done:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for its result
func (e *Engine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case e.inbox <- func() { errc <- fn() }:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-e.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the owner goroutine without waiting for it
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

// Subscribe returns a channel of engine events and a function that ends the
// subscription. The channel is closed if the subscriber falls behind.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := e.hub.subscribe()
	return ch, func() { e.hub.unsubscribe(ch) }
}

// SubscribeLevels returns a channel holding the newest spectrum frame and a
// function that ends the subscription. Frames a slow reader misses are
// replaced, never queued.
func (e *Engine) SubscribeLevels() (<-chan spectrum.Levels, func()) {
	ch := e.levels.subscribe()
	return ch, func() { e.levels.unsubscribe(ch) }
}

// Snapshot returns the current observable state
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func() error {
		snap = e.snapshot()
		return nil
	})
	return snap, err
}

// Queue returns a copy of the queue and the current index
func (e *Engine) Queue(ctx context.Context) ([]types.PlaybackItem, int, error) {
	var (
		items []types.PlaybackItem
		index int
	)
	err := e.do(ctx, func() error {
		items = e.queue.Items()
		index = e.queue.Index()
		return nil
	})
	return items, index, err
}

// Levels returns the latest spectrum band levels
func (e *Engine) Levels() spectrum.Levels {
	if e.deps.Analyzer == nil {
		return spectrum.Levels{}
	}
	return e.deps.Analyzer.Levels()
}

// Flush waits for every pending durable write
func (e *Engine) Flush(ctx context.Context) error {
	var errs []error
	if e.deps.Positions != nil {
		errs = append(errs, e.deps.Positions.Flush(ctx))
	}
	if e.deps.Queue != nil {
		errs = append(errs, e.deps.Queue.Flush(ctx))
	}
	if e.deps.History != nil {
		errs = append(errs, e.deps.History.Flush(ctx))
	}
	if e.deps.Flags != nil {
		errs = append(errs, e.deps.Flags.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Close saves the position, releases the render item and stops the owner
// goroutine. Pending writes are flushed until ctx expires.
func (e *Engine) Close(ctx context.Context) error {
	err := e.do(ctx, func() error {
		e.savePosition(true)
		e.closeItem()
		e.setState(StateStopped)
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}

	e.closeOnce.Do(func() {
		close(e.done)
		e.cancel()
	})
	<-e.stopped

	if e.deps.Analyzer != nil {
		e.deps.Analyzer.Reset()
	}
	e.hub.closeAll()
	e.levels.closeAll()

	if ferr := e.Flush(ctx); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		State:       e.state,
		Index:       e.queue.Index(),
		Duration:    e.duration,
		Repeat:      e.repeat.String(),
		Shuffle:     e.shuffle,
		Volume:      e.deps.Pipeline.Volume(),
		QueueLength: e.queue.Len(),
		Lyrics:      e.lyrics,
	}
	if e.item != nil {
		item := e.loaded
		snap.Item = &item
		snap.CurrentTime = e.item.Position()
	}
	return snap
}

func (e *Engine) publish(kind EventKind) {
	ev := Event{Kind: kind, Snapshot: e.snapshot()}
	if kind == EventQueue {
		ev.Queue = e.queue.Items()
	}
	e.hub.publish(ev)
}

// setState records s and notifies observers even when s is unchanged, since
// a track change keeps the state but changes the snapshot.
func (e *Engine) setState(s State) {
	if e.state != s {
		e.logger.WithFields(logrus.Fields{"from": e.state, "to": s}).Debug("Playback state changed")
	}
	e.state = s
	if s != StateBuffering && e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
	e.syncSession()
	e.publish(EventState)
}

// tick saves the throttled position and refreshes observers while playing
func (e *Engine) tick() {
	if e.item == nil || e.state != StatePlaying {
		return
	}
	e.savePosition(false)
	e.publish(EventTime)

	if time.Since(e.lastSync) >= sessionSyncEvery {
		e.syncSession()
	}
}

func (e *Engine) position() float64 {
	if e.item == nil {
		return 0
	}
	return e.item.Position()
}

func (e *Engine) savePosition(force bool) {
	if !e.opts.RememberPosition || e.deps.Positions == nil || e.item == nil {
		return
	}
	e.deps.Positions.Save(e.loaded.Key(), e.item.Position(), force)
}

func (e *Engine) markMissing(item types.PlaybackItem, reason types.MissingReason) {
	e.logger.WithFields(logrus.Fields{"item": item.Key().String(), "reason": reason}).Warn("Item is missing")
	if item.ID <= 0 || e.deps.Flags == nil {
		return
	}
	id := item.ID
	e.deps.Flags.Submit("missing.set", func(ctx context.Context) error {
		return e.deps.Catalog.SetMissing(ctx, id, reason)
	})
}

func (e *Engine) clearMissing(item types.PlaybackItem) {
	if item.ID <= 0 || e.deps.Flags == nil {
		return
	}
	id := item.ID
	e.deps.Flags.Submit("missing.clear", func(ctx context.Context) error {
		return e.deps.Catalog.ClearMissing(ctx, id)
	})
}

// closeItem tears down the render item and releases the file grant. The
// generation moves on so late signals from the old item are ignored.
func (e *Engine) closeItem() {
	e.gen++
	if e.stallTimer != nil {
		e.stallTimer.Stop()
		e.stallTimer = nil
	}
	if e.item != nil {
		if err := e.item.Close(); err != nil {
			e.logger.WithError(err).Debug("Closing render item failed")
		}
		e.item = nil
	}
	if e.grant != nil {
		e.grant.Release()
		e.grant = nil
	}
	e.deps.Access.ReleaseAll()
	if e.deps.Analyzer != nil {
		e.deps.Analyzer.Stop()
	}
	e.loaded = types.PlaybackItem{}
	e.duration = 0
	e.lyrics = ""
}
