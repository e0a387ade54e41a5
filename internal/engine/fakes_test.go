package engine

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/history"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/persist"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

type fakeItem struct {
	mu       sync.Mutex
	path     string
	playing  bool
	position float64
	duration float64
	seeks    []float64
	resumes  int
	closed   bool
	onSignal func(audio.Signal, error)
}

func (f *fakeItem) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
}

func (f *fakeItem) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

func (f *fakeItem) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakeItem) Seek(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return audio.ErrClosed
	}
	f.seeks = append(f.seeks, seconds)
	f.position = seconds
	return nil
}

func (f *fakeItem) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeItem) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeItem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.playing = false
	return nil
}

func (f *fakeItem) setPosition(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = p
}

func (f *fakeItem) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeItem) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes
}

func (f *fakeItem) seekLog() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seeks...)
}

// signal delivers a render signal the way the audio pipeline does
func (f *fakeItem) signal(sig audio.Signal, err error) {
	f.onSignal(sig, err)
}

// fakePipeline records opened items and fails paths listed in failures
type fakePipeline struct {
	mu       sync.Mutex
	items    []*fakeItem
	volume   float64
	failures map[string]error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{volume: 1, failures: make(map[string]error)}
}

func (p *fakePipeline) Open(ctx context.Context, opts audio.OpenOptions) (audio.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opts.File == nil {
		return nil, errors.New("no file")
	}
	if err := p.failures[filepath.Base(opts.Path)]; err != nil {
		return nil, err
	}
	if n := len(p.items); n > 0 {
		p.items[n-1].Close()
	}
	item := &fakeItem{path: opts.Path, onSignal: opts.OnSignal, position: opts.StartAt}
	p.items = append(p.items, item)
	return item, nil
}

func (p *fakePipeline) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = min(max(v, 0), 1)
}

func (p *fakePipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *fakePipeline) Close() error { return nil }

func (p *fakePipeline) fail(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name] = err
}

func (p *fakePipeline) current() *fakeItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return nil
	}
	return p.items[len(p.items)-1]
}

func (p *fakePipeline) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

type fakeProber struct {
	lyrics string
}

func (f *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	return 0, errors.New("no duration")
}

func (f *fakeProber) Lyrics(path string) (string, error) { return f.lyrics, nil }

func (f *fakeProber) Artwork(trackPath string) string { return "" }

// recordingSession keeps the last metadata and every Seeked position
type recordingSession struct {
	*media.NoOpSession

	mu       sync.Mutex
	metadata media.Metadata
	seeked   []time.Duration
	handler  media.CommandHandler
}

func (r *recordingSession) UpdateMetadata(m media.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = m
	return nil
}

func (r *recordingSession) Seeked(p time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeked = append(r.seeked, p)
	return nil
}

func (r *recordingSession) SetCommandHandler(h media.CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *recordingSession) lastMetadata() media.Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

func (r *recordingSession) seekLog() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.seeked...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	dir      string
	db       *store.DB
	access   *access.Access
	pipeline *fakePipeline
	prober   *fakeProber
	session  *recordingSession
	engine   *Engine
	writers  []*persist.Writer
	opts     Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"), 2, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	library := filepath.Join(dir, "library")
	if err := os.MkdirAll(library, 0755); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		t:   t,
		ctx: context.Background(),
		dir: library,
		db:  db,
		opts: Options{
			Tick:             time.Hour,
			StallRetry:       20 * time.Millisecond,
			RememberPosition: true,
			Rand:             rand.New(rand.NewSource(1)),
		},
	}
	h.start()
	t.Cleanup(h.stop)
	return h
}

// start builds a fresh engine over the harness database
func (h *harness) start() {
	logger := logging.Discard()
	playback := persist.NewWriter("playback", logger)
	queueWriter := persist.NewWriter("queue", logger)
	historyWriter := persist.NewWriter("history", logger)
	flags := persist.NewWriter("flags", logger)
	h.writers = []*persist.Writer{playback, queueWriter, historyWriter, flags}

	h.access = access.NewAccess()
	h.pipeline = newFakePipeline()
	h.prober = &fakeProber{lyrics: "words"}
	h.session = &recordingSession{NoOpSession: media.NewNoOpSession()}

	h.engine = New(Deps{
		Catalog:   h.db,
		Resolver:  access.NewResolver([]string{h.dir}, h.db, logger),
		Access:    h.access,
		Prober:    h.prober,
		Pipeline:  h.pipeline,
		Positions: persist.NewPositions(h.db, playback),
		Pointer:   persist.NewPointer(h.db, playback),
		Queue:     queue.NewStore(h.db, queueWriter),
		History:   history.NewRecorder(h.db, historyWriter),
		Flags:     flags,
		Session:   h.session,
		Logger:    logger,
	}, h.opts)
}

func (h *harness) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.engine.Close(ctx)
	for _, w := range h.writers {
		w.Close()
	}
}

func (h *harness) restart() {
	h.stop()
	h.start()
}

// addTrack registers a 180 second track; the file exists only when onDisk
func (h *harness) addTrack(name string, onDisk bool) types.PlaybackItem {
	h.t.Helper()
	path := filepath.Join(h.dir, name+".mp3")
	if onDisk {
		if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
			h.t.Fatal(err)
		}
	}
	duration := 180.0
	id, err := h.db.PutTrack(h.ctx, store.TrackRecord{
		Source:        types.SourceLocal,
		SourceTrackID: name,
		FileURI:       access.FileURI(path),
		Title:         name,
		Duration:      &duration,
	})
	if err != nil {
		h.t.Fatalf("PutTrack failed: %v", err)
	}
	items, err := h.db.TracksByIDs(h.ctx, []int64{id})
	if err != nil || len(items) != 1 {
		h.t.Fatalf("TracksByIDs failed: %v", err)
	}
	return items[0]
}

func (h *harness) tracks(names ...string) []types.PlaybackItem {
	h.t.Helper()
	out := make([]types.PlaybackItem, len(names))
	for i, n := range names {
		out[i] = h.addTrack(n, true)
	}
	return out
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	snap, err := h.engine.Snapshot(h.ctx)
	if err != nil {
		h.t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func (h *harness) flush() {
	h.t.Helper()
	if err := h.engine.Flush(h.ctx); err != nil {
		h.t.Fatalf("Flush failed: %v", err)
	}
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatal(err)
	}
}

// expectCurrent asserts the current item and state
func (h *harness) expectCurrent(want types.PlaybackItem, state State) {
	h.t.Helper()
	snap := h.snapshot()
	if snap.Item == nil {
		h.t.Fatalf("Expected %s to be current, nothing is", want.SourceTrackID)
	}
	if snap.Item.ID != want.ID {
		h.t.Errorf("Expected current %s, got %s", want.SourceTrackID, snap.Item.SourceTrackID)
	}
	if snap.State != state {
		h.t.Errorf("Expected state %s, got %s", state, snap.State)
	}
}

func (h *harness) queueIDs() []int64 {
	h.t.Helper()
	items, _, err := h.engine.Queue(h.ctx)
	if err != nil {
		h.t.Fatal(err)
	}
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

// persistedIDs flushes and reads queue_items, checking ordinals are 0..N-1
func (h *harness) persistedIDs() []int64 {
	h.t.Helper()
	h.flush()
	rows, err := h.db.LoadQueue(h.ctx)
	if err != nil {
		h.t.Fatal(err)
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		if r.Ordinal != i {
			h.t.Errorf("Row %d has ordinal %d", i, r.Ordinal)
		}
		out[i] = r.TrackID
	}
	return out
}

func idsOf(items ...types.PlaybackItem) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
