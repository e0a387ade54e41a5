// Package persist holds the single-writer inboxes that carry durable writes
// off the playback path, plus the throttling and deduplication rules for
// resume positions and the playback pointer.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrWriterClosed is returned by Flush after Close
var ErrWriterClosed = errors.New("writer closed")

// Job is one durable write
type Job func(ctx context.Context) error

type request struct {
	name    string
	job     Job
	barrier chan struct{}
}

// Writer executes jobs one at a time in submission order. Submit never
// blocks; failed jobs are retried with backoff and then dropped with an
// error log.
type Writer struct {
	name     string
	logger   logrus.FieldLogger
	attempts int
	backoff  time.Duration

	mu      sync.Mutex
	pending []request
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithRetry sets the attempt count and initial backoff
func WithRetry(attempts int, backoff time.Duration) WriterOption {
	return func(w *Writer) {
		if attempts < 1 {
			attempts = 1
		}
		w.attempts = attempts
		w.backoff = backoff
	}
}

// NewWriter starts a writer goroutine
func NewWriter(name string, logger logrus.FieldLogger, opts ...WriterOption) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		name:     name,
		logger:   logger.WithField("writer", name),
		attempts: 3,
		backoff:  50 * time.Millisecond,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Submit enqueues a job. It returns false if the writer is closed.
func (w *Writer) Submit(name string, job Job) bool {
	return w.enqueue(request{name: name, job: job})
}

func (w *Writer) enqueue(r request) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.pending = append(w.pending, r)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush waits until every job submitted before the call has run
func (w *Writer) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !w.enqueue(request{barrier: barrier}) {
		return ErrWriterClosed
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending jobs and stops the goroutine
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
	w.cancel()
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		closed := w.closed
		w.mu.Unlock()

		for _, r := range batch {
			if r.barrier != nil {
				close(r.barrier)
				continue
			}
			w.execute(r)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

func (w *Writer) execute(r request) {
	delay := w.backoff
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = r.job(w.ctx); err == nil {
			return
		}
		if attempt < w.attempts {
			w.logger.WithError(err).WithField("job", r.name).WithField("attempt", attempt).Debug("Write failed, retrying")
			time.Sleep(delay)
			delay *= 2
		}
	}
	w.logger.WithError(err).WithField("job", r.name).Error("Dropping write after retries")
}
