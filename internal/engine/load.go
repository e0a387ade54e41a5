package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

var _ audio.Tap = (*spectrum.Analyzer)(nil)

type loadMode struct {
	play bool

	// record appends a history entry on success
	record bool

	// startAt overrides the stored resume position of the requested item
	startAt *float64
}

// load makes the item at index current. Items that cannot be opened are
// skipped in queue order; when nothing is playable the engine stops and
// ErrNothingPlayable is returned.
func (e *Engine) load(ctx context.Context, index int, mode loadMode) error {
	if index < 0 || index >= e.queue.Len() {
		return ErrIndexOutOfRange
	}

	e.savePosition(true)
	e.closeItem()

	for _, i := range append([]int{index}, e.candidatesAfter(index)...) {
		err := e.open(ctx, i, mode)
		if err == nil {
			return nil
		}

		item, _ := e.queue.At(i)
		if reason, ok := access.ReasonOf(err); ok {
			e.markMissing(item, reason)
		} else {
			e.logger.WithError(err).WithField("item", item.Key().String()).Warn("Cannot open item")
		}
		mode.startAt = nil
	}

	e.logger.Warn("No playable item left in queue")
	e.stop()
	return ErrNothingPlayable
}

// candidatesAfter lists the indexes to try after from, in queue order,
// wrapping only under RepeatAll. from itself is never included.
func (e *Engine) candidatesAfter(from int) []int {
	n := e.queue.Len()
	var out []int
	for step := 1; step < n; step++ {
		i := from + step
		if i >= n {
			if e.repeat != types.RepeatAll {
				break
			}
			i -= n
		}
		out = append(out, i)
	}
	return out
}

// nextPlayable probes candidates after from without opening a decoder. Items
// that fail the probe are flagged missing.
func (e *Engine) nextPlayable(ctx context.Context, from int) (int, bool) {
	for _, i := range e.candidatesAfter(from) {
		item, _ := e.queue.At(i)
		_, err := e.deps.Resolver.Probe(ctx, item)
		if err == nil {
			return i, true
		}
		if reason, ok := access.ReasonOf(err); ok {
			e.markMissing(item, reason)
		}
	}
	return -1, false
}

// open runs the load steps for a single index
func (e *Engine) open(ctx context.Context, index int, mode loadMode) error {
	e.queue.SetIndex(index)
	item, _ := e.queue.Current()
	log := e.logger.WithFields(logrus.Fields{"item": item.Key().String(), "index": index})

	res, err := e.deps.Resolver.Resolve(ctx, item)
	if err != nil {
		return err
	}
	grant, err := e.deps.Access.Acquire(res)
	if err != nil {
		return err
	}

	e.gen++
	gen := e.gen
	opts := audio.OpenOptions{
		Path:     res.Path,
		File:     grant.File(),
		OnSignal: e.signalHandler(gen),
	}
	if e.deps.Analyzer != nil {
		opts.Tap = e.deps.Analyzer
	}
	rendered, err := e.deps.Pipeline.Open(ctx, opts)
	if err != nil {
		grant.Release()
		return fmt.Errorf("failed to open %s: %w", item.Key(), err)
	}
	e.item = rendered
	e.grant = grant
	e.clearMissing(item)

	duration := item.KnownDuration()
	if duration <= 0 {
		duration = rendered.Duration()
	}
	if duration <= 0 && e.deps.Prober != nil {
		if d, err := e.deps.Prober.Duration(ctx, res.Path); err == nil {
			duration = d
		} else {
			log.WithError(err).Debug("Duration probe failed")
		}
	}
	if duration > 0 && item.Duration == nil {
		d := duration
		item.Duration = &d
		e.queue.Set(index, item)
	}
	e.duration = duration
	e.loaded = item

	offset := 0.0
	switch {
	case mode.startAt != nil:
		offset = *mode.startAt
	case e.opts.RememberPosition && e.deps.Positions != nil:
		offset, err = e.deps.Positions.Resume(ctx, item.Key(), duration)
		if err != nil {
			log.WithError(err).Warn("Failed to read resume position")
			offset = 0
		}
	}
	if offset > 0 {
		if err := rendered.Seek(offset); err != nil {
			log.WithError(err).WithField("offset", offset).Warn("Resume seek failed")
		}
	}

	if e.deps.Pointer != nil {
		e.deps.Pointer.Save(item.Key(), index)
	}
	if mode.record && e.deps.History != nil {
		e.deps.History.Record(item, offset)
	}

	e.publishNowPlaying(item, res.Path, mode.play)

	if mode.play {
		rendered.Play()
		e.setState(StatePlaying)
	} else {
		e.setState(StatePaused)
	}
	log.WithField("offset", offset).Info("Loaded item")

	e.fetchLyrics(gen, res.Path)
	return nil
}

// signalHandler routes render signals onto the owner goroutine, dropping
// those from items that are no longer current
func (e *Engine) signalHandler(gen uint64) func(audio.Signal, error) {
	return func(sig audio.Signal, err error) {
		e.post(func() {
			if gen != e.gen {
				e.logger.WithField("signal", sig.String()).Debug("Ignoring signal from stale item")
				return
			}
			e.handleSignal(sig, err)
		})
	}
}

func (e *Engine) fetchLyrics(gen uint64, path string) {
	if e.deps.Prober == nil {
		return
	}
	go func() {
		text, err := e.deps.Prober.Lyrics(path)
		if err != nil {
			e.logger.WithError(err).Debug("Lyrics read failed")
			return
		}
		e.post(func() {
			if gen != e.gen {
				return
			}
			e.lyrics = text
			e.publish(EventState)
		})
	}()
}
