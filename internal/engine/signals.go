package engine

import (
	"time"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

func (e *Engine) handleSignal(sig audio.Signal, err error) {
	switch sig {
	case audio.SignalEnded:
		e.onEnded()
	case audio.SignalFailed:
		e.onFailed(err)
	case audio.SignalStalled:
		e.onStalled()
	case audio.SignalRecovered:
		e.onRecovered()
	}
}

func (e *Engine) onEnded() {
	if e.item == nil {
		return
	}

	if e.repeat == types.RepeatOne {
		if err := e.item.Seek(0); err != nil {
			e.onFailed(err)
			return
		}
		e.item.Play()
		e.setState(StatePlaying)
		if err := e.deps.Session.Seeked(0); err != nil {
			e.logger.WithError(err).Debug("Media session seek update failed")
		}
		return
	}

	if e.opts.RememberPosition && e.deps.Positions != nil {
		e.deps.Positions.Save(e.loaded.Key(), 0, true)
	}
	e.closeItem()

	i, ok := e.queue.NextIndex(e.repeat, e.shuffle, e.rng)
	if !ok {
		e.logger.Info("Reached end of queue")
		e.stop()
		return
	}
	if err := e.load(e.ctx, i, loadMode{play: true, record: true}); err != nil {
		e.logger.WithError(err).Warn("Advancing after end of track failed")
	}
}

// onFailed handles a hard render failure of the current item. A failure
// raised while one is already being handled is ignored.
func (e *Engine) onFailed(err error) {
	if e.failing {
		e.logger.WithError(err).Debug("Ignoring failure during failure handling")
		return
	}
	e.failing = true
	defer func() { e.failing = false }()

	e.logger.WithError(err).WithField("item", e.loaded.Key().String()).Warn("Render failed")

	e.savePosition(true)
	if reason, ok := access.ReasonOf(err); ok && e.item != nil {
		e.markMissing(e.loaded, reason)
	}
	play := e.state == StatePlaying || e.state == StateBuffering
	e.closeItem()

	i, ok := e.nextPlayable(e.ctx, e.queue.Index())
	if !ok {
		e.logger.Warn("No playable item after failure")
		e.stop()
		return
	}
	if err := e.load(e.ctx, i, loadMode{play: play, record: play}); err != nil {
		e.logger.WithError(err).Warn("Advancing after failure failed")
	}
}

func (e *Engine) onStalled() {
	if e.state != StatePlaying || e.item == nil {
		return
	}
	e.logger.Debug("Output stalled")
	e.setState(StateBuffering)

	gen := e.gen
	e.stallTimer = time.AfterFunc(e.opts.StallRetry, func() {
		e.post(func() {
			if gen != e.gen || e.state != StateBuffering || e.item == nil {
				return
			}
			e.logger.Debug("Nudging stalled output")
			e.item.Resume()
		})
	})
}

func (e *Engine) onRecovered() {
	if e.state != StateBuffering {
		return
	}
	e.setState(StatePlaying)
}
