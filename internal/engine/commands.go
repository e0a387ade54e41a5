package engine

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

// SetQueue replaces the queue and loads the item at start (clamped). An
// empty queue stops playback.
func (e *Engine) SetQueue(ctx context.Context, items []types.PlaybackItem, start int, play bool, label string) error {
	return e.do(ctx, func() error {
		return e.setQueue(ctx, items, start, play, label)
	})
}

// SetQueueByIDs materializes ids from the catalog off the owner goroutine,
// then replaces the queue unless another queue replaced it meanwhile
func (e *Engine) SetQueueByIDs(ctx context.Context, ids []int64, start int, play bool, label string) error {
	var epoch uint64
	if err := e.do(ctx, func() error {
		epoch = e.epoch
		return nil
	}); err != nil {
		return err
	}

	items, err := e.deps.Catalog.TracksByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}

	// Unknown ids are skipped, so find the requested start by id
	if start >= 0 && start < len(ids) {
		if _, i, ok := lo.FindIndexOf(items, func(item types.PlaybackItem) bool { return item.ID == ids[start] }); ok {
			start = i
		}
	}

	return e.do(ctx, func() error {
		if e.epoch != epoch {
			return ErrSuperseded
		}
		return e.setQueue(ctx, items, start, play, label)
	})
}

// Play resumes the current item, or loads the first queue entry when
// nothing is current
func (e *Engine) Play(ctx context.Context) error {
	return e.do(ctx, func() error { return e.play(ctx) })
}

// Pause pauses rendering and forces a resume-position write
func (e *Engine) Pause(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.pause()
		return nil
	})
}

// TogglePlayPause pauses when audio is running, plays otherwise
func (e *Engine) TogglePlayPause(ctx context.Context) error {
	return e.do(ctx, func() error {
		if e.state == StatePlaying || e.state == StateBuffering {
			e.pause()
			return nil
		}
		return e.play(ctx)
	})
}

// Stop releases the render item and keeps the queue with no entry current
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.stop()
		return nil
	})
}

// Next advances the queue. Past the end it stops unless repeat is all.
func (e *Engine) Next(ctx context.Context) error {
	return e.do(ctx, func() error { return e.next(ctx) })
}

// Previous restarts the current item when more than four seconds in,
// otherwise steps back one entry
func (e *Engine) Previous(ctx context.Context) error {
	return e.do(ctx, func() error { return e.previous(ctx) })
}

// Seek moves the current item to at seconds
func (e *Engine) Seek(ctx context.Context, at float64) error {
	return e.do(ctx, func() error { return e.seek(at) })
}

// PlayIndex jumps to queue entry i and plays it
func (e *Engine) PlayIndex(ctx context.Context, i int) error {
	return e.do(ctx, func() error {
		return e.load(ctx, i, loadMode{play: true, record: true})
	})
}

// PlayFromHistory plays the item with key, jumping to it when it is queued
// and inserting it after the current entry otherwise
func (e *Engine) PlayFromHistory(ctx context.Context, key types.ItemKey) error {
	var queued bool
	err := e.do(ctx, func() error {
		i := e.queue.IndexOf(key)
		if i < 0 {
			return nil
		}
		queued = true
		return e.load(ctx, i, loadMode{play: true, record: true})
	})
	if err != nil || queued {
		return err
	}

	item, err := e.deps.Catalog.TrackByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", key, err)
	}

	return e.do(ctx, func() error {
		if i := e.queue.IndexOf(key); i >= 0 {
			return e.load(ctx, i, loadMode{play: true, record: true})
		}
		at := e.insert(e.queue.InsertNext, []types.PlaybackItem{item})
		return e.load(ctx, at, loadMode{play: true, record: true})
	})
}

// SetRepeat sets the repeat mode
func (e *Engine) SetRepeat(ctx context.Context, mode types.RepeatMode) error {
	return e.do(ctx, func() error {
		e.repeat = mode
		if err := e.deps.Session.UpdateLoopStatus(media.LoopStatusFor(mode)); err != nil {
			e.logger.WithError(err).Debug("Media session loop update failed")
		}
		e.publish(EventState)
		return nil
	})
}

// SetShuffle enables or disables shuffle
func (e *Engine) SetShuffle(ctx context.Context, enabled bool) error {
	return e.do(ctx, func() error {
		e.shuffle = enabled
		if err := e.deps.Session.UpdateShuffle(enabled); err != nil {
			e.logger.WithError(err).Debug("Media session shuffle update failed")
		}
		e.publish(EventState)
		return nil
	})
}

// SetVolume sets the output volume in [0, 1]
func (e *Engine) SetVolume(ctx context.Context, volume float64) error {
	return e.do(ctx, func() error {
		e.deps.Pipeline.SetVolume(volume)
		e.publish(EventState)
		return nil
	})
}

// EnqueueNext inserts items right after the current entry, or at the front
// when nothing is current. Nothing is loaded.
func (e *Engine) EnqueueNext(ctx context.Context, items []types.PlaybackItem) error {
	return e.do(ctx, func() error {
		e.insert(e.queue.InsertNext, items)
		return nil
	})
}

// EnqueueEnd appends items
func (e *Engine) EnqueueEnd(ctx context.Context, items []types.PlaybackItem) error {
	return e.do(ctx, func() error {
		e.insert(e.queue.Append, items)
		return nil
	})
}

// MoveQueue moves the entries at fromOffsets before toOffset. The current
// item stays current.
func (e *Engine) MoveQueue(ctx context.Context, fromOffsets []int, toOffset int) error {
	return e.do(ctx, func() error {
		if !e.queue.Move(fromOffsets, toOffset) {
			return ErrIndexOutOfRange
		}
		e.deps.Queue.Replace(e.queue.Items())
		e.savePointer()
		e.publish(EventQueue)
		return nil
	})
}

// RemoveFromQueue removes entry i, reloading when it was current
func (e *Engine) RemoveFromQueue(ctx context.Context, i int) error {
	return e.do(ctx, func() error {
		r, ok := e.queue.RemoveAt(i)
		if !ok {
			return ErrIndexOutOfRange
		}
		e.deps.Queue.Delete(i, 1)
		e.publish(EventQueue)
		return e.afterRemoval(ctx, r)
	})
}

// RemoveTrackFromQueue removes every entry referencing trackID
func (e *Engine) RemoveTrackFromQueue(ctx context.Context, trackID int64) error {
	return e.do(ctx, func() error {
		r := e.queue.RemoveTrack(trackID)
		if r.Removed == 0 {
			return nil
		}
		e.deps.Queue.Replace(e.queue.Items())
		e.publish(EventQueue)
		return e.afterRemoval(ctx, r)
	})
}

// ClearQueue empties the queue and stops
func (e *Engine) ClearQueue(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.epoch++
		e.stop()
		e.queue.Clear()
		e.deps.Queue.Replace(nil)
		e.publish(EventQueue)
		return nil
	})
}

func (e *Engine) setQueue(ctx context.Context, items []types.PlaybackItem, start int, play bool, label string) error {
	e.epoch++
	e.logger.WithFields(logrus.Fields{"count": len(items), "start": start, "source": label}).Info("Setting queue")

	index := e.queue.Replace(items, start)
	e.deps.Queue.Replace(items)
	e.publish(EventQueue)

	if index < 0 {
		e.stop()
		return nil
	}
	return e.load(ctx, index, loadMode{play: play, record: play})
}

func (e *Engine) play(ctx context.Context) error {
	if e.item != nil {
		if e.state == StatePlaying || e.state == StateBuffering {
			return nil
		}
		e.item.Play()
		e.setState(StatePlaying)
		return nil
	}
	if e.queue.Len() == 0 {
		return nil
	}
	return e.load(ctx, 0, loadMode{play: true, record: true})
}

func (e *Engine) pause() {
	if e.item == nil || e.state == StatePaused || e.state == StateStopped {
		return
	}
	e.item.Pause()
	e.savePosition(true)
	e.setState(StatePaused)
	if e.deps.Analyzer != nil {
		e.deps.Analyzer.Stop()
	}
}

// stop leaves no entry current
func (e *Engine) stop() {
	e.savePosition(true)
	e.closeItem()
	e.queue.SetIndex(-1)
	e.setState(StateStopped)
}

// next keeps a paused engine paused and plays otherwise
func (e *Engine) next(ctx context.Context) error {
	if e.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	i, ok := e.queue.NextIndex(e.repeat, e.shuffle, e.rng)
	if !ok {
		e.stop()
		return nil
	}
	play := e.state != StatePaused
	return e.load(ctx, i, loadMode{play: play, record: play})
}

func (e *Engine) previous(ctx context.Context) error {
	if e.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	if e.item != nil && e.item.Position() > restartThreshold {
		return e.seek(0)
	}

	i, ok := e.queue.PrevIndex(e.repeat)
	if !ok {
		if e.item != nil {
			return e.seek(0)
		}
		i = 0
	}
	play := e.state != StatePaused
	return e.load(ctx, i, loadMode{play: play, record: play})
}

func (e *Engine) seek(at float64) error {
	if e.item == nil {
		return ErrNoCurrentItem
	}
	at = max(at, 0)
	if e.duration > 0 {
		at = min(at, e.duration)
	}
	if err := e.item.Seek(at); err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}

	if err := e.deps.Session.Seeked(seconds(e.item.Position())); err != nil {
		e.logger.WithError(err).Debug("Media session seek update failed")
	}
	e.syncSession()
	e.publish(EventTime)
	return nil
}

// insert applies a queue insertion, persists it and returns where it landed
func (e *Engine) insert(fn func([]types.PlaybackItem) int, items []types.PlaybackItem) int {
	if len(items) == 0 {
		return e.queue.Index()
	}
	at := fn(items)
	e.deps.Queue.Insert(at, items)
	e.savePointer()
	e.publish(EventQueue)
	return at
}

// afterRemoval reloads when the current entry was removed and otherwise
// records where the current entry moved
func (e *Engine) afterRemoval(ctx context.Context, r queue.Removal) error {
	if !r.CurrentRemoved {
		e.savePointer()
		return nil
	}
	if e.queue.Len() == 0 {
		e.stop()
		return nil
	}
	if e.item == nil {
		return nil
	}
	play := e.state == StatePlaying || e.state == StateBuffering
	return e.load(ctx, e.queue.Index(), loadMode{play: play})
}

func (e *Engine) savePointer() {
	if e.item == nil || e.deps.Pointer == nil {
		return
	}
	e.deps.Pointer.Save(e.loaded.Key(), e.queue.Index())
}
