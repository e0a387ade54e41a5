package engine

import (
	"fmt"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (e *Engine) mediaState() media.PlaybackState {
	switch e.state {
	case StatePlaying, StateBuffering:
		return media.StatePlaying
	case StatePaused:
		return media.StatePaused
	default:
		return media.StateStopped
	}
}

func (e *Engine) syncSession() {
	e.lastSync = time.Now()
	if err := e.deps.Session.UpdatePlaybackState(e.mediaState(), seconds(e.position())); err != nil {
		e.logger.WithError(err).Debug("Media session state update failed")
	}
}

// publishNowPlaying pushes item metadata to the OS media surface
func (e *Engine) publishNowPlaying(item types.PlaybackItem, path string, playing bool) {
	art := item.ArtworkURI
	if art == "" && e.deps.Prober != nil {
		if found := e.deps.Prober.Artwork(path); found != "" {
			art = access.FileURI(found)
		}
	}

	rate := 0.0
	if playing {
		rate = 1
	}
	err := e.deps.Session.UpdateMetadata(media.Metadata{
		TrackID:    item.Key().String(),
		Title:      item.Title,
		Artist:     item.Artist,
		Album:      item.Album,
		Duration:   seconds(e.duration),
		Elapsed:    seconds(e.position()),
		Rate:       rate,
		ArtworkURI: art,
	})
	if err != nil {
		e.logger.WithError(err).Debug("Media session metadata update failed")
	}
}

// OnCommand handles transport commands from the OS media session
func (e *Engine) OnCommand(cmd media.Command, data interface{}) error {
	ctx := e.ctx
	e.logger.WithField("command", cmd.String()).Debug("Media session command")

	switch cmd {
	case media.CmdPlay:
		return e.Play(ctx)
	case media.CmdPause:
		return e.Pause(ctx)
	case media.CmdPlayPause:
		return e.TogglePlayPause(ctx)
	case media.CmdStop:
		return e.Stop(ctx)
	case media.CmdNext:
		return e.Next(ctx)
	case media.CmdPrevious:
		return e.Previous(ctx)
	case media.CmdSeek:
		d, ok := data.(time.Duration)
		if !ok {
			return fmt.Errorf("seek expects a duration, got %T", data)
		}
		return e.Seek(ctx, d.Seconds())
	case media.CmdSetShuffle:
		enabled, ok := data.(bool)
		if !ok {
			return fmt.Errorf("shuffle expects a bool, got %T", data)
		}
		return e.SetShuffle(ctx, enabled)
	case media.CmdSetLoopStatus:
		status, ok := data.(media.LoopStatus)
		if !ok {
			return fmt.Errorf("loop status expects a LoopStatus, got %T", data)
		}
		return e.SetRepeat(ctx, status.RepeatMode())
	default:
		return fmt.Errorf("unsupported media command %s", cmd)
	}
}

// InterruptionBegan pauses and remembers whether audio was running
func (e *Engine) InterruptionBegan() {
	e.post(func() {
		active := e.state == StatePlaying || e.state == StateBuffering
		e.interrupted = active
		if active {
			e.logger.Info("Audio interrupted, pausing")
			e.pause()
		}
	})
}

// InterruptionEnded resumes only if the interruption paused active playback
func (e *Engine) InterruptionEnded(shouldResume bool) {
	e.post(func() {
		wasActive := e.interrupted
		e.interrupted = false
		if shouldResume && wasActive && e.state == StatePaused {
			e.logger.Info("Interruption ended, resuming")
			if err := e.play(e.ctx); err != nil {
				e.logger.WithError(err).Warn("Resume after interruption failed")
			}
		}
	})
}

// RouteChanged pauses when the current output device goes away
func (e *Engine) RouteChanged(reason media.RouteChangeReason) {
	e.post(func() {
		if reason != media.RouteOldDeviceUnavailable {
			return
		}
		if e.state == StatePlaying || e.state == StateBuffering {
			e.logger.Info("Output device lost, pausing")
			e.pause()
		}
	})
}

// MediaServicesReset reopens the current item where it was
func (e *Engine) MediaServicesReset() {
	e.post(func() {
		if e.item == nil {
			return
		}
		at := e.item.Position()
		play := e.state == StatePlaying || e.state == StateBuffering
		e.logger.WithField("position", at).Info("Media services reset, reopening current item")
		if err := e.load(e.ctx, e.queue.Index(), loadMode{play: play, startAt: &at}); err != nil {
			e.logger.WithError(err).Warn("Reopen after media reset failed")
		}
	})
}

var (
	_ media.CommandHandler      = (*Engine)(nil)
	_ media.AudioSessionHandler = (*Engine)(nil)
)
