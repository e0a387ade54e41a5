// Package media provides OS-level media session integration: the
// now-playing surface with its transport commands, and the audio session
// that reports interruptions, route changes and media service resets.
package media

import (
	"time"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// Metadata contains track metadata for media session display
type Metadata struct {
	// TrackID identifies the item, e.g. "local:42"
	TrackID    string
	Title      string
	Artist     string
	Album      string
	Duration   time.Duration
	Elapsed    time.Duration
	Rate       float64
	ArtworkURI string
}

// LoopStatus represents the loop/repeat mode for MPRIS
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// LoopStatusFor maps a repeat mode to its MPRIS loop status
func LoopStatusFor(mode types.RepeatMode) LoopStatus {
	switch mode {
	case types.RepeatOne:
		return LoopTrack
	case types.RepeatAll:
		return LoopPlaylist
	default:
		return LoopNone
	}
}

// RepeatMode maps a loop status back to a repeat mode
func (l LoopStatus) RepeatMode() types.RepeatMode {
	switch l {
	case LoopTrack:
		return types.RepeatOne
	case LoopPlaylist:
		return types.RepeatAll
	default:
		return types.RepeatOff
	}
}

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the currently playing track metadata
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	// Seeked reports a discontinuous position change
	Seeked(position time.Duration) error

	// UpdateShuffle updates the shuffle state
	UpdateShuffle(enabled bool) error

	// UpdateLoopStatus updates the repeat/loop mode
	UpdateLoopStatus(status LoopStatus) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	// Close releases resources
	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek
	CmdSetShuffle
	CmdSetLoopStatus
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeek:
		return "Seek"
	case CmdSetShuffle:
		return "SetShuffle"
	case CmdSetLoopStatus:
		return "SetLoopStatus"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS. Seek carries a
// time.Duration, SetShuffle a bool, SetLoopStatus a LoopStatus.
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// RouteChangeReason says why the output route changed
type RouteChangeReason int

const (
	RouteUnknown RouteChangeReason = iota
	// RouteOldDeviceUnavailable means the current output device went away
	RouteOldDeviceUnavailable
	RouteNewDeviceAvailable
)

func (r RouteChangeReason) String() string {
	switch r {
	case RouteOldDeviceUnavailable:
		return "oldDeviceUnavailable"
	case RouteNewDeviceAvailable:
		return "newDeviceAvailable"
	default:
		return "unknown"
	}
}

// AudioSessionHandler receives audio session events
type AudioSessionHandler interface {
	InterruptionBegan()
	InterruptionEnded(shouldResume bool)
	RouteChanged(reason RouteChangeReason)
	MediaServicesReset()
}

// AudioSession reports system audio events to a registered handler
type AudioSession interface {
	SetHandler(handler AudioSessionHandler)
	Close() error
}

// NoOpSession is a session that does nothing
// Used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(metadata Metadata) error {
	return nil
}

func (s *NoOpSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	return nil
}

func (s *NoOpSession) Seeked(position time.Duration) error {
	return nil
}

func (s *NoOpSession) UpdateShuffle(enabled bool) error {
	return nil
}

func (s *NoOpSession) UpdateLoopStatus(status LoopStatus) error {
	return nil
}

func (s *NoOpSession) SetCommandHandler(handler CommandHandler) {
}

func (s *NoOpSession) SetHandler(handler AudioSessionHandler) {
}

func (s *NoOpSession) Close() error {
	return nil
}

var (
	_ Session      = (*NoOpSession)(nil)
	_ AudioSession = (*NoOpSession)(nil)
)
