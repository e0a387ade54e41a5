//go:build !linux

package media

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewSession creates a new platform-specific media session
// This is the fallback for unsupported platforms
func NewSession() (Session, error) {
	return nil, fmt.Errorf("media session not supported on this platform")
}

// NewAudioSession is unavailable off Linux; callers fall back to NoOpSession
func NewAudioSession(logger logrus.FieldLogger) (AudioSession, error) {
	return nil, fmt.Errorf("audio session not supported on this platform")
}
