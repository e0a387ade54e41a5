//go:build linux

package media

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	logindManagerInterface = "org.freedesktop.login1.Manager"
	dbusInterface          = "org.freedesktop.DBus"

	// Sound servers that own this name (PulseAudio, pipewire-pulse)
	soundServerName = "org.pulseaudio.Server"
)

// DBusAudioSession turns system D-Bus signals into audio session events.
// Suspend (logind PrepareForSleep) interrupts playback; losing the sound
// server is a route change and its return a media services reset.
type DBusAudioSession struct {
	system  *dbus.Conn
	session *dbus.Conn
	logger  logrus.FieldLogger

	mu      sync.Mutex
	handler AudioSessionHandler

	signals chan *dbus.Signal
	done    chan struct{}
}

// NewAudioSession subscribes to logind on the system bus and to sound server
// ownership on the session bus. Either bus may be unavailable.
func NewAudioSession(logger logrus.FieldLogger) (AudioSession, error) {
	s := &DBusAudioSession{
		logger:  logger,
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}

	if conn, err := dbus.ConnectSystemBus(); err == nil {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(logindManagerInterface),
			dbus.WithMatchMember("PrepareForSleep"),
		); err != nil {
			logger.WithError(err).Warn("Cannot subscribe to logind sleep signals")
			conn.Close()
		} else {
			conn.Signal(s.signals)
			s.system = conn
		}
	} else {
		logger.WithError(err).Debug("System bus unavailable")
	}

	if conn, err := dbus.ConnectSessionBus(); err == nil {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(dbusInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, soundServerName),
		); err != nil {
			logger.WithError(err).Warn("Cannot watch sound server ownership")
			conn.Close()
		} else {
			conn.Signal(s.signals)
			s.session = conn
		}
	} else {
		logger.WithError(err).Debug("Session bus unavailable")
	}

	if s.system == nil && s.session == nil {
		return nil, fmt.Errorf("no D-Bus connection available")
	}

	go s.run()
	return s, nil
}

// SetHandler registers the receiver of audio session events
func (s *DBusAudioSession) SetHandler(handler AudioSessionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *DBusAudioSession) run() {
	for {
		select {
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handle(sig)
		case <-s.done:
			return
		}
	}
}

func (s *DBusAudioSession) handle(sig *dbus.Signal) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil || sig == nil {
		return
	}

	switch sig.Name {
	case logindManagerInterface + ".PrepareForSleep":
		if len(sig.Body) < 1 {
			return
		}
		sleeping, ok := sig.Body[0].(bool)
		if !ok {
			return
		}
		if sleeping {
			s.logger.Info("System suspending, interrupting playback")
			h.InterruptionBegan()
		} else {
			s.logger.Info("System resumed")
			h.InterruptionEnded(true)
		}

	case dbusInterface + ".NameOwnerChanged":
		if len(sig.Body) < 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		oldOwner, _ := sig.Body[1].(string)
		newOwner, _ := sig.Body[2].(string)
		if name != soundServerName {
			return
		}
		switch {
		case oldOwner != "" && newOwner == "":
			s.logger.Warn("Sound server went away")
			h.RouteChanged(RouteOldDeviceUnavailable)
		case oldOwner == "" && newOwner != "":
			s.logger.Info("Sound server is back")
			h.MediaServicesReset()
		}
	}
}

// Close stops delivering events
func (s *DBusAudioSession) Close() error {
	close(s.done)
	var firstErr error
	for _, conn := range []*dbus.Conn{s.system, s.session} {
		if conn == nil {
			continue
		}
		conn.RemoveSignal(s.signals)
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
