// Package config handles daemon configuration file management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the daemon configuration
type Config struct {
	Library  LibraryConfig  `toml:"library"`
	Database DatabaseConfig `toml:"database"`
	Audio    AudioConfig    `toml:"audio"`
	Playback PlaybackConfig `toml:"playback"`
	Logging  LoggingConfig  `toml:"logging"`
	IPC      IPCConfig      `toml:"ipc"`
}

// LibraryConfig lists the directories whose files are trusted without a bookmark
type LibraryConfig struct {
	Paths []string `toml:"paths"`

	// Watch clears missing flags when files reappear under Paths
	Watch bool `toml:"watch"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `toml:"sample_rate"`

	// BufferSizeMs is the render buffer length in milliseconds (default: 100)
	BufferSizeMs int `toml:"buffer_size_ms"`

	// DefaultVolume level 0.0 - 1.0 (default: 1.0)
	DefaultVolume float64 `toml:"default_volume"`

	// FFTSize requested by the spectrum tap, clamped to [256, 4096]
	FFTSize int `toml:"fft_size"`

	// FFmpegPath is used for formats the native decoders do not handle
	FFmpegPath string `toml:"ffmpeg_path"`
}

// PlaybackConfig contains behavior-related settings
type PlaybackConfig struct {
	// ResumeOnStart - resume last playing track on daemon start
	ResumeOnStart bool `toml:"resume_on_start"`

	// RememberQueue - restore the persisted queue on start
	RememberQueue bool `toml:"remember_queue"`

	// RememberPosition - seek to the stored resume position on load
	RememberPosition bool `toml:"remember_position"`

	// StallRetryMs is the delay before a stalled pipeline is nudged
	StallRetryMs int `toml:"stall_retry_ms"`

	// TickMs is the position ticker interval
	TickMs int `toml:"tick_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// IPCConfig contains the control socket settings
type IPCConfig struct {
	SocketPath string `toml:"socket_path"`

	// SpectrumHz caps spectrum pushes per subscriber
	SpectrumHz float64 `toml:"spectrum_hz"`
}

// DefaultConfig returns the default configuration rooted at dataDir
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Library: LibraryConfig{
			Paths: []string{},
			Watch: true,
		},
		Database: DatabaseConfig{
			Path:         filepath.Join(dataDir, "playerd.db"),
			MaxOpenConns: 4,
		},
		Audio: AudioConfig{
			SampleRate:    44100,
			BufferSizeMs:  100,
			DefaultVolume: 1.0,
			FFTSize:       1024,
			FFmpegPath:    "ffmpeg",
		},
		Playback: PlaybackConfig{
			ResumeOnStart:    false,
			RememberQueue:    true,
			RememberPosition: true,
			StallRetryMs:     1500,
			TickMs:           250,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		IPC: IPCConfig{
			SocketPath: filepath.Join(dataDir, "playerd.sock"),
			SpectrumHz: 30,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path cannot be empty", ErrInvalidConfig)
	}
	if c.IPC.SocketPath == "" {
		return fmt.Errorf("%w: socket path cannot be empty", ErrInvalidConfig)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		return fmt.Errorf("%w: default volume must be within [0, 1]", ErrInvalidConfig)
	}
	if c.Playback.TickMs <= 0 {
		return fmt.Errorf("%w: tick_ms must be positive", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: invalid log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.toml"),
		config:     DefaultConfig(configDir),
	}
}

// NewManagerForFile creates a manager for an explicit config file path
func NewManagerForFile(configPath string) *Manager {
	dir := filepath.Dir(configPath)
	return &Manager{
		configDir:  dir,
		configPath: configPath,
		config:     DefaultConfig(dir),
	}
}

// Load reads the configuration from disk, applies environment overrides and
// validates the result. A missing file is created with defaults.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := DefaultConfig(m.configDir)
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = cfg
		if err := m.Save(); err != nil {
			return err
		}
	} else {
		if _, err := toml.DecodeFile(m.configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		m.config = cfg
	}

	// .env next to the config file is optional
	_ = godotenv.Load(filepath.Join(m.configDir, ".env"))
	applyEnv(m.config)

	return m.config.Validate()
}

// applyEnv overlays PLAYERD_* environment variables
func applyEnv(c *Config) {
	if v := os.Getenv("PLAYERD_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PLAYERD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("PLAYERD_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PLAYERD_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("PLAYERD_LIBRARY_PATHS"); v != "" {
		c.Library.Paths = filepath.SplitList(v)
	}
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(m.configPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# playerd configuration\n\n"); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(m.config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// AddLibraryPath adds a library path
func (m *Manager) AddLibraryPath(path string) error {
	for _, p := range m.config.Library.Paths {
		if p == path {
			return nil
		}
	}

	m.config.Library.Paths = append(m.config.Library.Paths, path)
	return m.Save()
}

// RemoveLibraryPath removes a library path
func (m *Manager) RemoveLibraryPath(path string) error {
	paths := make([]string, 0, len(m.config.Library.Paths))
	for _, p := range m.config.Library.Paths {
		if p != path {
			paths = append(paths, p)
		}
	}
	m.config.Library.Paths = paths
	return m.Save()
}
