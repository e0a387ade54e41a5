package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/austinkregel/local-media/playerd/internal/access"
	"github.com/austinkregel/local-media/playerd/internal/audio"
	"github.com/austinkregel/local-media/playerd/internal/engine"
	"github.com/austinkregel/local-media/playerd/internal/history"
	"github.com/austinkregel/local-media/playerd/internal/ipc"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/media"
	"github.com/austinkregel/local-media/playerd/internal/persist"
	"github.com/austinkregel/local-media/playerd/internal/probe"
	"github.com/austinkregel/local-media/playerd/internal/queue"
	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/store"
)

const shutdownTimeout = 5 * time.Second

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.WithField("version", Version).Info("playerd starting")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path, cfg.Database.MaxOpenConns, logging.Component(logger, "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	// Positions and the pointer share one writer so their order holds
	playbackWriter := persist.NewWriter("playback", logger)
	queueWriter := persist.NewWriter("queue", logger)
	historyWriter := persist.NewWriter("history", logger)
	flagWriter := persist.NewWriter("flags", logger)
	defer func() {
		for _, w := range []*persist.Writer{playbackWriter, queueWriter, historyWriter, flagWriter} {
			w.Close()
		}
	}()

	accessLogger := logging.Component(logger, "access")
	resolver := access.NewResolver(cfg.Library.Paths, db, accessLogger)
	if cfg.Library.Watch && len(cfg.Library.Paths) > 0 {
		watcher, err := access.NewWatcher(cfg.Library.Paths, db, accessLogger)
		if err != nil {
			accessLogger.WithError(err).Warn("Library watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	pipeline, err := audio.NewOtoPipeline(cfg.Audio.SampleRate, cfg.Audio.BufferSizeMs, cfg.Audio.FFmpegPath, logging.Component(logger, "audio"))
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	defer pipeline.Close()

	mediaLogger := logging.Component(logger, "media")
	session, err := media.NewSession()
	if err != nil {
		mediaLogger.WithError(err).Warn("Continuing without OS media integration")
		session = media.NewNoOpSession()
	}
	defer session.Close()

	eng := engine.New(engine.Deps{
		Catalog:   db,
		Resolver:  resolver,
		Access:    access.NewAccess(),
		Prober:    probe.NewProber(cfg.Audio.FFmpegPath, logging.Component(logger, "probe")),
		Pipeline:  pipeline,
		Analyzer:  spectrum.New(cfg.Audio.FFTSize),
		Positions: persist.NewPositions(db, playbackWriter),
		Pointer:   persist.NewPointer(db, playbackWriter),
		Queue:     queue.NewStore(db, queueWriter),
		History:   history.NewRecorder(db, historyWriter),
		Flags:     flagWriter,
		Session:   session,
		Logger:    logger,
	}, engine.Options{
		StallRetry:       time.Duration(cfg.Playback.StallRetryMs) * time.Millisecond,
		Tick:             time.Duration(cfg.Playback.TickMs) * time.Millisecond,
		RememberPosition: cfg.Playback.RememberPosition,
		ResumeOnStart:    cfg.Playback.ResumeOnStart,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Engine shutdown incomplete")
		}
	}()

	audioSession, err := media.NewAudioSession(mediaLogger)
	if err != nil {
		mediaLogger.WithError(err).Info("Audio session events unavailable")
	} else {
		audioSession.SetHandler(eng)
		defer audioSession.Close()
	}

	if err := eng.SetVolume(ctx, cfg.Audio.DefaultVolume); err != nil {
		return err
	}
	if cfg.Playback.RememberQueue {
		if err := eng.Restore(ctx); err != nil {
			logger.WithError(err).Warn("Failed to restore previous session")
		}
	}

	server := ipc.NewServer(cfg.IPC.SocketPath, cfg.IPC.SpectrumHz, eng, db, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}

	logger.Info("playerd stopping")
	return nil
}
