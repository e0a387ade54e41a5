// Package main is the entry point for the playerd daemon.
// playerd is a headless playback engine that integrates with OS media
// sessions and is driven by clients over a local IPC socket.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/austinkregel/local-media/playerd/internal/config"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	app := &cli.Command{
		Name:    "playerd",
		Usage:   "Headless audio playback daemon",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: ~/.config/playerd/config.toml)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the daemon (default)",
				Action: runDaemon,
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations and exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "down",
						Usage: "Roll back the latest migration instead",
					},
				},
				Action: migrate,
			},
			{
				Name:  "config",
				Usage: "Configuration file operations",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write the default configuration file",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
						Action: configInit,
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "playerd: %v\n", err)
		os.Exit(1)
	}
}

func configPath(cmd *cli.Command) (string, error) {
	if p := cmd.String("config"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "playerd", "config.toml"), nil
}

// loadConfig reads the config file, creating it with defaults when missing
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	mgr := config.NewManagerForFile(path)
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := mgr.Get()
	if cmd.Bool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Database.Path, 1, logging.Component(logger, "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	if cmd.Bool("down") {
		if err := store.RollbackMigration(db.Conn()); err != nil {
			return err
		}
		logger.WithField("path", cfg.Database.Path).Info("Rolled back latest migration")
		return nil
	}

	logger.WithField("path", cfg.Database.Path).Info("Database is up to date")
	return nil
}

func configInit(ctx context.Context, cmd *cli.Command) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	mgr := config.NewManagerForFile(path)
	if err := mgr.Save(); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
