package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/five82/segcache/internal/config"
	"github.com/five82/segcache/internal/prefs"
	"github.com/five82/segcache/internal/store"
	"github.com/five82/segcache/internal/ui"
)

// Options configure both executions.
type Options struct {
	ConfigPath   string
	PrefsPath    string        // empty uses default ~/.config/segcache/prefs.toml
	SnapshotPath string        // empty uses snapshot_path from the config
	RefreshEvery time.Duration // zero uses refresh_seconds from the config
	Out          io.Writer     // render output; defaults to stdout
}

// Run hydrates a client store from the last snapshot and runs the TUI until
// the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg.LogPath, io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := Build(ctx, cfg, store.ModeClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	hydrate(ctx, rt.Store, snapshotPath(cfg, opts), logger)

	interval := cfg.RefreshEvery
	if opts.RefreshEvery > 0 {
		interval = opts.RefreshEvery
	}
	StartRefresher(ctx, rt.Store, interval, logger)

	return ui.Run(ui.Options{
		Context:   ctx,
		Store:     rt.Store,
		Bindings:  rt.Bindings,
		Prefs:     prefs.Load(opts.PrefsPath),
		PrefsPath: opts.PrefsPath,
		Logger:    logger,
	})
}

// hydrate restores the snapshot at path. A missing or unreadable snapshot
// only means the client fetches everything itself.
func hydrate(ctx context.Context, s *store.Store, path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	snap, err := store.ReadSnapshot(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("snapshot ignored", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	if _, err := s.Hydrate(ctx, snap); err != nil {
		logger.Warn("hydrate failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func snapshotPath(cfg config.Config, opts Options) string {
	if opts.SnapshotPath != "" {
		if expanded, err := config.ExpandPath(opts.SnapshotPath); err == nil {
			return expanded
		}
		return opts.SnapshotPath
	}
	return cfg.SnapshotPath
}

// newLogger writes text logs to path, or to fallback when path is empty.
func newLogger(path string, fallback io.Writer) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(fallback, &slog.HandlerOptions{Level: slog.LevelWarn})), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = file.Close() }, nil
}
