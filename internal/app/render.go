package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/five82/segcache/internal/config"
	"github.com/five82/segcache/internal/prefs"
	"github.com/five82/segcache/internal/store"
	"github.com/five82/segcache/internal/view"
)

const deferredText = "deferred to client"

// Render performs the server execution: it watches every panel, waits for
// the fetches the panels allow, prints the panel tree and writes the
// snapshot a client later hydrates from.
func Render(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg.LogPath, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := Build(ctx, cfg, store.ModeServer, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	for _, b := range rt.Bindings {
		sub, err := b.Watch(ctx, rt.Store, nil)
		if err != nil {
			return fmt.Errorf("watch %q: %w", b.Title, err)
		}
		defer sub.Close()
	}
	if err := rt.Store.Wait(ctx); err != nil {
		return fmt.Errorf("wait for fetches: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	styles := view.GetTheme(prefs.Load(opts.PrefsPath).Theme).Styles()
	rendered := view.Render(styles, view.Items(rt.Store, rt.Bindings), view.RenderOptions{
		Pending: deferredText,
	})
	if _, err := io.WriteString(out, rendered+"\n"); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	path := snapshotPath(cfg, opts)
	if path == "" {
		return nil
	}
	snap := rt.Store.Snapshot()
	if err := store.WriteSnapshot(path, snap); err != nil {
		return err
	}
	logger.Info("snapshot written",
		slog.String("path", path),
		slog.String("snapshot", snap.ID),
		slog.Int("failures", rt.Store.Failures()),
	)
	return nil
}
