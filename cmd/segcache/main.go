package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/five82/segcache/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command := "client"
	if len(args) > 0 && args[0] == "render" {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("segcache "+command, flag.ContinueOnError)
	configPath := fs.String("config", "", "override config path (optional)")
	prefsPath := fs.String("prefs", "", "override prefs path (optional)")
	snapshotPath := fs.String("snapshot", "", "override snapshot path (optional)")
	refreshSeconds := fs.Int("refresh", 0, "client refresh interval in seconds (optional, defaults to refresh_seconds)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath:   *configPath,
		PrefsPath:    *prefsPath,
		SnapshotPath: *snapshotPath,
	}
	if refresh := *refreshSeconds; refresh > 0 {
		opts.RefreshEvery = time.Duration(refresh) * time.Second
	}

	var err error
	if command == "render" {
		err = app.Render(ctx, opts)
	} else {
		err = app.Run(ctx, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "segcache: %v\n", err)
		return 1
	}
	return 0
}
