// Command kvgitd serves a blob-store repository over HTTP and WebSocket,
// pushing live updates when another process mutates the store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rybkr/kvgit/internal/blobstore"
	"github.com/rybkr/kvgit/internal/gitcore"
	"github.com/rybkr/kvgit/internal/server"
	"github.com/rybkr/kvgit/internal/worktree"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7421", "listen address")
	storeDir := flag.String("store", ".kvgit", "blob store directory")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	store, err := blobstore.NewDiskStore(*storeDir, logger)
	if err != nil {
		logger.Error("Failed to open store", "dir", *storeDir, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	repo, err := gitcore.Open(ctx, store, worktree.New(store))
	if err != nil {
		logger.Error("Failed to open repository", "dir", *storeDir, "err", err)
		os.Exit(1)
	}
	repo.SetLogger(logger)

	if err := store.StartWatching(); err != nil {
		logger.Error("Failed to watch store", "err", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Addr:    *addr,
		Repo:    repo,
		Changes: store.Changes(),
		Logger:  logger,
	})
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", "err", err)
		os.Exit(1)
	}

	fmt.Printf("kvgitd serving %s on http://%s\n", *storeDir, *addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "err", err)
		os.Exit(1)
	}
}

// newLogger builds a text slog logger at the requested level.
func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
