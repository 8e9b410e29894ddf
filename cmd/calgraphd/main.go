// Command calgraphd serves the calendar event-graph API over HTTP. It is
// a thin transport: all event semantics live in the service and engine
// packages.
package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"calgraph/service"
	"calgraph/storage"
	"calgraph/storage/memory"
	"calgraph/storage/sqlite"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("CALGRAPH_LOG_LEVEL"))

	store, err := newStore(os.Getenv("CALGRAPH_DB"))
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}

	addr := os.Getenv("CALGRAPH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	svc := service.New(store, logger)
	srv := newServer(svc, logger)

	logger.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv.router()); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newStore(dsn string) (storage.Storage, error) {
	if dsn == "" || dsn == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(dsn)
}
