package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stevemurr/collection-server/backup"
	"github.com/stevemurr/collection-server/collection"
	"github.com/stevemurr/collection-server/config"
	"github.com/stevemurr/collection-server/handler"
	"github.com/stevemurr/collection-server/store"
	"github.com/stevemurr/collection-server/watch"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Stdout, os.Args, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(ctx context.Context, w io.Writer, args []string, getenv func(string) string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(args, getenv)
	if err != nil {
		return err
	}
	log := newLogger(w, cfg)

	s, err := store.New(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.URL)
	if err != nil {
		return fmt.Errorf("create store (backend=%s): %w", cfg.Storage.Backend, err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	for name := range cfg.Collections {
		if err := s.Ensure(name); err != nil {
			return err
		}
	}

	if js, ok := s.(*store.JsonFileStore); ok && cfg.Storage.Watch {
		watcher, err := watch.New(s, js.Dir(), log)
		if err != nil {
			return fmt.Errorf("watch %s: %w", js.Dir(), err)
		}
		go watcher.Run(ctx)
	}

	if cfg.Backup.Schedule != "" {
		backups := backup.New(s, cfg.Backup.Dir, log)
		if err := backups.Start(cfg.Backup.Schedule); err != nil {
			return err
		}
		defer backups.Stop()
	}

	svc := collection.New(s, cfg.Defaults())
	var h http.Handler = handler.New(svc, log)
	h = handler.LogAccesses(log, h)
	h = handler.CORS(h, cfg.Server.AllowedOrigins)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "address", httpServer.Addr, "store", cfg.Storage.Backend, "data", cfg.Storage.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutting down http server", "error", err)
	}
	log.Info("stopped")
	return nil
}
