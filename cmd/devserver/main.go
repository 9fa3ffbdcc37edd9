// Command devserver runs the reference backend: a scripted assistant that
// speaks the session protocol for local development and end-to-end tests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/config"
	"github.com/chadiek/voice-session/internal/httpserver"
	"github.com/chadiek/voice-session/internal/infra/history"
	"github.com/chadiek/voice-session/internal/infra/storage"
	"github.com/chadiek/voice-session/internal/logging"
	"github.com/chadiek/voice-session/internal/metrics"
)

func main() {
	configFile := flag.String("config", "", "config file (default ./voicechat.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "devserver")
	if err := run(cfg.DevServer, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server error")
	}
}

func run(cfg config.DevServerConfig, logger zerolog.Logger) error {
	store, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	hist, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	assistant := httpserver.NewAssistant()
	if templates, docs, err := assistant.LoadDir(cfg.DataDir); err != nil {
		logger.Warn().Err(err).Msg("Some saved templates could not be loaded")
	} else if templates+docs > 0 {
		logger.Info().Int("templates", templates).Int("documents", docs).Msg("Restored knowledge")
	}

	srv := httpserver.New(httpserver.Options{
		Storage:   store,
		History:   hist,
		Metrics:   metrics.New(),
		Assistant: assistant,
		Logger:    logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("Server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		logger.Info().Stringer("signal", sig).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx, server); err != nil {
		logger.Warn().Err(err).Msg("Graceful shutdown failed")
		_ = server.Close()
	}
	return nil
}

// openStorage prefers Supabase when credentials are configured.
func openStorage(cfg config.DevServerConfig, logger zerolog.Logger) (storage.Storage, error) {
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		s, err := storage.NewSupabaseStorage(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.SupabaseBucket).Msg("Uploads go to Supabase Storage")
		return s, nil
	}
	s, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", cfg.DataDir).Msg("Uploads go to local disk")
	return s, nil
}

func openHistory(cfg config.DevServerConfig, logger zerolog.Logger) (history.Store, error) {
	if cfg.HistoryDB == "" {
		return history.NewMemoryStore(), nil
	}
	path := cfg.HistoryDB
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(cfg.DataDir, path)
	}
	s, err := history.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", path).Msg("Conversation history in SQLite")
	return s, nil
}
