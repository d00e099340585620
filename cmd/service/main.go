package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"automation-hub/internal/api"
	"automation-hub/internal/broadcast"
	"automation-hub/internal/config"
	"automation-hub/internal/engine"
	"automation-hub/internal/gitsync"
	"automation-hub/internal/notify"
	"automation-hub/internal/scheduler"
	"automation-hub/internal/store"
	"automation-hub/internal/vault"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	logger := log.With().Str("component", "main").Logger()

	vaultClient, err := vault.NewClient()
	if err != nil {
		logger.Warn().Err(err).Msg("Vault unavailable, falling back to environment variables")
	}

	cfg := config.Load(vaultClient)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	st, err := store.Open(cfg.DatabasePath, log.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	var sender notify.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, log.Logger)
	} else {
		sender = &notify.LogSender{Logger: log.With().Str("component", "notify").Logger()}
	}

	hub := broadcast.NewHub(log.Logger)
	eng := engine.New(st, cfg, hub, sender, log.Logger)
	syncer := gitsync.New(cfg, log.Logger)

	srv, err := api.New(eng, st, cfg, syncer, log.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.New(st, eng, log.Logger).Run(ctx)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal().Err(err).Msg("Server failed")

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
		if err := srv.Stop(); err != nil {
			logger.Error().Err(err).Msg("Could not stop server gracefully")
			os.Exit(1)
		}
	}
}
