package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/api"
	"ad-decision-engine/internal/config"
	"ad-decision-engine/internal/engine"
	"ad-decision-engine/internal/listener"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	loader, store, err := OpenSource(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init source")
	}
	if store != nil {
		defer store.Close()
	}

	// Engine
	eng := engine.NewEngine(nil)
	if err := eng.BuildSnapshot(rootCtx, loader); err != nil {
		log.Fatal().Err(err).Msg("initial snapshot build")
	}

	providers, closeProviders, err := Providers(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init visitor providers")
	}
	defer closeProviders()

	state, closeState, err := StateFactory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init visitor state")
	}
	defer closeState()

	// HTTP
	var rec api.Recorder
	if store != nil {
		rec = store
	}
	r := api.Router(
		api.NewDeliveryHandler(eng, state, providers...),
		api.NewCollectorHandler(cfg.Tracking.SecurityToken, rec),
		api.NewRateLimiter(cfg.Tracking.RatePerSecond, cfg.Tracking.Burst),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	if store != nil {
		go listener.ListenAndRefresh(rootCtx, store, eng, cfg.Listener.Channel, cfg.Backoff())
	}

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("source", cfg.Source.Kind).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
