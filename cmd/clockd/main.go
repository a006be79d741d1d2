package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/backend"
	"github.com/feltops/blindclock/internal/config"
	"github.com/feltops/blindclock/internal/engine"
	"github.com/feltops/blindclock/internal/gateway"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CLOCKD_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("backend_url", cfg.BackendURL).
		Str("nats_url", cfg.NATSURL).
		Msg("starting blindclock")

	api := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout())

	// The gateway and engine reference each other: the engine publishes
	// through the connection manager, the gateway triggers recovery on
	// subscriber arrival. Build the manager first, hand it to the engine,
	// then finish the gateway with the engine in place.
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	clocks := engine.New(api, manager, clockwork.NewRealClock())
	gatewayService := gateway.NewService(manager, clocks, clocks)

	consumerCfg := engine.DefaultConsumerConfig()
	consumerCfg.URL = cfg.NATSURL
	consumerCfg.StreamName = cfg.ControlStream
	consumerCfg.ConsumerName = cfg.ControlConsumer
	consumerCfg.SubjectFilter = cfg.ControlSubject

	consumer, err := engine.NewControlConsumer(clocks, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create control consumer")
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      corsHandler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go gatewayService.Start(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("control consumer failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("control consumer shutdown failed")
	}
	clocks.Shutdown()

	log.Info().Msg("blindclock shutdown complete")
}
