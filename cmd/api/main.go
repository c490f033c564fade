package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"livetalk-economy/internal/auth"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/events"
	"livetalk-economy/internal/handlers"
	"livetalk-economy/internal/logging"
	"livetalk-economy/internal/services"
	"livetalk-economy/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := logging.New(cfg.Logging)

	balances, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open balance store")
	}
	defer balances.Close()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	if publisher != nil {
		defer publisher.Close()
	}

	econ := services.NewEconomy(balances, cfg.Economy, cfg.Gifts, services.Options{
		Publisher:   publisher,
		Outbox:      cfg.Outbox,
		Topics:      cfg.Kafka,
		StoreItems:  cfg.StoreItems,
		VIPPackages: cfg.VIPPackages,
	}, logger)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	hub := handlers.NewWebSocketHub(logger)
	go hub.Run(runCtx)
	econ.SetBroadcaster(hub)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		econ.Run(runCtx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Economy:   econ,
		JWT:       auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiration),
		Hub:       hub,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Int("gifts", len(cfg.Gifts)).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the timer loop and outbox workers, then settle what is still pending.
	stopRun()
	<-engineDone
	if err := econ.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Economy shutdown incomplete")
	}
}

func newStore(cfg *config.Config, logger zerolog.Logger) (store.BalanceStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("Using in-memory balance store, balances are lost on restart")
		return store.NewMemoryStore(), nil
	case "redis", "":
		return store.NewRedisStore(cfg.Redis, logger)
	default:
		return nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}

// newPublisher returns a Kafka producer when brokers are configured. Without brokers
// the memory driver records events in process and the redis driver publishes nothing.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	producer, err := events.NewProducer(events.ProducerConfig{
		Brokers:   cfg.Kafka.Brokers,
		Logger:    logger,
		WorkerNum: cfg.Outbox.Workers,
	})
	if err != nil {
		return nil, err
	}
	if producer != nil {
		return producer, nil
	}
	if cfg.Store.Driver == "memory" {
		return &events.Recorder{}, nil
	}
	return nil, nil
}
