package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairbridge/pairing-server-go/internal/config"
	"github.com/pairbridge/pairing-server-go/internal/creds"
	"github.com/pairbridge/pairing-server-go/internal/handler"
	"github.com/pairbridge/pairing-server-go/internal/jobs"
	"github.com/pairbridge/pairing-server-go/internal/middleware"
	"github.com/pairbridge/pairing-server-go/internal/redis"
	"github.com/pairbridge/pairing-server-go/internal/service"
	"github.com/pairbridge/pairing-server-go/internal/sse"
	"github.com/pairbridge/pairing-server-go/internal/store"
	"github.com/pairbridge/pairing-server-go/internal/wa/meow"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.SessionsDir, 0o700); err != nil {
		log.Fatal().Err(err).Msg("failed to create sessions directory")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	sessionStore := store.NewSessionStore()
	encoder := creds.NewEncoder(config.CredsMarkerFile)
	dialer := meow.NewDialer()

	pairingService := service.NewPairingService(sessionStore, encoder, dialer, broker, service.PairingOptions{
		SessionsDir:    cfg.SessionsDir,
		SettleDelay:    config.SocketSettleDelay,
		FlushDelay:     config.CredsFlushDelay,
		PendingTimeout: cfg.PendingTimeout(),
		SessionTTL:     cfg.SessionTTL(),
	})

	pairLimiter := service.NewPairLimiter(redisClient.Client, cfg.PairRateLimitPerMin)

	pairingHandler := handler.NewPairingHandler(pairingService)
	eventsHandler := handler.NewEventsHandler(broker, pairingService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(middleware.BodyLimit(0))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.PairRateLimit(pairLimiter)).Post("/pair", pairingHandler.Pair)
		r.Get("/status/{sessionID}", pairingHandler.Status)
		r.Get("/session/{sessionID}", pairingHandler.Session)
		r.Get("/events/{sessionID}", eventsHandler.ServeHTTP)
	})

	r.NotFound(handler.StaticFileServer(cfg.StaticDir).ServeHTTP)

	cleanupJob := jobs.NewCleanupJob(sessionStore, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
