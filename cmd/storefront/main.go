package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/events"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
	"github.com/vasiliy-maslov/storefront/internal/mail"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/product"
	"github.com/vasiliy-maslov/storefront/internal/realtime"
	"github.com/vasiliy-maslov/storefront/internal/transport"
	"github.com/vasiliy-maslov/storefront/internal/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)

	log.Info().Msg("Storefront starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	if err := dbConn.Migrate(cfg.Postgres.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	images, err := upload.NewDiskStore(cfg.App.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg)

	hub := realtime.NewHub(realtime.NewRegistry(), cfg.App.AllowedOrigins)
	metrics.RegisterSessionGauge(reg, hub.SessionCount)

	publisher := events.NewPublisher(cfg.Kafka)
	notifier := notify.New(
		mail.NewSender(cfg.SMTP),
		hub,
		publisher,
		cfg.App.AdminEmail,
		notify.WithRecorder(serverMetrics),
	)

	productSvc := product.NewService(product.NewRepository(dbConn.SQL), images)
	orderSvc := order.NewService(
		order.NewRepository(dbConn.Pool),
		productSvc,
		notifier,
		order.WithNotifyTimeout(cfg.App.NotifyTimeout),
	)

	var store idempotency.Store
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = idempotency.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, Idempotency-Key support disabled")
		} else {
			store = idempotency.NewRedisStore(redisClient, cfg.Redis.IdempotencyTTL)
		}
	}

	router := transport.NewRouter(transport.Dependencies{
		Orders:         orderSvc,
		Products:       productSvc,
		Idempotency:    store,
		Realtime:       hub,
		DB:             dbConn,
		Metrics:        serverMetrics,
		Gatherer:       reg,
		UploadDir:      images.Dir(),
		AllowedOrigins: cfg.App.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)

		// Pending notifications may still push to sessions, so the hub closes after them.
		orderSvc.Wait()
		hub.Close()
		if cerr := publisher.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close event publisher")
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(app.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "storefront").Logger()
}
