package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/config"
	"github.com/vasiliy-maslov/artist-platform/internal/db"
	"github.com/vasiliy-maslov/artist-platform/internal/handler"
	"github.com/vasiliy-maslov/artist-platform/internal/inventory"
	"github.com/vasiliy-maslov/artist-platform/internal/notify"
	"github.com/vasiliy-maslov/artist-platform/internal/order"
	"github.com/vasiliy-maslov/artist-platform/internal/pricing"
	"github.com/vasiliy-maslov/artist-platform/internal/transport"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)

	log.Info().Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	readDB := pg.SQLX()
	defer readDB.Close()

	dispatcher, closeSinks := buildDispatcher(ctx, cfg)
	defer closeSinks()

	ledger := inventory.NewLedger(time.Now)
	store := order.NewPostgresStore(pg.Pool, readDB, ledger)
	svc := order.NewService(store, pricing.NewCalculator(cfg.Pricing), dispatcher)

	router := transport.NewRouter(handler.NewOrderHandler(svc), pg.Pool)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(dispatchCtx, cfg.Notify.Workers); err != nil {
			log.Error().Err(err).Msg("Notification dispatcher stopped")
		}
	}()

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}

	stopDispatch()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Notification dispatcher did not stop in time")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "order-service").Logger()
}

// buildDispatcher wires the notification queue and sinks from cfg. Sinks that
// are not configured fall back to logging.
func buildDispatcher(ctx context.Context, cfg *config.Config) (*notify.Dispatcher, func()) {
	var closers []func()

	var queue notify.Queue = notify.NewMemoryQueue(cfg.Notify.QueueSize)
	var opts []notify.Option
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		closers = append(closers, func() { _ = client.Close() })
		queue = notify.NewRedisQueue(client, cfg.Notify.QueueKey, time.Second)
		opts = append(opts, notify.WithOutbox(cfg.Notify.QueueSize))
		log.Info().Str("key", cfg.Notify.QueueKey).Msg("Using redis notification queue")
	}

	var email notify.Sender = notify.NewLogSender("email")
	if cfg.SMTP.Host != "" {
		email = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
		log.Info().Str("host", cfg.SMTP.Host).Msg("Using SMTP for customer e-mails")
	}

	var events notify.Sender = notify.NewLogSender("events")
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := notify.NewKafkaSender(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka writer")
			}
		})
		events = publisher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing order events to kafka")
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return notify.NewDispatcher(queue, email, events, opts...), closeAll
}
