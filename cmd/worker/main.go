package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/glizzus/delay-relay/internal/config"
	"github.com/glizzus/delay-relay/internal/datalayer"
	"github.com/glizzus/delay-relay/internal/notify"
	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/repository"
	"github.com/glizzus/delay-relay/internal/worker"
	"github.com/redis/go-redis/v9"
)

var dryRun = flag.Bool("dry-run", false, "Do not store or post events, just print them")

func runWorkerForever() error {
	flag.Parse()
	slog.SetLogLoggerLevel(slog.LevelDebug)
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	if !redisConfig.Enabled() {
		return errors.New("REDIS_ADDR is required")
	}
	postgresConfig, err := config.NewPostgresConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load postgres config: %w", err)
	}
	discordConfig, err := config.NewDiscordConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load discord config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(redisConfig.Options())
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	consumer, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	// Events are acknowledged only once the durable handler has them.
	var durable worker.EventHandler = &worker.PrintingEventHandler{}
	var notifiers []worker.EventHandler

	if !*dryRun && postgresConfig.Enabled() {
		pool, err := datalayer.NewPostgresPool(ctx, postgresConfig)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := datalayer.MigratePostgres(pool); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
		durable = repository.NewPostgresEventRepository(pool)
		notifiers = append(notifiers, &worker.PrintingEventHandler{})
	}

	if !*dryRun && discordConfig.Enabled() {
		notifier, err := notify.NewDiscordNotifier(discordConfig,
			relay.EventTracked,
			relay.EventDisconnected,
			relay.EventReconnecting,
			relay.EventReport,
			relay.EventRecorded,
		)
		if err != nil {
			return fmt.Errorf("failed to create discord notifier: %w", err)
		}
		notifiers = append(notifiers, notifier)
	}

	receiver, err := worker.NewRedisEventReceiver(ctx, rdb, consumer)
	if err != nil {
		return fmt.Errorf("failed to create event receiver: %w", err)
	}

	slog.Info("Worker started", "consumer", consumer, "stream", worker.EventStream)
	c := &worker.Consumer{
		Source:    receiver,
		Durable:   durable,
		Notifiers: notifiers,
	}
	return c.Run(ctx)
}

func main() {
	if err := runWorkerForever(); err != nil {
		slog.Error("Worker encountered an error", slog.Any("error", err))
		os.Exit(1)
	}
}
