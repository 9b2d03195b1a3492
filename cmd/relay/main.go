package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glizzus/delay-relay/internal/app"
	"github.com/glizzus/delay-relay/internal/config"
	"github.com/glizzus/delay-relay/internal/datalayer"
	"github.com/glizzus/delay-relay/internal/mumble"
	"github.com/glizzus/delay-relay/internal/presenters"
	"github.com/glizzus/delay-relay/internal/recording"
	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/schedule"
	"github.com/glizzus/delay-relay/internal/worker"
	"github.com/redis/go-redis/v9"
)

const ignoreRefreshInterval = 30 * time.Second

func runRelayForever() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	relayConfig, err := config.NewRelayConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load relay config: %w", err)
	}
	slog.SetLogLoggerLevel(relayConfig.LogLevel)

	tlsConfig, err := relayConfig.TLS.Build()
	if err != nil {
		return fmt.Errorf("failed to build tls config: %w", err)
	}

	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load minio config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := []worker.EventHandler{&worker.PrintingEventHandler{}}
	var ignore relay.Ignorer = worker.NewMemoryIgnoreList(relayConfig.IgnoredNames()...)

	var rdb *redis.Client
	if redisConfig.Enabled() {
		rdb = redis.NewClient(redisConfig.Options())
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// Background workers stop after the relay and before redis closes.
	var background sync.WaitGroup
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer func() {
		cancelBackground()
		background.Wait()
	}()

	if rdb != nil {
		eventHandler, err := worker.NewRedisEventHandler(ctx, rdb)
		if err != nil {
			return fmt.Errorf("failed to create redis event handler: %w", err)
		}
		handlers = append(handlers, eventHandler)

		ignoreList := worker.NewRedisIgnoreList(rdb, relayConfig.IgnoredNames()...)
		if err := ignoreList.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to load ignore list: %w", err)
		}
		background.Add(1)
		go func() {
			defer background.Done()
			ignoreList.Run(backgroundCtx, ignoreRefreshInterval)
		}()
		ignore = ignoreList
	} else {
		slog.Info("REDIS_ADDR not set, events are only logged")
	}

	dispatcher := worker.NewDispatcher(worker.DefaultDispatchBuffer, handlers...)
	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.Run(backgroundCtx)
	}()

	var recorders *recording.Factory
	if minioConfig.Enabled() {
		storage, err := datalayer.NewMinioStorage(minioConfig)
		if err != nil {
			return fmt.Errorf("failed to create minio storage: %w", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure minio bucket: %w", err)
		}
		recorders = recording.NewFactory(storage, recording.FactoryOptions{Events: dispatcher})
	}

	opts := app.Options{
		Server: mumble.Settings{
			Host:      relayConfig.Host,
			Port:      relayConfig.Port,
			Nickname:  relayConfig.Nickname,
			Password:  relayConfig.Password,
			TLSConfig: tlsConfig,
		},
		Relay: relay.Config{
			SourceChannel: relayConfig.SourceChannel,
			DestChannel:   relayConfig.DestChannel,
			Delay:         relayConfig.Delay,
			MimicName:     relayConfig.MimicName,
			ReportCron:    relayConfig.ReportCron,
		},
		Events: dispatcher,
		Ignore: ignore,
	}
	if recorders != nil {
		opts.Recorder = recorders.New
		defer recorders.Wait()
	}

	r, err := app.NewRelay(opts)
	if err != nil {
		return err
	}

	// SIGUSR1 logs what every mimic is doing.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-usr1:
				for _, line := range presenters.StatusLines(r.Status(ctx)) {
					slog.Info(line)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if relayConfig.ReportCron != "" {
		next, err := schedule.NextRunTimes(relayConfig.ReportCron, 1)
		if err != nil {
			return fmt.Errorf("invalid RELAY_REPORT_CRON: %w", err)
		}
		slog.Info("Status reports enabled", "cron", relayConfig.ReportCron, "next", next[0])
	}

	slog.Info("Starting relay",
		"server", opts.Server.Address(),
		"source", relayConfig.SourceChannel,
		"destination", relayConfig.DestChannel,
		"delay", relayConfig.Delay,
	)
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("relay stopped: %w", err)
	}
	return nil
}

func main() {
	if err := runRelayForever(); err != nil {
		slog.Error("Relay encountered an error", slog.Any("error", err))
		os.Exit(1)
	}
}
