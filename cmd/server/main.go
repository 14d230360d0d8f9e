package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/session-hub/session-hub/internal/api/http"
	"github.com/session-hub/session-hub/internal/application/agent"
	"github.com/session-hub/session-hub/internal/application/pairing"
	"github.com/session-hub/session-hub/internal/application/registry"
	"github.com/session-hub/session-hub/internal/application/scheduler"
	"github.com/session-hub/session-hub/internal/config"
	"github.com/session-hub/session-hub/internal/infrastructure/entity"
	"github.com/session-hub/session-hub/internal/infrastructure/hub"
	"github.com/session-hub/session-hub/internal/infrastructure/kvstore"
	"github.com/session-hub/session-hub/internal/infrastructure/publisher"
	"github.com/session-hub/session-hub/internal/infrastructure/serviceapi"
	"github.com/session-hub/session-hub/internal/infrastructure/transport"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
	}

	// infrastructure
	store := kvstore.New(rdb, logger)
	outbound := transport.NewRedis(rdb, transport.Options{
		StreamPrefix: cfg.StreamPrefix,
		MaxStreamLen: cfg.StreamMaxLen,
	}, logger)
	pub := publisher.New(outbound, publisher.Options{
		DrainInterval: cfg.PublishInterval,
		MaxBatchBytes: cfg.MaxBatchBytes,
	}, logger)
	metadata := serviceapi.New(cfg.MetadataBaseURL, cfg.MetadataAPIKey, cfg.MetadataTimeout, logger)
	msgHub := hub.New(logger)
	world := entity.NewWorld(logger)

	// main loop and application services
	loop := mainloop.New(mainloop.Options{
		TickInterval: cfg.TickInterval,
		DrainPerTick: cfg.DrainPerTick,
	}, logger)
	reg := registry.New(loop, pub, msgHub, store, metadata, msgHub, registry.Options{
		CleanupDelay: cfg.CleanupDelay,
		HashSalt:     cfg.HashSalt,
	}, logger)
	queue := pairing.New(loop, reg, metadata, store, msgHub, msgHub, logger)
	sched := scheduler.New(loop, logger)
	manager := agent.NewManager(loop, reg, store, sched, pub, world, queue, logger)
	reg.SetAgentManager(manager)
	queue.SetAgentRegistrar(manager)

	// inbound event streams
	for _, stream := range cfg.InboundStreams {
		consumer := transport.NewConsumer(rdb, stream, loop, manager, logger)
		go consumer.Run(ctx)
	}

	go pub.Run(ctx)

	loop.ScheduleRepeating(reg.CheckTimeLimits, 1, loop.DurationToTicks(cfg.TimeCheckEvery))
	go loop.Run(ctx)

	// API server
	apiServer := httpapi.NewServer(loop, reg, queue, msgHub, world, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	msgHub.Stop()
}
