package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"translation-relay/config"
	"translation-relay/handlers"
	"translation-relay/logging"
	"translation-relay/metrics"
	"translation-relay/processor"
	"translation-relay/relay"
	"translation-relay/session"
	"translation-relay/textservice"
)

const shutdownTimeout = 10 * time.Second

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if dotenvErr != nil && !errors.Is(dotenvErr, os.ErrNotExist) {
		logger.WithError(dotenvErr).Warn("Could not load .env file, using environment only")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Relay stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	counters := metrics.NewRegistry()

	policy := session.Replace
	if cfg.ConnectionPolicy == config.PolicyReject {
		policy = session.Reject
	}
	registry := session.NewRegistry(policy, logger)

	text := textservice.New(cfg.TextServiceURL, cfg.TextServiceTimeout)
	proc := processor.New(text, counters, logger)

	wsHandler := handlers.NewWSHandler(proc, registry, handlers.WSOptions{
		AllowedOrigins:  cfg.AllowedOrigins,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logger)

	promRegistry, err := counters.NewPrometheusRegistry(registry.Count)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	relayDone := make(chan struct{})
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("Connected to Redis")

		consumer := relay.NewConsumer(rdb, registry, logger)
		if err := consumer.EnsureConsumerGroup(ctx); err != nil {
			return err
		}
		go func() {
			defer close(relayDone)
			consumer.Run(ctx)
		}()
	} else {
		close(relayDone)
		logger.Info("REDIS_URL not set, push relay disabled")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handlers.Routes(wsHandler, counters, promRegistry),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Translation relay listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Graceful shutdown incomplete")
	}
	<-relayDone
	return nil
}
