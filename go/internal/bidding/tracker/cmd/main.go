package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/bidwatch/go/clients"
	"github.com/mcdev12/bidwatch/go/internal/bidding/identity"
	"github.com/mcdev12/bidwatch/go/internal/bidding/metrics"
	"github.com/mcdev12/bidwatch/go/internal/bidding/projector"
	"github.com/mcdev12/bidwatch/go/internal/bidding/subscription"
	"github.com/mcdev12/bidwatch/go/internal/bidding/tracker"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	config, err := loadConfig(getEnv("LOTWATCH_CONFIG", "lotwatch.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(config); err != nil {
		log.Fatal().Err(err).Msg("lotwatch failed")
	}
}

func run(config *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("user_id", config.UserID).
		Str("lots_api", config.LotsAPI.BaseURL).
		Str("transport", config.Push.Transport).
		Str("port", config.Server.Port).
		Msg("starting lotwatch")

	counters := metrics.NewCounters()

	api := clients.NewLotsClient(config.LotsAPI.BaseURL, config.LotsAPI.WireScale)
	api.SetTimeout(config.LotsAPI.Timeout)
	if config.LotsAPI.Token != "" {
		api.SetHeader("Authorization", "Bearer "+config.LotsAPI.Token)
	}

	transport := buildTransport(config)

	subConfig := subscription.DefaultConfig()
	subConfig.ReconnectDelay = config.Push.ReconnectDelay
	subConfig.MaxReconnectAttempts = config.Push.MaxReconnectAttempts

	manager := subscription.NewManager(transport, api, subConfig,
		subscription.WithMetrics(counters),
		subscription.WithStateListener(func(state subscription.State, degraded bool) {
			log.Debug().Str("state", string(state)).Bool("degraded", degraded).Msg("push connection")
		}),
	)

	trackerConfig := tracker.DefaultConfig()
	trackerConfig.DisplayScale = config.DisplayScale
	trackerConfig.TickInterval = config.Tracker.TickInterval
	trackerConfig.ClosingSoonThreshold = config.Tracker.ClosingSoonThreshold

	lotTracker, err := tracker.New(api, manager, identity.Static(config.UserID), trackerConfig,
		tracker.WithMetrics(counters),
		tracker.WithSink(&viewLogger{last: make(map[string]projector.Status)}),
	)
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}

	server := setupServer(config.Server.Port, tracker.NewHandler(lotTracker, manager, counters, config.DisplayScale))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	g.Go(func() error {
		return lotTracker.Run(gctx)
	})

	g.Go(func() error {
		for _, lotID := range config.Lots {
			if err := lotTracker.Track(gctx, lotID); err != nil {
				log.Error().Err(err).Str("lot_id", lotID).Msg("failed to track configured lot")
			}
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("lotwatch shutdown complete")
	return err
}

func buildTransport(config *Config) subscription.Transport {
	if config.Push.Transport == transportNATS {
		natsConfig := subscription.DefaultNATSConfig()
		natsConfig.URL = config.Push.NATS.URL
		natsConfig.StreamName = config.Push.NATS.Stream
		natsConfig.SubjectPrefix = config.Push.NATS.SubjectPrefix
		natsConfig.StreamSequence = config.Push.NATS.StreamSequence
		return subscription.NewNATSTransport(natsConfig)
	}

	wsConfig := subscription.DefaultWebSocketConfig()
	wsConfig.URL = config.Push.WebSocket.URL
	wsConfig.UserID = config.UserID
	if config.LotsAPI.Token != "" {
		wsConfig.Header = http.Header{"Authorization": []string{"Bearer " + config.LotsAPI.Token}}
	}
	return subscription.NewWebSocketTransport(wsConfig)
}

// viewLogger logs status changes at info level and countdown ticks at debug level.
type viewLogger struct {
	last map[string]projector.Status
}

func (l *viewLogger) Publish(v projector.View) {
	ev := log.Debug()
	if l.last[v.LotID] != v.Status {
		l.last[v.LotID] = v.Status
		ev = log.Info()
	}
	ev.
		Str("lot_id", v.LotID).
		Str("status", string(v.Status)).
		Str("price", v.Price).
		Int("bids", v.BidCount).
		Int("seconds_left", v.SecondsLeft).
		Bool("degraded", v.Degraded).
		Msg("lot view changed")
}
