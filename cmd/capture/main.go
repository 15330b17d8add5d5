package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/saviobatista/adsb-capture/internal/bus"
	"github.com/saviobatista/adsb-capture/internal/config"
	"github.com/saviobatista/adsb-capture/internal/engine"
	"github.com/saviobatista/adsb-capture/internal/natspub"
	"github.com/saviobatista/adsb-capture/internal/redis"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// Exit codes: 0 normal shutdown, 2 invalid configuration, 3 fatal SDR
// error past the restart budget.
const (
	exitOK          = 0
	exitConfig      = 2
	exitFatalDevice = 3
)

// GatewayPublisher interface for testability
type GatewayPublisher interface {
	PublishAircraft(u *types.AircraftUpdate) error
	PublishMetrics(m *types.SignalMetrics) error
	PublishStatus(s *types.DeviceStatus) error
}

// StateMirror interface for testability
type StateMirror interface {
	StoreAircraft(ctx context.Context, u *types.AircraftUpdate) error
	DeleteAircraft(ctx context.Context, icao string) error
}

// forwardToGateway drains the bus subscriptions into the NATS publisher
// and the optional Redis mirror.
func forwardToGateway(pub GatewayPublisher, mirror StateMirror, b *bus.Bus, wg *sync.WaitGroup) {
	aircraft := b.SubscribeAircraft(256)
	metrics := b.SubscribeMetrics(16)
	status := b.SubscribeStatus(8)

	wg.Add(3)
	go func() {
		defer wg.Done()
		for ev := range aircraft {
			if ev.Kind == types.UpdateRemoved {
				if mirror != nil {
					if err := mirror.DeleteAircraft(context.Background(), ev.Update.ICAO); err != nil {
						log.Printf("Warning: Failed to delete aircraft from Redis: %v", err)
					}
				}
				continue
			}
			if err := pub.PublishAircraft(&ev.Update); err != nil {
				log.Printf("Failed to publish aircraft update: %v", err)
			}
			if mirror != nil {
				if err := mirror.StoreAircraft(context.Background(), &ev.Update); err != nil {
					log.Printf("Warning: Failed to mirror aircraft state in Redis: %v", err)
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for m := range metrics {
			if err := pub.PublishMetrics(&m); err != nil {
				log.Printf("Failed to publish metrics: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for s := range status {
			if err := pub.PublishStatus(&s); err != nil {
				log.Printf("Failed to publish status: %v", err)
			}
		}
	}()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(exitConfig)
	}

	log.Printf("Starting ADS-B capture: device=%s index=%d gain=%.1f ppm=%d gateway=%s",
		cfg.DeviceID, cfg.DeviceIndex, cfg.GainDB, cfg.PPMError, cfg.GatewayURL)

	natsClient, err := natspub.New(cfg.GatewayURL)
	if err != nil {
		log.Printf("Failed to create NATS client: %v", err)
		os.Exit(exitConfig)
	}
	defer natsClient.Close()

	var mirror StateMirror
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr, cfg.IdleTimeout)
		if err != nil {
			log.Printf("Warning: Redis mirror unavailable: %v", err)
		} else {
			mirror = redisClient
			defer func() {
				if err := redisClient.Close(); err != nil {
					log.Printf("Warning: error closing Redis client: %v", err)
				}
			}()
		}
	}

	b := bus.New()
	var forwarders sync.WaitGroup
	forwardToGateway(natsClient, mirror, b, &forwarders)

	eng := engine.New(cfg, b)
	eng.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case sig := <-sigChan:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-eng.Fatal():
		log.Printf("SDR front-end failed permanently: %v", err)
		exitCode = exitFatalDevice
	}

	eng.Stop()
	forwarders.Wait()
	os.Exit(exitCode)
}
