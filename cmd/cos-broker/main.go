package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/broker"
	"github.com/web-ai-community/cross-origin-storage/core/infra/blob"
	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/config"
	"github.com/web-ai-community/cross-origin-storage/core/infra/handles"
	infraMetrics "github.com/web-ai-community/cross-origin-storage/core/infra/metrics"
	"github.com/web-ai-community/cross-origin-storage/core/infra/settings"
	"github.com/web-ai-community/cross-origin-storage/core/permission"
	"github.com/web-ai-community/cross-origin-storage/core/resourceindex"
)

func main() {
	log.Println("cos broker starting...")

	cfg := config.Load()

	metrics := infraMetrics.NewProm("cos_broker")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("broker metrics on %s/metrics", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	settingsStore, err := settings.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for settings: %v", err)
	}
	defer settingsStore.Close()

	handleStore, err := handles.NewRedisStore(cfg.RedisURL, cfg.HandleTTL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for handles: %v", err)
	}
	defer handleStore.Close()

	blobStore, err := blob.OpenBadgerStore(cfg.BlobPath)
	if err != nil {
		log.Fatalf("failed to open blob store at %s: %v", cfg.BlobPath, err)
	}
	defer blobStore.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	index := resourceindex.New(settingsStore)
	index.Load(context.Background())

	prompter := permission.NewBusPrompter(natsBus, cfg.PromptTimeout)
	engine := permission.NewEngine(settingsStore, prompter, metrics)

	b, err := broker.New(natsBus, blobStore, handleStore, index, engine, metrics)
	if err != nil {
		log.Fatalf("failed to build broker: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("failed to start broker: %v", err)
	}
	log.Println("cos broker ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("cos broker shutting down...")
	if err := index.Save(context.Background()); err != nil {
		log.Printf("failed to persist index on shutdown: %v", err)
	}
}
