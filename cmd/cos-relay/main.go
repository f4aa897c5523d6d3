package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/config"
	"github.com/web-ai-community/cross-origin-storage/core/infra/handles"
	"github.com/web-ai-community/cross-origin-storage/core/relay"
)

func main() {
	log.Println("cos relay starting...")

	cfg := config.Load()

	handleStore, err := handles.NewRedisStore(cfg.RedisURL, cfg.HandleTTL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for handles: %v", err)
	}
	defer handleStore.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	r := relay.New(natsBus, handleStore, cfg.CallTimeout)
	mux := http.NewServeMux()
	mux.Handle("/ws", r.Handler())

	srv := &http.Server{
		Addr:        cfg.RelayAddr,
		Handler:     mux,
		ReadTimeout: 0, // websocket connections are long-lived
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		log.Printf("relay listening on %s/ws", cfg.RelayAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("cos relay shutting down...")
	srv.Close()
}
