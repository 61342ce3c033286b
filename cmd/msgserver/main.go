// Command msgserver runs the AutoCareers messaging core: the HTTP API for
// message/conversation operations and the WebSocket gateway for live
// sessions, in one process sharing one connection registry.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/autocareers/messaging/internal/api"
	"github.com/autocareers/messaging/internal/events"
	"github.com/autocareers/messaging/internal/metrics"
	"github.com/autocareers/messaging/internal/ratelimit"
	"github.com/autocareers/messaging/internal/registry"
	"github.com/autocareers/messaging/internal/service"
	"github.com/autocareers/messaging/internal/store"
	"github.com/autocareers/messaging/internal/ws"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	listenAddr := getenv("LISTEN_ADDR", ":8000")

	gwConfig := ws.DefaultConfig()
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			gwConfig.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			gwConfig.HeartbeatInterval = d
		}
	}

	// --- Postgres (required) ---
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatalf("DATABASE_URL is required")
	}
	st, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	// --- Redis rate limiter (optional) ---
	var limiter *ratelimit.Limiter
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis at %s: %v", addr, err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(client)
	}

	// --- NATS event relay (optional) ---
	var publisher *events.Publisher
	if url := os.Getenv("NATS_URL"); url != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = url
		publisher, err = events.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	reg := registry.New()
	gateway := ws.NewGateway(gwConfig, reg)
	svc := service.New(st)

	handler := &api.Handler{
		Service:  svc,
		Registry: reg,
		Events:   publisher,
		Limiter:  limiter,
	}

	startedAt := time.Now()

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Mount("/api", handler.Routes())
	router.Get("/ws/{userID}", gateway.HandleSession)
	router.Handle("/metrics", metrics.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status   string `json:"status"`
			Sessions int    `json:"sessions"`
			Uptime   string `json:"uptime"`
		}{
			Status:   "ok",
			Sessions: gateway.SessionCount(),
			Uptime:   time.Since(startedAt).Round(time.Second).String(),
		})
	})

	server := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	log.Printf("messaging server starting")
	log.Printf("  listen_addr:        %s", listenAddr)
	log.Printf("  write_timeout:      %s", gwConfig.WriteTimeout)
	log.Printf("  heartbeat_interval: %s", gwConfig.HeartbeatInterval)
	log.Printf("  rate_limiter:       %v", limiter != nil)
	log.Printf("  event_relay:        %v", publisher != nil)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	gateway.Shutdown()
	publisher.Close()
	if err := st.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}

	log.Printf("messaging server stopped")
}

// getenv returns the environment value or a default.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
