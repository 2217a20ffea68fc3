// cmd/dashboard relays session events published on Redis to websocket
// renderers, so dashboards can run on a different host than the scalper.
//
// Environment:
//
//	REDIS_ADDR       Redis address (default localhost:6379)
//	REDIS_PASSWORD   Redis password
//	EVENT_CHANNEL    pub/sub channel (default scalper:events)
//	DASHBOARD_ADDR   listen address (default :9090)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"goldscalper/internal/gateway"
	"goldscalper/internal/markethours"
	redisstore "goldscalper/internal/store/redis"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[dashboard] starting...")

	listenAddr := getEnv("DASHBOARD_ADDR", ":9090")
	store, err := redisstore.New(redisstore.Config{
		Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
		Password:     getEnv("REDIS_PASSWORD", ""),
		EventChannel: getEnv("EVENT_CHANNEL", "scalper:events"),
	})
	if err != nil {
		log.Fatalf("[dashboard] redis connection failed: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := gateway.NewHub(0)
	events := make(chan []byte, 1024)
	go func() {
		for ctx.Err() == nil {
			if err := store.Subscribe(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[dashboard] subscription lost: %v (retrying)", err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}()
	go hub.Relay(ctx, events)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)

	mux.HandleFunc("/api/events/latest", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		ev, err := store.LatestEvent(r.Context())
		if err != nil {
			http.Error(w, `{"error":"redis unavailable"}`, http.StatusBadGateway)
			return
		}
		if ev == nil {
			http.Error(w, `{"error":"no events yet"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(ev)
	})

	mux.HandleFunc("/api/events/recent", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		n, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
		if err != nil || n <= 0 || n > 500 {
			n = 100
		}
		evs, err := store.RecentEvents(r.Context(), n)
		if err != nil {
			http.Error(w, `{"error":"redis unavailable"}`, http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(evs)
	})

	mux.HandleFunc("/api/system", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		now := time.Now()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"metrics":       collectMetrics(processStart),
			"clients":       hub.ClientCount(),
			"seq":           hub.Seq(),
			"lag_ms":        hub.Lag.Stats(),
			"market_open":   markethours.IsMarketOpen(now),
			"market_status": markethours.StatusString(now),
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[dashboard] listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[dashboard] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[dashboard] shutting down...")
	hub.Shutdown()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shCtx)
	log.Println("[dashboard] stopped")
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
