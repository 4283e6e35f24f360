// Package server provides HTTP server initialization and lifecycle
// management for the Janus chat API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/khangdo/janus/internal/config"
	"github.com/khangdo/janus/web/handlers"
)

// Start builds the route table and starts the HTTP server. It returns the
// actual listen address (useful for tests binding port 0) and the event
// hub for wiring extraction broadcasts. The server shuts down gracefully
// when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, service handlers.ChatService, turns, docs handlers.Counter, queue handlers.QueueDepthGetter) (string, *handlers.EventHub, error) {
	chatHandlers := handlers.NewChatHandlers(service, turns, docs, queue)

	hub := handlers.NewEventHub(allowedOrigins(cfg))
	go hub.Run()

	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	authed := http.NewServeMux()
	authed.HandleFunc("/chat", chatHandlers.PostChat)
	authed.HandleFunc("/chat/history", chatHandlers.GetHistory)
	authed.HandleFunc("/api/stats", chatHandlers.GetStats)
	authedHandler := handlers.RequireAuth(authed, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handlers.Health)
	mux.Handle("/ws", hub)
	mux.Handle("/chat", authedHandler)
	mux.Handle("/chat/history", authedHandler)
	mux.Handle("/api/stats", authedHandler)

	// Browser chat page. Served outside the auth-required prefix, like the
	// WebSocket endpoint; the API calls the page makes still carry auth.
	indexPath := findBasePath() + "/web/templates/index.html"
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	})

	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeaders(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: listening on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}

// findBasePath locates the project root holding web/templates. Binaries
// run from the root; tests run from their package directory.
func findBasePath() string {
	for _, base := range []string{".", "..", "../.."} {
		if _, err := os.Stat(base + "/web/templates/index.html"); err == nil {
			return base
		}
	}
	return "."
}

// allowedOrigins derives the WebSocket origin allow-list from the
// configured listen address.
func allowedOrigins(cfg *config.Config) []string {
	return []string{
		fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
	}
}
