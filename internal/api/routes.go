package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lexmatch-backend/internal/queue"
	"lexmatch-backend/internal/sessions"
)

type Dependencies struct {
	Queues    *queue.Store
	WSManager *sessions.Manager
	Sessions  SessionReader
}

func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware for browser clients
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"lexmatch-backend"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/languages", GetLanguagesHandler)
		r.Get("/queue/status", QueueStatusHandler(deps.Queues))
		r.Get("/sessions/{matchID}", GetSessionHandler(deps.Sessions))
	})

	// WebSocket endpoint
	r.Get("/ws/{userID}", deps.WSManager.HandleWebSocket)

	return r
}
