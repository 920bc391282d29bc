package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexbotov/sweepsrgs/internal/auth"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(RecoveryMiddleware)
	r.Use(h.LoggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(CORSMiddleware(h.origins))

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Browsers cannot set headers on a websocket handshake, so the token
	// may also come as ?token=
	r.HandleFunc("/ws/play", h.HandleWebSocket).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/guest", h.StartGuest).Methods("POST", "OPTIONS")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	protected.HandleFunc("/balance", h.GetBalance).Methods("GET")
	protected.HandleFunc("/profile", h.GetProfile).Methods("GET")
	protected.HandleFunc("/history", h.GetHistory).Methods("GET")
	protected.HandleFunc("/system/rng", h.RNGStatus).Methods("GET")

	protected.HandleFunc("/limits", h.GetLimits).Methods("GET")
	protected.HandleFunc("/limits/daily-wager", h.SetWagerLimit).Methods("PUT")
	protected.HandleFunc("/limits/exclusion", h.SelfExclude).Methods("POST")

	protected.HandleFunc("/games", h.GetGames).Methods("GET")
	protected.HandleFunc("/games/{id}", h.GetGame).Methods("GET")
	protected.HandleFunc("/games/{id}/bonus", h.GetBonus).Methods("GET")
	protected.HandleFunc("/games/{id}/play", h.Play).Methods("POST")
	protected.HandleFunc("/games/{id}/round", h.ActiveRound).Methods("GET")

	protected.HandleFunc("/rounds/{round_id}", h.GetRound).Methods("GET")
	protected.HandleFunc("/rounds/{round_id}/{action:hit|stand|double|draw}", h.RoundAction).Methods("POST")

	// Operator routes
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(auth.RoleAdmin))

	admin.HandleFunc("/status", h.SystemStatus).Methods("GET")
	admin.HandleFunc("/gaming/{state:enable|disable}", h.SetGaming).Methods("POST")
	admin.HandleFunc("/games/{id}/{state:enable|disable}", h.SetGame).Methods("POST")
	admin.HandleFunc("/accounts", h.OpenAccount).Methods("POST")
	admin.HandleFunc("/accounts/{user_id}/kyc", h.SetKYC).Methods("PUT")
	admin.HandleFunc("/audit", h.AuditEvents).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
