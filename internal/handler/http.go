package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/clicker-leaderboard/internal/domain"
	"github.com/clicker-leaderboard/internal/service"
	"github.com/clicker-leaderboard/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes caps request bodies; a snapshot is a handful of numbers
const maxBodyBytes = 16 << 10

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service *service.LeaderboardService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.LeaderboardService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// OnlineResponse reports the online player count
type OnlineResponse struct {
	Online int `json:"online"`
}

// OKResponse acknowledges a write
type OKResponse struct {
	OK bool `json:"ok"`
}

type pingRequest struct {
	Username string `json:"username"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/ping", h.Ping)
		r.Get("/online", h.Online)

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", h.GetTop)
			r.Post("/", h.SubmitScore)
			r.Get("/{username}", h.GetPlayer)
			r.Delete("/{username}", h.DeletePlayer)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeServiceError maps a service error onto its status code. Anything
// unexpected is logged and answered with a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStorageUnavailable)
	case errors.Is(err, domain.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
	case errors.Is(err, domain.ErrInvalidUsername):
		h.logger.Debug("rejected username", "op", op, "error", err)
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidUsername)
	default:
		h.logger.Error("request failed",
			"op", op,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// originKey identifies the submitting client for rate limiting. RealIP has
// already replaced RemoteAddr with a forwarded address when one was sent.
func originKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.service, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the durable store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Debug("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "storage": "down"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "up"})
}

// Ping records presence. It always answers with the online count, even for
// an unusable body.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		req = pingRequest{}
	}
	h.writeJSON(w, http.StatusOK, OnlineResponse{Online: h.service.Ping(req.Username)})
}

// Online returns the online player count
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, OnlineResponse{Online: h.service.Online()})
}

// GetTop returns the top players by best score
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	limit := h.service.ClampLimit(r.URL.Query().Get("limit"))

	records, err := h.service.GetTop(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "get_top", err)
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

// GetPlayer returns a player's record with rank, or null when unknown
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPlayer(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeServiceError(w, r, "get_player", err)
		return
	}

	if record == nil {
		h.writeJSON(w, http.StatusOK, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// SubmitScore merges a score snapshot into the player's record. A body that
// does not decode is treated as an empty snapshot, so it fails on the
// username only after the rate limit check.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var snapshot domain.ScoreSnapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snapshot); err != nil {
		snapshot = domain.ScoreSnapshot{}
	}

	if _, err := h.service.SubmitScore(r.Context(), originKey(r), snapshot); err != nil {
		h.writeServiceError(w, r, "submit_score", err)
		return
	}

	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// DeletePlayer removes a player's record
func (h *Handler) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePlayer(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.writeServiceError(w, r, "delete_player", err)
		return
	}

	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
