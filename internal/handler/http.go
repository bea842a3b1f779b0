package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shooting-range/internal/domain"
	"github.com/shooting-range/internal/websocket"
)

// PlayerIDHeader carries the caller's player identity
const PlayerIDHeader = "X-Player-ID"

// SessionService is the set of lifecycle operations exposed over HTTP
type SessionService interface {
	RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	ResolvePlayer(ctx context.Context, playerID string) (*domain.PlayerInfo, error)
	StartSession(ctx context.Context, playerID string, mode domain.Mode) (*domain.StartSessionResult, error)
	AddEvent(ctx context.Context, playerID, sessionID string, input domain.EventInput) (*domain.Event, error)
	FinishSession(ctx context.Context, playerID, sessionID string) (*domain.FinishSummary, error)
	GetSessionDetails(ctx context.Context, playerID, sessionID string) (*domain.SessionDetails, error)
	GetLeaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the session API
type Handler struct {
	service SessionService
	hub     *websocket.Hub
	checks  map[string]ReadinessCheck
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service SessionService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		checks:  make(map[string]ReadinessCheck),
		logger:  logger,
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StartSessionRequest is the body of a session start
type StartSessionRequest struct {
	Mode string `json:"mode"`
}

// ShotPayload holds the measured outcome of a shot
type ShotPayload struct {
	Hit      *bool    `json:"hit"`
	Distance *float64 `json:"distance"`
}

// AddEventRequest is the body of an event submission
type AddEventRequest struct {
	Type    domain.EventType `json:"type"`
	Ts      time.Time        `json:"ts"`
	Payload *ShotPayload     `json:"payload"`
}

// eventInput converts the request into the service input
func (r AddEventRequest) eventInput() (domain.EventInput, error) {
	if r.Payload == nil || r.Payload.Hit == nil || r.Payload.Distance == nil {
		return domain.EventInput{}, fmt.Errorf("%w: payload.hit and payload.distance are required", domain.ErrValidation)
	}
	return domain.EventInput{
		Type:     r.Type,
		Ts:       r.Ts,
		Hit:      *r.Payload.Hit,
		Distance: *r.Payload.Distance,
	}, nil
}

// LeaderboardResponse wraps the ranked players of a mode
type LeaderboardResponse struct {
	Mode    domain.Mode               `json:"mode"`
	Players []domain.LeaderboardEntry `json:"players"`
}

type playerContextKey struct{}

// PlayerFromContext returns the identity resolved by the identity middleware
func PlayerFromContext(ctx context.Context) (*domain.PlayerInfo, bool) {
	player, ok := ctx.Value(playerContextKey{}).(*domain.PlayerInfo)
	return player, ok
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

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/players", h.RegisterPlayer)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/ws/stats", h.GetWebSocketStats)

		r.Group(func(r chi.Router) {
			r.Use(h.identify)

			r.Get("/players/me", h.GetCurrentPlayer)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.StartSession)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", h.GetSession)
					r.Post("/events", h.AddEvent)
					r.Post("/finish", h.FinishSession)
				})
			})
		})
	})

	return r
}

// identify resolves the caller from the player header
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := r.Header.Get(PlayerIDHeader)
		if playerID == "" {
			h.writeError(w, http.StatusUnauthorized, errors.New("missing "+PlayerIDHeader+" header"))
			return
		}

		player, err := h.service.ResolvePlayer(r.Context(), playerID)
		if err != nil {
			if errors.Is(err, domain.ErrPlayerNotFound) {
				h.writeError(w, http.StatusForbidden, domain.ErrPlayerNotFound)
				return
			}
			h.logger.Error("failed to resolve player", "player_id", playerID, "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
			return
		}

		ctx := context.WithValue(r.Context(), playerContextKey{}, player)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID, "+PlayerIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto its HTTP status
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON body, rejecting unknown fields
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// currentPlayer returns the caller resolved by identify
func currentPlayer(r *http.Request) *domain.PlayerInfo {
	player, _ := PlayerFromContext(r.Context())
	return player
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	subscribers := make(map[domain.Mode]int)
	for _, mode := range domain.Modes() {
		subscribers[mode] = h.hub.GetSubscriberCount(mode)
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers":       subscribers,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s unavailable", name))
			return
		}
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RegisterPlayer creates a player identity
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterPlayerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	player, err := h.service.RegisterPlayer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "register_player", err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, player)
}

// GetCurrentPlayer returns the caller's player record
func (h *Handler) GetCurrentPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.service.GetPlayer(r.Context(), currentPlayer(r).ID)
	if err != nil {
		h.writeServiceError(w, "get_player", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, player)
}

// StartSession opens a session for the caller
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.StartSession(r.Context(), currentPlayer(r).ID, mode)
	if err != nil {
		h.writeServiceError(w, "start_session", err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, result)
}

// AddEvent records a shot against one of the caller's sessions
func (h *Handler) AddEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req AddEventRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	input, err := req.eventInput()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := h.service.AddEvent(r.Context(), currentPlayer(r).ID, sessionID, input)
	if err != nil {
		h.writeServiceError(w, "add_event", err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, event)
}

// FinishSession closes one of the caller's sessions
func (h *Handler) FinishSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := h.service.FinishSession(r.Context(), currentPlayer(r).ID, sessionID)
	if err != nil {
		h.writeServiceError(w, "finish_session", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, summary)
}

// GetSession returns the details of one of the caller's sessions
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	details, err := h.service.GetSessionDetails(r.Context(), currentPlayer(r).ID, sessionID)
	if err != nil {
		h.writeServiceError(w, "get_session", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, details)
}

// GetLeaderboard returns the ranked finished sessions of a mode
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation))
			return
		}
		limit = l
	}

	entries, err := h.service.GetLeaderboard(r.Context(), mode, limit)
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}

	h.writeSuccess(w, http.StatusOK, LeaderboardResponse{Mode: mode, Players: entries})
}
