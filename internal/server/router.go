package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	auditdomain "sessionguard/backend/internal/audit/domain"
	"sessionguard/backend/internal/delivery"
	healthhandler "sessionguard/backend/internal/health/handler"
	identityservice "sessionguard/backend/internal/identity/service"
	"sessionguard/backend/internal/kv"
	"sessionguard/backend/internal/server/interceptors"
	sessionservice "sessionguard/backend/internal/session/service"
	"sessionguard/backend/internal/telemetry/metrics"
	userdomain "sessionguard/backend/internal/user/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 16

// AuthAPI is the subset of the auth service the HTTP surface calls.
type AuthAPI interface {
	interceptors.Authenticator
	Register(ctx context.Context, email, name, password, confirmPassword string) (*userdomain.User, error)
	Login(ctx context.Context, email, password, deviceID string) (*identityservice.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*identityservice.TokenPair, error)
	Logout(ctx context.Context, id *identityservice.Identity) error
	LogoutAll(ctx context.Context, id *identityservice.Identity) (int, error)
	Me(ctx context.Context, id *identityservice.Identity) (*identityservice.Profile, error)
	Events(ctx context.Context, id *identityservice.Identity, limit int) ([]*auditdomain.AuditLog, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// Deps holds what the HTTP router needs. Health and Metrics are optional.
type Deps struct {
	Auth       AuthAPI
	Cookies    *delivery.Cookies
	Health     *healthhandler.Server
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	TrustProxy bool
}

// NewRouter returns the HTTP handler for the auth API plus health and metrics endpoints.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cookies == nil {
		d.Cookies = delivery.NewCookies(delivery.CookieConfig{})
	}
	h := &handlers{auth: d.Auth, cookies: d.Cookies, logger: d.Logger}

	r := mux.NewRouter()
	r.Use(interceptors.ClientIPMiddleware(d.TrustProxy))
	r.Use(interceptors.Telemetry(d.Logger, map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}))

	if d.Health != nil {
		r.HandleFunc("/healthz", d.Health.Liveness).Methods(http.MethodGet)
		r.HandleFunc("/readyz", d.Health.Readiness).Methods(http.MethodGet)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", h.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", h.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)

	protected := auth.NewRoute().Subrouter()
	protected.Use(interceptors.Auth(d.Auth))
	protected.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	protected.HandleFunc("/logout-all", h.logoutAll).Methods(http.MethodPost)
	protected.HandleFunc("/me", h.me).Methods(http.MethodGet)
	protected.HandleFunc("/events", h.events).Methods(http.MethodGet)
	return r
}

type handlers struct {
	auth    AuthAPI
	cookies *delivery.Cookies
	logger  *slog.Logger
}

type registerRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	UserID           string    `json:"userId"`
	DeviceID         string    `json:"deviceId"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type profileResponse struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

type eventResponse struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Action    string          `json:"action,omitempty"`
	IP        string          `json:"ip,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, Name: user.Name, CreatedAt: user.CreatedAt})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.deliver(w, r, pair)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	pair, err := h.auth.Refresh(r.Context(), delivery.RefreshToken(r))
	if err != nil {
		if errors.Is(err, identityservice.ErrUnauthorized) {
			h.cookies.Revoke(w)
		}
		h.writeServiceError(w, r, err)
		return
	}
	h.deliver(w, r, pair)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), interceptors.IdentityFrom(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.cookies.Revoke(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.auth.LogoutAll(r.Context(), interceptors.IdentityFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.cookies.Revoke(w)
	writeJSON(w, http.StatusOK, map[string]int{"devices": n})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	p, err := h.auth.Me(r.Context(), interceptors.IdentityFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{UserID: p.UserID, DeviceID: p.DeviceID, Email: p.Email, Name: p.Name})
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	logs, err := h.auth.Events(r.Context(), interceptors.IdentityFrom(r.Context()), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(logs))
	for _, l := range logs {
		e := eventResponse{
			ID:        l.ID,
			EventType: l.EventType,
			DeviceID:  l.DeviceID,
			Reason:    l.Reason,
			Action:    l.Action,
			IP:        l.IP,
			CreatedAt: l.CreatedAt,
		}
		if l.Metadata != "" && json.Valid([]byte(l.Metadata)) {
			e.Metadata = json.RawMessage(l.Metadata)
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *handlers) deliver(w http.ResponseWriter, r *http.Request, pair *identityservice.TokenPair) {
	if err := h.cookies.Deliver(w, pair.AccessToken, pair.RefreshToken, h.auth.AccessTTL(), h.auth.RefreshTTL()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		UserID:           pair.UserID,
		DeviceID:         pair.DeviceID,
	})
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// writeServiceError maps service errors to HTTP statuses. Every authentication failure
// shares one body so callers cannot tell the causes apart.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "status", status)
	}
	writeError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, identityservice.ErrUnauthorized):
		return http.StatusUnauthorized, identityservice.ErrUnauthorized.Error()
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		return http.StatusUnauthorized, identityservice.ErrInvalidCredentials.Error()
	case errors.Is(err, userdomain.ErrEmailTaken):
		return http.StatusConflict, userdomain.ErrEmailTaken.Error()
	case errors.Is(err, identityservice.ErrInvalidRequest),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, sessionservice.ErrInvalidParameters):
		return http.StatusBadRequest, identityservice.ErrInvalidRequest.Error()
	case errors.Is(err, kv.ErrConflictExhausted),
		errors.Is(err, identityservice.ErrUserStoreUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
