// Package httpapi exposes the fitplan JSON API handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/avdotin/fitplan/internal/api"
	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth    service.AuthService
	plans   service.PlanService
	signKey []byte
	log     *zap.Logger
}

// New constructs an HTTP server with injected services.
func New(auth service.AuthService, plans service.PlanService, signKey []byte, log *zap.Logger) *Server {
	return &Server{auth: auth, plans: plans, signKey: signKey, log: log}
}

// Router builds the route table with logging and recovery middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.HandleFunc("/api/v1/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/plan", s.handleGetPlan).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/plan/ack", s.handleAck).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/profile", s.handleGetProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/profile", s.handlePutProfile).Methods(http.MethodPut)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return r
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation", "empty username/password")
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.RegisterResponse{UserID: userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed body")
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
		UserID:      u.ID.String(),
	})
}

// --- plan ---

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth", "authentication required")
		return
	}
	recompute := r.URL.Query().Get("recompute") == "true"
	rec, err := s.plans.GetPlan(r.Context(), userID, recompute)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ToWirePlan(*rec))
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth", "authentication required")
		return
	}
	var req api.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed body")
		return
	}
	if req.Version <= 0 || req.ComputedAt == "" {
		writeError(w, http.StatusBadRequest, "validation", "version and computed_at are required")
		return
	}
	if err := s.plans.Acknowledge(r.Context(), userID, req.Version); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- profile ---

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth", "authentication required")
		return
	}
	p, err := s.plans.GetProfile(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ToWireProfile(*p))
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth", "authentication required")
		return
	}
	var req api.ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed body")
		return
	}
	p, err := api.FromWireProfileRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	out, err := s.plans.UpdateProfile(r.Context(), userID, p)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ToWireProfile(*out))
}

// --- helpers ---

// writeServiceError maps sentinel errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "auth", "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", "already exists")
	case errors.Is(err, errs.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", "version conflict")
	case strings.HasPrefix(err.Error(), "validation:"):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	default:
		s.log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Code: code, Message: msg})
}

// userIDFromRequest extracts "Authorization: Bearer <JWT>", verifies HS256
// and returns the subject as a UUID.
func (s *Server) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
