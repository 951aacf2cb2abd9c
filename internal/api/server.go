// Package api exposes the server's HTTP surface: the player websocket
// endpoint, the administrative subject-registry endpoints, Prometheus
// metrics, and health probes.
//
// Only /nats/subjects/health, /healthz, /readyz, and /metrics are publicly
// reachable. The remaining registry endpoints require a session token whose
// admin claim is set; a non-admin caller is refused before the registry is
// touched.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkmoor/arkmoor/internal/auth"
	"github.com/arkmoor/arkmoor/internal/game"
	"github.com/arkmoor/arkmoor/internal/health"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/subject"
)

// Server holds the HTTP surface's collaborators.
type Server struct {
	game    *game.Service
	gate    *auth.Gate
	reg     *subject.Registry
	metrics *observe.Metrics
	health  *health.Handler
}

// NewServer builds the HTTP surface. The checkers feed the /readyz probe.
func NewServer(svc *game.Service, gate *auth.Gate, reg *subject.Registry, metrics *observe.Metrics, checkers ...health.Checker) *Server {
	return &Server{
		game:    svc,
		gate:    gate,
		reg:     reg,
		metrics: metrics,
		health:  health.New(checkers...),
	}
}

// Routes returns the fully wired handler, instrumented with the HTTP
// metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /nats/subjects/health", s.handleSubjectHealth)
	mux.HandleFunc("POST /nats/subjects/validate", s.requireAdmin(s.handleValidate))
	mux.HandleFunc("GET /nats/subjects/patterns", s.requireAdmin(s.handleListPatterns))
	mux.HandleFunc("POST /nats/subjects/patterns", s.requireAdmin(s.handleRegisterPattern))

	return observe.Middleware(s.metrics)(mux)
}

// handleSubjectHealth reports registry liveness and counters. Public.
func (s *Server) handleSubjectHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.reg.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"pattern_count": snap.PatternCount,
		"metrics":       snap,
	})
}

// validateRequest is the body of POST /nats/subjects/validate.
type validateRequest struct {
	Subject string `json:"subject"`
}

// validateResponse reports a validation outcome. Details is null for valid
// subjects and carries a short reason otherwise.
type validateResponse struct {
	Subject          string  `json:"subject"`
	IsValid          bool    `json:"is_valid"`
	ValidationTimeMS float64 `json:"validation_time_ms"`
	Details          *string `json:"details"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	start := time.Now()
	valid := s.reg.Validate(req.Subject)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	resp := validateResponse{
		Subject:          req.Subject,
		IsValid:          valid,
		ValidationTimeMS: elapsed,
	}
	if !valid {
		detail := "no registered pattern matches"
		resp.Details = &detail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, _ *http.Request) {
	patterns := s.reg.AllPatterns()
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// registerRequest is the body of POST /nats/subjects/patterns.
type registerRequest struct {
	Name           string   `json:"name"`
	Template       string   `json:"template"`
	RequiredParams []string `json:"required_params"`
	Description    string   `json:"description"`
}

func (s *Server) handleRegisterPattern(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.reg.Register(req.Name, req.Template, req.RequiredParams, req.Description); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"name":     req.Name,
		"template": req.Template,
	})
}

// requireAdmin refuses the request unless it carries a valid session token
// with the admin claim. The wrapped handler never runs for other callers.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.gate.ValidateSessionToken(remoteHost(r), bearerToken(r))
		if err != nil {
			if errors.Is(err, auth.ErrRateLimited) {
				writeError(w, http.StatusTooManyRequests, "rate limited")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if err := s.gate.RequireAdmin(view); err != nil {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

// remoteHost strips the port from the request's remote address for use as a
// rate-limit source.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
