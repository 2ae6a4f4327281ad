package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/auth"
	"github.com/fieldmon/kismet-monitor/internal/display"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/pkg/rrd"
)

const (
	defaultEventLimit = 20
	uptimeTextWidth   = 32
)

// ========== Auth handlers ==========

// HandleLogin exchanges operator credentials for an access token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		s.respondError(w, http.StatusNotFound, "authentication is not enabled")
		return
	}

	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := s.auth.Login(s.operator, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		log.Warn().Str("username", req.Username).Str("remote", r.RemoteAddr).Msg("Rejected API login")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(time.Until(expires).Seconds()),
		"token_type":   "Bearer",
	})
}

// ========== Status handlers ==========

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Snapshot      models.Snapshot `json:"snapshot"`
	UptimeSeconds *int64          `json:"uptime_seconds"`
	Uptime        string          `json:"uptime"`
	Packets       PacketSummary   `json:"packets"`
}

// PacketSummary condenses the last minute of packet counts
type PacketSummary struct {
	Latest int64   `json:"latest"`
	Peak   int64   `json:"peak"`
	Minute []int64 `json:"minute"`
}

// HandleStatus returns the current status snapshot
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Load()

	resp := StatusResponse{Snapshot: snap}
	secs, known := snap.Uptime()
	if known {
		resp.UptimeSeconds = &secs
	}
	resp.Uptime = display.FormatUptime(secs, known, uptimeTextWidth)

	minute := rrd.Realign(snap.Rate.Vector[:], snap.Rate.LastTime, snap.Rate.SerialTime)
	resp.Packets = PacketSummary{
		Latest: minute[len(minute)-1],
		Peak:   rrd.Max(minute),
		Minute: minute,
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleListEvents lists recent events, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var filter *models.Kind
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := models.ParseKind(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &k
	}

	entries := s.events.Recent(0)
	out := entries[:0]
	for _, e := range entries {
		if filter != nil && e.Event.Kind != *filter {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"total":  len(out),
	})
}

// ========== Misc handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Load()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now(),
		"connection": snap.Conn,
		"running_s":  int64(time.Since(s.started).Seconds()),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.service,
		"health":  "/api/v1/health",
		"status":  "/api/v1/status",
		"events":  "/api/v1/events",
		"metrics": "/metrics",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
