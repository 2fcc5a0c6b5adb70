// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/models"
	"github.com/tomtom215/sentria/internal/websocket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// maxEventBody caps the ingestion payload size.
	maxEventBody = 1 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngestEvent accepts a security event and hands it to the
// pipeline. Processing errors never surface here; the pipeline isolates
// its own stage failures.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event pipeline unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)

	var event models.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if event.Source == "" || event.Type == "" {
		s.writeError(w, http.StatusBadRequest, "event requires source and type")
		return
	}

	s.deps.Pipeline.ProcessSecurityEvent(r.Context(), &event)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleAnalyzeForm scores form-interaction telemetry. Suspicious
// verdicts also feed the pipeline as security events so the engines see
// automated submissions alongside everything else.
func (s *Server) handleAnalyzeForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Forms == nil {
		s.writeError(w, http.StatusServiceUnavailable, "form analysis unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)

	var signals behavior.FormSignals
	if err := json.NewDecoder(r.Body).Decode(&signals); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form signals payload")
		return
	}

	analysis := s.deps.Forms.Analyze(signals)

	if analysis.Suspicious && s.deps.Pipeline != nil {
		severity := models.SeverityMedium
		if analysis.Score >= 0.9 {
			severity = models.SeverityHigh
		}
		s.deps.Pipeline.ProcessSecurityEvent(r.Context(), &models.SecurityEvent{
			Type:      "AUTOMATED_FORM_SUBMISSION",
			Severity:  severity,
			Source:    clientIP(r),
			UserAgent: signals.UserAgent,
			Message:   "form submission flagged as automated",
			Details: map[string]interface{}{
				"score":          analysis.Score,
				"flags":          analysis.Flags,
				"recommendation": analysis.Recommendation,
			},
			Timestamp: analysis.Timestamp,
		})
	}

	s.writeJSON(w, http.StatusOK, analysis)
}

// clientIP strips the port from the remote address. RealIP middleware
// has already folded in X-Forwarded-For upstream.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// handleStats aggregates engine counters into one dashboard payload.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	if s.deps.Patterns != nil {
		stats["correlation"] = map[string]interface{}{
			"tracked_sources": s.deps.Patterns.TrackedSources(),
		}
	}
	if s.deps.Behavior != nil {
		stats["behavior"] = s.deps.Behavior.Stats()
	}
	if s.deps.Incidents != nil {
		stats["response"] = s.deps.Incidents.Stats()
	}
	if s.deps.Threats != nil {
		if ti, err := s.deps.Threats.Stats(); err == nil {
			stats["threat_intel"] = ti
		} else {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("threat intel stats unavailable")
		}
	}
	if s.deps.Hub != nil {
		stats["websocket_clients"] = s.deps.Hub.GetClientCount()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Patterns == nil {
		s.writeError(w, http.StatusServiceUnavailable, "correlation engine unavailable")
		return
	}

	limit := listLimit(r)
	s.writeCached(w, fmt.Sprintf("patterns:%d", limit), func() (interface{}, error) {
		return s.deps.Patterns.RecentPatterns(limit), nil
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Incidents == nil {
		s.writeError(w, http.StatusServiceUnavailable, "response orchestrator unavailable")
		return
	}

	limit := listLimit(r)
	s.writeCached(w, fmt.Sprintf("incidents:%d", limit), func() (interface{}, error) {
		return s.deps.Incidents.RecentIncidents(limit), nil
	})
}

func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Patterns == nil {
		s.writeError(w, http.StatusServiceUnavailable, "correlation engine unavailable")
		return
	}

	source := chi.URLParam(r, "source")
	if source == "" {
		s.writeError(w, http.StatusBadRequest, "missing source")
		return
	}

	s.writeJSON(w, http.StatusOK, s.deps.Patterns.SourceStats(source))
}

func (s *Server) handleRiskProfiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		s.writeError(w, http.StatusServiceUnavailable, "behavior engine unavailable")
		return
	}

	limit := listLimit(r)
	s.writeCached(w, fmt.Sprintf("profiles:%d", limit), func() (interface{}, error) {
		return s.deps.Behavior.RiskProfiles(limit), nil
	})
}

func (s *Server) handleBehaviorStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		s.writeError(w, http.StatusServiceUnavailable, "behavior engine unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Behavior.Stats())
}

func (s *Server) handleThreatStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Threats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "threat intelligence unavailable")
		return
	}

	stats, err := s.deps.Threats.Stats()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("threat intel stats failed")
		s.writeError(w, http.StatusInternalServerError, "threat intelligence stats failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTopThreats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Threats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "threat intelligence unavailable")
		return
	}

	limit := listLimit(r)
	key := fmt.Sprintf("threats:%d", limit)
	if cached, ok := s.readCache.Get(key); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	threats, err := s.deps.Threats.TopThreats(limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("top threats lookup failed")
		s.writeError(w, http.StatusInternalServerError, "threat intelligence lookup failed")
		return
	}

	s.readCache.Set(key, threats)
	s.writeJSON(w, http.StatusOK, threats)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "websocket hub unavailable")
		return
	}
	websocket.ServeWS(s.deps.Hub, w, r)
}

// writeCached serves a read endpoint through the short-TTL cache.
func (s *Server) writeCached(w http.ResponseWriter, key string, load func() (interface{}, error)) {
	if cached, ok := s.readCache.Get(key); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	value, err := load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.readCache.Set(key, value)
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// listLimit parses the limit query parameter, clamped to a sane range.
func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
