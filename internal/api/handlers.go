// Package api provides HTTP handlers for IntakePipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// startIntakeRequest is the body of POST /intake/start.
type startIntakeRequest struct {
	To string `json:"to"`
}

// startIntakeHandler begins (or restarts) an intake for a user (POST /intake/start).
func (s *Server) startIntakeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startIntakeHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startIntakeHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req startIntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startIntakeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.startIntakeHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.engine.StartIntake(r.Context(), canonicalTo); err != nil {
		slog.Error("Server.startIntakeHandler: failed to start intake", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start intake"))
		return
	}

	slog.Info("Server.startIntakeHandler: intake started", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intake started", nil))
}

// intakesHandler returns archived completed intakes (GET /intakes).
func (s *Server) intakesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.intakesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.intakesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	intakes, err := s.archive.ListIntakes()
	if err != nil {
		slog.Error("Error fetching archived intakes", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch intakes"))
		return
	}
	slog.Debug("archived intakes fetched", "count", len(intakes))
	writeJSONResponse(w, http.StatusOK, models.Success(intakes))
}

// statsHandler returns engine statistics (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats := s.engine.Stats()
	slog.Debug("stats computed", "active_sessions", stats.ActiveSessions, "pending_follow_ups", stats.PendingFollowUps)
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// resetHandler clears all sessions and completed records (POST /admin/reset).
// Archived intakes are not touched.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.resetHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.resetHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessions, completed := s.st.Counts()
	s.st.ResetAll()
	slog.Info("Server.resetHandler: all user state cleared", "sessions_cleared", sessions, "completed_cleared", completed)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All user state cleared", map[string]int{
		"sessions_cleared":  sessions,
		"completed_cleared": completed,
	}))
}

// followUpHandler triggers a follow-up delivery pass (POST /admin/followup).
// The pass runs on the serialized follow-up worker; triggering while a pass
// is already queued coalesces into it.
func (s *Server) followUpHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.followUpHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.followUpHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.followup.Trigger()
	slog.Info("Server.followUpHandler: delivery pass triggered")
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Follow-up delivery pass triggered", nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats := s.engine.Stats()
	healthData := map[string]interface{}{
		"status":             "healthy",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"active_sessions":    stats.ActiveSessions,
		"pending_follow_ups": stats.PendingFollowUps,
	}

	writeJSONResponse(w, http.StatusOK, healthData)
}
