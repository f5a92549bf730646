package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/audit"
	"github.com/dr-kube/dr-kube/internal/integration/alertmanager"
	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/models"
)

const (
	// maxWebhookBody caps webhook payloads.
	maxWebhookBody = 1 << 20

	defaultRunLimit = 50
	maxRunLimit     = 500
)

// BatchResponse is returned by both webhooks.
type BatchResponse struct {
	Received  int                  `json:"received"`
	Accepted  int                  `json:"accepted"`
	Decisions []admission.Decision `json:"decisions"`
}

// OverrideRequest opens an admission override window. Until takes
// precedence over DurationMinutes.
type OverrideRequest struct {
	CostMode        string `json:"cost_mode"`
	Until           string `json:"until,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// handleAlertmanagerWebhook converts firing alerts and submits them as one batch.
func (s *Server) handleAlertmanagerWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := alertmanager.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	issues := alertmanager.Convert(payload, time.Now())
	metrics.WebhookEventsTotal.WithLabelValues("alertmanager").Add(float64(len(issues)))
	s.deps.Logger.Info("alertmanager webhook received",
		zap.Int("alerts", len(payload.Alerts)),
		zap.Int("firing", len(issues)),
	)

	s.submit(w, r, issues)
}

// handleArgoCDWebhook submits a single issue document.
func (s *Server) handleArgoCDWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issue, err := alertmanager.DecodeIssue(body, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues("argocd").Inc()
	s.deps.Logger.Info("argocd webhook received",
		zap.String("issue_id", issue.ID),
		zap.String("category", string(issue.Category)),
	)

	s.submit(w, r, []models.IssueRecord{issue})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, issues []models.IssueRecord) {
	resp := BatchResponse{Received: len(issues), Decisions: []admission.Decision{}}
	if len(issues) > 0 {
		resp.Decisions = s.deps.Intake.HandleBatch(r.Context(), issues)
	}
	for _, d := range resp.Decisions {
		if d.Accepted() {
			resp.Accepted++
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleAdmissionLimits returns the current limits and counters.
func (s *Server) handleAdmissionLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Intake.Admission().Snapshot())
}

// handleAdmissionOverride opens (POST) or clears (DELETE) an override window.
func (s *Server) handleAdmissionOverride(w http.ResponseWriter, r *http.Request) {
	ctrl := s.deps.Intake.Admission()

	switch r.Method {
	case http.MethodPost:
		var req OverrideRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		mode, err := admission.ParseCostMode(req.CostMode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		until, err := overrideUntil(req, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := ctrl.SetOverride(mode, until); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.auditErr(s.deps.Audit.LogOverride(r.Context(), mode, until), audit.EventOverrideSet)
		writeJSON(w, http.StatusOK, ctrl.Snapshot())

	case http.MethodDelete:
		ctrl.ClearOverride()
		s.auditErr(s.deps.Audit.LogOverride(r.Context(), "", time.Time{}), audit.EventOverrideCleared)
		writeJSON(w, http.StatusOK, ctrl.Snapshot())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRemediations lists recent runs, newest first.
func (s *Server) handleRemediations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.RunLog == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": []interface{}{}, "count": 0})
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.deps.RunLog.ListRuns(r.Context(), limit)
	if err != nil {
		s.deps.Logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func overrideUntil(req OverrideRequest, now time.Time) (time.Time, error) {
	if req.Until != "" {
		until, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			return time.Time{}, fmt.Errorf("until must be an RFC3339 timestamp: %w", err)
		}
		return until, nil
	}
	if req.DurationMinutes > 0 {
		return now.Add(time.Duration(req.DurationMinutes) * time.Minute), nil
	}
	return time.Time{}, fmt.Errorf("until or duration_minutes is required")
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
