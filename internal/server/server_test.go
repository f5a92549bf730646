package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/audit"
	"github.com/dr-kube/dr-kube/internal/config"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/remediation"
	"github.com/dr-kube/dr-kube/internal/store"
)

// fakeIntake admits through a real controller and records every batch.
type fakeIntake struct {
	ctrl admission.Controller

	mu      sync.Mutex
	batches [][]models.IssueRecord
	applied []admission.Config
}

func newFakeIntake() *fakeIntake {
	return &fakeIntake{
		ctrl: admission.NewController(admission.DefaultConfig(), store.NewMemory(), store.NewMemory()),
	}
}

func (f *fakeIntake) HandleBatch(ctx context.Context, issues []models.IssueRecord) []admission.Decision {
	f.mu.Lock()
	f.batches = append(f.batches, issues)
	f.mu.Unlock()
	return f.ctrl.AdmitBatch(ctx, issues, false)
}

func (f *fakeIntake) ApplyAdmissionConfig(cfg admission.Config) {
	f.mu.Lock()
	f.applied = append(f.applied, cfg)
	f.mu.Unlock()
	f.ctrl.UpdateConfig(cfg)
}

func (f *fakeIntake) Admission() admission.Controller { return f.ctrl }

func (f *fakeIntake) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func createTestServer(t *testing.T, runLog store.RunLog) (*Server, *fakeIntake) {
	t.Helper()
	intake := newFakeIntake()
	srv, err := NewServer(config.DefaultConfig(), Deps{Intake: intake, RunLog: runLog})
	require.NoError(t, err)
	return srv, intake
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresIntake(t *testing.T) {
	_, err := NewServer(config.DefaultConfig(), Deps{})
	assert.Error(t, err)

	_, err = NewServer(nil, Deps{Intake: newFakeIntake()})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := createTestServer(t, nil)

	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(t, srv.Handler(), http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleReady(t *testing.T) {
	intake := newFakeIntake()
	healthy := true
	srv, err := NewServer(config.DefaultConfig(), Deps{
		Intake: intake,
		Ping: func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return assert.AnError
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/ready", nil).Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv.Handler(), http.MethodGet, "/ready", nil).Code)
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := createTestServer(t, nil)
	w := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAlertmanagerWebhook(t *testing.T) {
	srv, intake := createTestServer(t, nil)
	payload := map[string]interface{}{
		"version": "4",
		"status":  "firing",
		"alerts": []map[string]interface{}{
			{
				"status":      "firing",
				"labels":      map[string]string{"alertname": "ContainerOOMKilled", "namespace": "shop", "pod": "checkout-7d9f8b6c5d-x2k4p"},
				"annotations": map[string]string{"summary": "container killed"},
				"startsAt":    "2026-06-10T12:00:00Z",
				"fingerprint": "fp-1",
			},
			{
				"status":   "resolved",
				"labels":   map[string]string{"alertname": "PodCrashLooping", "pod": "cart-0"},
				"startsAt": "2026-06-10T11:00:00Z",
			},
		},
	}
	body, _ := json.Marshal(payload)

	w := do(t, srv.Handler(), http.MethodPost, "/webhook/alertmanager", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Received)
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, admission.Accepted, resp.Decisions[0].Outcome)

	require.Len(t, intake.batches, 1)
	issue := intake.batches[0][0]
	assert.Equal(t, models.CategoryOOM, issue.Category)
	assert.Equal(t, "checkout", issue.Resource)
	assert.Equal(t, "fp-1", issue.Fingerprint)

	// same fingerprint again is a duplicate
	w = do(t, srv.Handler(), http.MethodPost, "/webhook/alertmanager", body)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Accepted)
	assert.Equal(t, admission.SkippedDuplicate, resp.Decisions[0].Outcome)
}

func TestAlertmanagerWebhook_NoFiringAlerts(t *testing.T) {
	srv, intake := createTestServer(t, nil)
	body := []byte(`{"status":"resolved","alerts":[{"status":"resolved","labels":{"alertname":"X"}}]}`)

	w := do(t, srv.Handler(), http.MethodPost, "/webhook/alertmanager", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"received":0`)
	assert.Empty(t, intake.batches)
}

func TestAlertmanagerWebhook_BadRequests(t *testing.T) {
	srv, _ := createTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/webhook/alertmanager", []byte("{not json")).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv.Handler(), http.MethodGet, "/webhook/alertmanager", nil).Code)
}

func TestArgoCDWebhook(t *testing.T) {
	srv, intake := createTestServer(t, nil)

	body := []byte(`{"id":"sync-1","type":"pod_crash","namespace":"shop","resource":"cart","error_message":"sync failed","values_file":"values/cart.yaml"}`)
	w := do(t, srv.Handler(), http.MethodPost, "/webhook/argocd", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, intake.batches, 1)
	assert.Equal(t, "sync-1", intake.batches[0][0].ID)
	assert.Equal(t, "values/cart.yaml", intake.batches[0][0].TargetConfigPath)

	w = do(t, srv.Handler(), http.MethodPost, "/webhook/argocd", []byte(`{"resource":"cart"}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "argocd-unknown", intake.batches[1][0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/webhook/argocd", []byte("[")).Code)

	for _, path := range []string{"../x", "/etc/x"} {
		body := []byte(`{"id":"sync-2","resource":"cart","values_file":"` + path + `"}`)
		w := do(t, srv.Handler(), http.MethodPost, "/webhook/argocd", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "values_file")
	}
	assert.Len(t, intake.batches, 2, "rejected payloads never reach intake")
}

func TestAdmissionLimits(t *testing.T) {
	srv, _ := createTestServer(t, nil)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/admission/limits", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap admission.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, admission.CostModeNormal, snap.Limits.CostMode)
	assert.Equal(t, 20, snap.Limits.MaxCallsPerDay)
	assert.False(t, snap.Limits.OverrideActive)
}

func TestAdmissionOverride(t *testing.T) {
	srv, _ := createTestServer(t, nil)

	body := []byte(`{"cost_mode":"unlimited","duration_minutes":30}`)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/admission/override", body)
	require.Equal(t, http.StatusOK, w.Code)

	var snap admission.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Limits.OverrideActive)
	assert.Equal(t, admission.CostModeUnlimited, snap.Limits.CostMode)

	w = do(t, srv.Handler(), http.MethodDelete, "/api/v1/admission/override", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.False(t, snap.Limits.OverrideActive)
	assert.Equal(t, admission.CostModeNormal, snap.Limits.CostMode)
}

func TestAdmissionOverride_Invalid(t *testing.T) {
	srv, _ := createTestServer(t, nil)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown cost mode", `{"cost_mode":"max","duration_minutes":5}`},
		{"no expiry", `{"cost_mode":"high"}`},
		{"bad timestamp", `{"cost_mode":"high","until":"tonight"}`},
		{"expiry in the past", `{"cost_mode":"high","until":"` + past + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/api/v1/admission/override", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv.Handler(), http.MethodGet, "/api/v1/admission/override", nil).Code)
}

func TestRemediations(t *testing.T) {
	runLog := store.NewMemoryRunLog(10)
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, runLog.SaveRun(context.Background(), &store.RunRecord{RunID: id, Status: "PR_CREATED"}))
	}
	srv, _ := createTestServer(t, runLog)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/remediations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Runs  []store.RunRecord `json:"runs"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "run-3", resp.Runs[0].RunID)

	w = do(t, srv.Handler(), http.MethodGet, "/api/v1/remediations?limit=1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodGet, "/api/v1/remediations?limit=abc", nil).Code)
}

func TestRemediations_NoRunLog(t *testing.T) {
	srv, _ := createTestServer(t, nil)
	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/remediations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestApplyConfigUpdates(t *testing.T) {
	srv, intake := createTestServer(t, nil)
	updates := make(chan config.Config, 1)
	done := make(chan struct{})
	go func() {
		srv.ApplyConfigUpdates(context.Background(), updates)
		close(done)
	}()

	cfg := config.DefaultConfig()
	cfg.Admission.CostMode = "high"
	cfg.Admission.CompositeIncidentMode = "off"
	updates <- *cfg
	close(updates)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyConfigUpdates did not return after channel close")
	}

	require.Equal(t, 1, intake.appliedCount())
	assert.Equal(t, admission.CostModeHigh, intake.ctrl.Limits().CostMode)
	assert.False(t, intake.applied[0].CompositeIncidentMode)
}

func TestApplyConfigUpdates_KeepsOverrideFromAPI(t *testing.T) {
	srv, intake := createTestServer(t, nil)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/admission/override",
		[]byte(`{"cost_mode":"unlimited","duration_minutes":60}`))
	require.Equal(t, http.StatusOK, w.Code)

	updates := make(chan config.Config, 1)
	updates <- *config.DefaultConfig()
	close(updates)
	srv.ApplyConfigUpdates(context.Background(), updates)

	require.Equal(t, 1, intake.appliedCount())
	limits := intake.ctrl.Limits()
	assert.True(t, limits.OverrideActive)
	assert.Equal(t, admission.CostModeUnlimited, limits.CostMode)
}

// failingAudit rejects every write.
type failingAudit struct{}

var errAuditDisk = errors.New("disk full")

func (failingAudit) Log(context.Context, *audit.Event) error { return errAuditDisk }
func (failingAudit) LogAdmission(context.Context, admission.Decision) error { return errAuditDisk }
func (failingAudit) LogWorkflow(context.Context, *remediation.WorkflowState) error { return errAuditDisk }
func (failingAudit) LogOverride(context.Context, admission.CostMode, time.Time) error { return errAuditDisk }
func (failingAudit) LogConfigReload(context.Context) error { return errAuditDisk }
func (failingAudit) LogServer(context.Context, audit.EventType, string) error { return errAuditDisk }
func (failingAudit) Sync() error { return nil }
func (failingAudit) Close() error { return nil }

func TestAuditFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	srv, err := NewServer(config.DefaultConfig(), Deps{
		Intake: newFakeIntake(),
		Audit:  failingAudit{},
		Logger: zap.New(core),
	})
	require.NoError(t, err)

	updates := make(chan config.Config, 1)
	updates <- *config.DefaultConfig()
	close(updates)
	srv.ApplyConfigUpdates(context.Background(), updates)

	do(t, srv.Handler(), http.MethodDelete, "/api/v1/admission/override", nil)

	entries := logs.FilterMessage("failed to write audit event").All()
	require.Len(t, entries, 2)
	assert.Equal(t, string(audit.EventConfigReload), entries[0].ContextMap()["event_type"])
	assert.Equal(t, string(audit.EventOverrideCleared), entries[1].ContextMap()["event_type"])
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}

func TestStartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	srv, err := NewServer(cfg, Deps{Intake: newFakeIntake()})
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.Error(t, srv.Start())

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.Error(t, srv.Stop())
}

func TestWebSocketFeed(t *testing.T) {
	srv, _ := createTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/remediations"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hub := srv.deps.Hub
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(&remediation.WorkflowState{
		RunID:  "run-9",
		Issue:  models.IssueRecord{ID: "i-9", Category: models.CategoryOOM},
		Status: remediation.StatusPRCreated,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeRemediation, msg.Type)
	require.NotNil(t, msg.Run)
	assert.Equal(t, "run-9", msg.Run.RunID)
	assert.Equal(t, "PR_CREATED", msg.Run.Status)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}
