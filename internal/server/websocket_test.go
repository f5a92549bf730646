package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/remediation"
)

// makeRequest creates a fake http.Request with the given Origin header.
func makeRequest(origin string) *http.Request {
	r, _ := http.NewRequest("GET", "/ws/remediations", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginChecking(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		reqOrigin string
		want      bool
	}{
		{"empty list allows anything", nil, "https://example.com", true},
		{"wildcard allows anything", []string{"*"}, "https://example.com", true},
		{"explicit allow match", []string{"https://ops.example.com"}, "https://ops.example.com", true},
		{"explicit allow mismatch", []string{"https://ops.example.com"}, "https://evil.com", false},
		{"case-insensitive origin", []string{"https://Ops.Example.Com"}, "https://ops.example.com", true},
		{"no origin header allowed", []string{"https://ops.example.com"}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := newUpgrader(tc.origins)
			assert.Equal(t, tc.want, up.CheckOrigin(makeRequest(tc.reqOrigin)))
		})
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.NotPanics(t, func() {
		hub.Publish(&remediation.WorkflowState{RunID: "r", Issue: models.IssueRecord{ID: "i"}})
	})
	assert.Equal(t, 0, hub.Clients())
	hub.Close()
}
