package alertmanager

// Package alertmanager converts inbound webhook payloads (Prometheus
// Alertmanager, ArgoCD notifications) into IssueRecords.
//
// Only firing alerts become issues. Target config resolution is not done here;
// the pipeline resolves paths after intake so every source goes through the
// same resolver.

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dr-kube/dr-kube/internal/models"
)

// alertCategories maps alertname labels onto incident categories.
var alertCategories = map[string]models.Category{
	"ContainerOOMKilled": models.CategoryOOM,
	"HighMemoryUsage":    models.CategoryOOM,
	"CPUThrottling":      models.CategoryCPUThrottle,
	"PodCrashLooping":    models.CategoryPodCrash,
	"ServiceDown":        models.CategoryServiceDown,
	"UpstreamError":      models.CategoryUpstreamError,
	"HighErrorRate":      models.CategoryServiceError,
}

var (
	replicaSetSuffix  = regexp.MustCompile(`-[a-f0-9]{6,10}-[a-z0-9]{5}$`)
	statefulSetSuffix = regexp.MustCompile(`-\d+$`)
)

// Payload is the Alertmanager webhook body. Only consumed fields are declared.
type Payload struct {
	Version  string  `json:"version"`
	Status   string  `json:"status"`
	Receiver string  `json:"receiver"`
	Alerts   []Alert `json:"alerts"`
}

// Alert is a single alert within a Payload.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    string            `json:"startsAt"`
	Fingerprint string            `json:"fingerprint"`
}

// CategoryFor returns the incident category for an alertname.
func CategoryFor(alertname string) models.Category {
	if c, ok := alertCategories[alertname]; ok {
		return c
	}
	return models.CategoryUnknown
}

// WorkloadName derives the owning workload from a pod name by stripping a
// Deployment (ReplicaSet hash + pod suffix) or StatefulSet ordinal suffix.
func WorkloadName(pod string) string {
	if stripped := replicaSetSuffix.ReplaceAllString(pod, ""); stripped != pod {
		return stripped
	}
	return statefulSetSuffix.ReplaceAllString(pod, "")
}

// IssueID returns the stable id for an alert occurrence.
func IssueID(alertname, pod, startsAt string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%s", alertname, pod, startsAt)))
	return "alert-" + hex.EncodeToString(sum[:])[:8]
}

// ConvertAlert turns one alert into an IssueRecord.
func ConvertAlert(a Alert, now time.Time) models.IssueRecord {
	alertname := valueOr(a.Labels, "alertname", "Unknown")
	pod := valueOr(a.Labels, "pod", "unknown")

	id := IssueID(alertname, pod, a.StartsAt)
	fingerprint := a.Fingerprint
	if fingerprint == "" {
		fingerprint = id
	}

	issue := models.IssueRecord{
		ID:          id,
		Fingerprint: fingerprint,
		Category:    CategoryFor(alertname),
		Namespace:   valueOr(a.Labels, "namespace", "default"),
		Resource:    WorkloadName(pod),
		Description: valueOr(a.Annotations, "summary", alertname),
		ReceivedAt:  now,
	}
	if desc := a.Annotations["description"]; desc != "" {
		issue.LogExcerpts = []string{desc}
	}
	return issue
}

// Convert returns one IssueRecord per firing alert, in payload order.
func Convert(p Payload, now time.Time) []models.IssueRecord {
	issues := make([]models.IssueRecord, 0, len(p.Alerts))
	for _, a := range p.Alerts {
		if a.Status != "firing" {
			continue
		}
		issues = append(issues, ConvertAlert(a, now))
	}
	return issues
}

// Decode parses an Alertmanager webhook body.
func Decode(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode alertmanager payload: %w", err)
	}
	return p, nil
}

func valueOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}
