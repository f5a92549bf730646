package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dr-kube service metrics
var (
	// Intake metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_webhook_events_total",
			Help: "Total number of issues received per intake source",
		},
		[]string{"source"},
	)

	CompositeIssuesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drkube_composite_issues_total",
			Help: "Total number of composite issues synthesized by the correlator",
		},
	)

	// Admission metrics
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_admission_decisions_total",
			Help: "Total number of admission decisions by outcome",
		},
		[]string{"decision", "category"},
	)

	DailyCallsUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drkube_admission_daily_calls_used",
			Help: "Remediation calls admitted on the current UTC day",
		},
	)

	OverrideActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drkube_admission_override_active",
			Help: "1 while an override cost window is in effect",
		},
	)

	// Workflow metrics
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_workflows_total",
			Help: "Total number of remediation workflows by terminal status",
		},
		[]string{"status", "category"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drkube_workflow_duration_seconds",
			Help:    "Remediation workflow duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		},
		[]string{"status"},
	)

	WorkflowRetries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drkube_workflow_retries",
			Help:    "Validation retries used per workflow",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	PolicyVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_policy_verdicts_total",
			Help: "Total number of policy evaluations by result",
		},
		[]string{"category", "result"},
	)

	// Proposal (LLM) metrics
	ProposalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_proposal_requests_total",
			Help: "Total number of proposal requests",
		},
		[]string{"provider", "status"},
	)

	ProposalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drkube_proposal_duration_seconds",
			Help:    "Proposal request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	// Publish metrics
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drkube_publish_total",
			Help: "Total number of publish attempts",
		},
		[]string{"status"},
	)
)

// RecordAdmission increments the admission decision counter.
func RecordAdmission(decision, category string) {
	AdmissionDecisionsTotal.WithLabelValues(decision, category).Inc()
}

// RecordWorkflow records a terminal workflow state.
func RecordWorkflow(status, category string, seconds float64, retries int) {
	WorkflowsTotal.WithLabelValues(status, category).Inc()
	WorkflowDuration.WithLabelValues(status).Observe(seconds)
	WorkflowRetries.Observe(float64(retries))
}

// RecordPolicyVerdict records a policy evaluation.
func RecordPolicyVerdict(category string, pass bool) {
	result := "fail"
	if pass {
		result = "pass"
	}
	PolicyVerdictsTotal.WithLabelValues(category, result).Inc()
}

// RecordProposal records a proposal request.
func RecordProposal(provider string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProposalRequestsTotal.WithLabelValues(provider, status).Inc()
	ProposalDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordPublish records a publish attempt.
func RecordPublish(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PublishTotal.WithLabelValues(status).Inc()
}

// SetOverrideActive updates the override gauge.
func SetOverrideActive(active bool) {
	if active {
		OverrideActive.Set(1)
		return
	}
	OverrideActive.Set(0)
}
