package pipeline

// Package pipeline is the single intake entry point.
//
// One intake batch flows through:
//
//   resolve target paths → correlate → admit (sequential, arrival order)
//     → run every accepted issue's workflow (parallel, bounded)
//
// Admission for the whole batch completes before any workflow starts, so
// batch-cap and dedup decisions never depend on workflow timing.

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/correlation"
	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/remediation"
)

// DefaultMaxParallel bounds concurrently running workflows.
const DefaultMaxParallel = 4

// Runner drives one issue to a terminal state.
type Runner interface {
	Run(ctx context.Context, issue models.IssueRecord) *remediation.WorkflowState
	Publishing() bool
}

// TargetResolver returns the target config path for an issue, or "".
type TargetResolver func(issue models.IssueRecord) string

// Handler wires correlation, admission and remediation together.
type Handler struct {
	correlator  *correlation.Correlator
	admission   admission.Controller
	runner      Runner
	resolve     TargetResolver
	maxParallel int
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a batch handler. resolve may be nil.
func NewHandler(corr *correlation.Correlator, adm admission.Controller, runner Runner, resolve TargetResolver, maxParallel int, logger *zap.Logger) *Handler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		correlator:  corr,
		admission:   adm,
		runner:      runner,
		resolve:     resolve,
		maxParallel: maxParallel,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// HandleBatch admits a batch and returns the decisions at once. Accepted
// workflows run in the background until they finish or Close is called.
func (h *Handler) HandleBatch(ctx context.Context, issues []models.IssueRecord) []admission.Decision {
	decisions, accepted := h.admit(ctx, issues)
	if len(accepted) == 0 {
		return decisions
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runAll(h.ctx, accepted)
	}()
	return decisions
}

// ProcessBatch admits a batch and runs the accepted workflows to completion.
// States are returned in the order of the accepted decisions.
func (h *Handler) ProcessBatch(ctx context.Context, issues []models.IssueRecord) ([]admission.Decision, []*remediation.WorkflowState) {
	decisions, accepted := h.admit(ctx, issues)
	return decisions, h.runAll(ctx, accepted)
}

// Wait blocks until every background workflow has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Close cancels background workflows and waits for them to stop.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

// ApplyAdmissionConfig updates the admission limits and composite mode.
func (h *Handler) ApplyAdmissionConfig(cfg admission.Config) {
	h.admission.UpdateConfig(cfg)
	h.correlator.SetEnabled(cfg.CompositeIncidentMode)
}

// Admission returns the admission controller.
func (h *Handler) Admission() admission.Controller {
	return h.admission
}

// Prepare resolves target paths and correlates a batch.
func (h *Handler) Prepare(issues []models.IssueRecord) []models.IssueRecord {
	resolved := make([]models.IssueRecord, len(issues))
	for i, issue := range issues {
		if issue.TargetConfigPath == "" && h.resolve != nil {
			issue.TargetConfigPath = h.resolve(issue)
		}
		resolved[i] = issue
	}

	out := h.correlator.Correlate(resolved)
	for _, issue := range out {
		if issue.IsComposite() {
			metrics.CompositeIssuesTotal.Inc()
			h.logger.Info("correlated issues into composite",
				zap.String("issue_id", issue.ID),
				zap.Strings("member_ids", issue.MemberIDs),
				zap.String("target", issue.TargetConfigPath),
			)
		}
	}
	return out
}

func (h *Handler) admit(ctx context.Context, issues []models.IssueRecord) ([]admission.Decision, []models.IssueRecord) {
	prepared := h.Prepare(issues)
	decisions := h.admission.AdmitBatch(ctx, prepared, h.runner.Publishing())

	var accepted []models.IssueRecord
	for _, d := range decisions {
		if d.Accepted() {
			accepted = append(accepted, d.Issue)
		}
	}
	h.logger.Info("intake batch admitted",
		zap.Int("received", len(issues)),
		zap.Int("after_correlation", len(prepared)),
		zap.Int("accepted", len(accepted)),
	)
	return decisions, accepted
}

// runAll runs workflows with bounded parallelism. Workflows report failure
// through their state, so the group never observes an error.
func (h *Handler) runAll(ctx context.Context, issues []models.IssueRecord) []*remediation.WorkflowState {
	states := make([]*remediation.WorkflowState, len(issues))
	var g errgroup.Group
	g.SetLimit(h.maxParallel)
	for i, issue := range issues {
		g.Go(func() error {
			states[i] = h.runner.Run(ctx, issue)
			return nil
		})
	}
	_ = g.Wait()
	return states
}
