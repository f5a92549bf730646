package remediation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/diff"
	"github.com/dr-kube/dr-kube/internal/gitops"
	"github.com/dr-kube/dr-kube/internal/llm"
	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/safety/policy"
	"github.com/dr-kube/dr-kube/internal/store"
	"github.com/dr-kube/dr-kube/internal/tracing"
)

// Default per-call timeouts.
const (
	DefaultProposalTimeout = 2 * time.Minute
	DefaultPublishTimeout  = 2 * time.Minute
)

// ConfigSource reads target configuration documents.
type ConfigSource interface {
	Read(path string) (string, error)
}

// Publisher opens a change request for a validated proposal.
type Publisher interface {
	Publish(ctx context.Context, req gitops.PublishRequest) (*gitops.PublishResult, error)
}

// Config controls a Machine.
type Config struct {
	// Publish enables the publish step. When false a validated proposal ends
	// in a terminal VALIDATED state.
	Publish         bool
	ProposalTimeout time.Duration
	PublishTimeout  time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

// WithRunLog records every finished run.
func WithRunLog(l store.RunLog) Option {
	return func(m *Machine) { m.runs = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers a callback invoked with every terminal state.
func WithObserver(fn func(*WorkflowState)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// WithTracer replaces the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) { m.tracer = t }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine runs remediation workflows. It holds no per-issue state and is safe
// for concurrent use; each Run owns its WorkflowState.
type Machine struct {
	cfg       Config
	generator llm.Generator
	publisher Publisher
	source    ConfigSource
	engine    policy.Engine

	runs      store.RunLog
	observers []func(*WorkflowState)
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMachine creates a state machine. publisher may be nil when publishing is
// disabled.
func NewMachine(cfg Config, gen llm.Generator, pub Publisher, src ConfigSource, engine policy.Engine, opts ...Option) *Machine {
	if cfg.ProposalTimeout <= 0 {
		cfg.ProposalTimeout = DefaultProposalTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if engine == nil {
		engine = policy.NewEngine()
	}
	m := &Machine{
		cfg:       cfg,
		generator: gen,
		publisher: pub,
		source:    src,
		engine:    engine,
		logger:    zap.NewNop(),
		tracer:    tracing.Tracer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publishing reports whether validated proposals are published.
func (m *Machine) Publishing() bool {
	return m.cfg.Publish && m.publisher != nil
}

// Run drives one issue to a terminal state. It never returns an error; every
// failure is reported through the returned state.
func (m *Machine) Run(ctx context.Context, issue models.IssueRecord) *WorkflowState {
	ctx, span := m.tracer.Start(ctx, "remediation.run", trace.WithAttributes(
		attribute.String("issue.id", issue.ID),
		attribute.String("issue.category", string(issue.Category)),
		attribute.String("issue.namespace", issue.Namespace),
	))
	defer span.End()

	s := WorkflowState{
		RunID:     uuid.New().String(),
		Issue:     issue,
		DryRun:    !m.Publishing(),
		StartedAt: m.now(),
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("remediation workflow panicked",
					zap.String("issue_id", issue.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				s = apply(s, failed(fmt.Sprintf("internal error: %v", r)))
			}
		}()
		s = m.drive(ctx, s)
	}()

	s.FinishedAt = m.now()
	span.SetAttributes(
		attribute.String("workflow.status", string(s.Status)),
		attribute.Int("workflow.retries", s.RetryCount),
	)
	if s.Status == StatusError {
		span.SetStatus(codes.Error, s.ErrorMessage)
	}
	m.finish(ctx, &s)
	return &s
}

// drive loops over the steps until a terminal state is reached.
func (m *Machine) drive(ctx context.Context, s WorkflowState) WorkflowState {
	s = apply(s, m.load(s.Issue))
	if s.Status == StatusError {
		return s
	}

	for !s.Terminal() {
		switch s.Status {
		case StatusLoaded, StatusValidationFailed:
			s = apply(s, m.propose(ctx, s))
		case StatusAnalyzed:
			v := validateProposal(m.engine, s.Issue.Category, s.OriginalConfig, s.ProposedConfig)
			if v.ok {
				s = apply(s, validationPassed(v.changedPaths))
			} else {
				m.logger.Info("proposal rejected",
					zap.String("issue_id", s.Issue.ID),
					zap.Int("retry_count", s.RetryCount),
					zap.String("reason", v.reason),
				)
				s = apply(s, validationFailed(v.reason, v.changedPaths))
			}
		case StatusValidated:
			s = apply(s, m.publish(ctx, s))
		default:
			return apply(s, failed(fmt.Sprintf("unexpected workflow status %s", s.Status)))
		}
	}
	return s
}

// load resolves and reads the target document. A missing, empty or invalid
// target switches the workflow to analysis-only.
func (m *Machine) load(issue models.IssueRecord) StepResult {
	path := issue.TargetConfigPath
	if path == "" || m.source == nil {
		return loaded("", "")
	}
	text, err := m.source.Read(path)
	if err != nil {
		if errors.Is(err, gitops.ErrTargetNotFound) {
			m.logger.Info("target document not found, analysis only",
				zap.String("issue_id", issue.ID), zap.String("target", path))
			return loaded("", "")
		}
		return failed(fmt.Sprintf("failed to load target document: %v", err))
	}
	if strings.TrimSpace(text) == "" {
		return loaded("", "")
	}
	doc, err := diff.ParseDocument(text)
	if err != nil {
		m.logger.Warn("target document is not valid YAML, analysis only",
			zap.String("issue_id", issue.ID), zap.String("target", path), zap.Error(err))
		return loaded("", "")
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		m.logger.Warn("target document is not a map, analysis only",
			zap.String("issue_id", issue.ID), zap.String("target", path))
		return loaded("", "")
	}
	return loaded(path, text)
}

// propose asks the generator for a proposal, bounded by the proposal timeout.
// Generator panics are converted into a failed step.
func (m *Machine) propose(ctx context.Context, s WorkflowState) (result StepResult) {
	if m.generator == nil {
		return failed(llm.ErrProviderNotConfigured.Error())
	}

	req := llm.Request{
		Issue:          s.Issue,
		TargetPath:     s.TargetPath,
		OriginalConfig: s.OriginalConfig,
		Attempt:        s.Attempts,
	}
	if s.Status == StatusValidationFailed {
		req.PriorFailure = s.ErrorMessage
	}

	ctx, span := m.tracer.Start(ctx, "remediation.propose", trace.WithAttributes(
		attribute.Int("attempt", s.Attempts+1),
		attribute.Bool("analysis_only", req.AnalysisOnly()),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProposalTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			result = failed(fmt.Sprintf("proposal generation panicked: %v", r))
		}
	}()

	p, err := m.generator.Propose(ctx, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, llm.ErrNoChangeBlock) {
			return failed(llm.ErrNoChangeBlock.Error())
		}
		return failed(fmt.Sprintf("proposal generation failed: %v", err))
	}
	if p == nil {
		return failed("proposal generation returned nothing")
	}
	if req.AnalysisOnly() {
		return analysisOnly(p.Rationale, p.Severity, p.Suggestions)
	}
	if strings.TrimSpace(p.ProposedConfigText) == "" {
		return failed(llm.ErrNoChangeBlock.Error())
	}
	return proposed(p.ProposedConfigText, p.Rationale, p.Severity, p.Suggestions, p.ChangeSummary)
}

// publish hands a validated proposal to the publisher exactly once.
func (m *Machine) publish(ctx context.Context, s WorkflowState) StepResult {
	ctx, span := m.tracer.Start(ctx, "remediation.publish", trace.WithAttributes(
		attribute.String("target", s.TargetPath),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()

	res, err := m.publisher.Publish(ctx, gitops.PublishRequest{
		Issue:         s.Issue,
		TargetPath:    s.TargetPath,
		Content:       s.ProposedConfig,
		ChangeSummary: s.ChangeSummary,
		Severity:      s.Severity,
		RootCause:     s.RootCause,
		ChangedPaths:  s.ChangedPaths,
	})
	metrics.RecordPublish(err)
	if err != nil {
		span.RecordError(err)
		return failed(fmt.Sprintf("publish failed: %v", err))
	}
	return published(res.ChangeURL, res.Branch)
}

// finish logs, records and announces a terminal state.
func (m *Machine) finish(ctx context.Context, s *WorkflowState) {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("issue_id", s.Issue.ID),
		zap.String("category", string(s.Issue.Category)),
		zap.String("status", string(s.Status)),
		zap.Int("retry_count", s.RetryCount),
		zap.Int("attempts", s.Attempts),
		zap.Strings("changed_paths", s.ChangedPaths),
	}
	if s.Status == StatusError {
		m.logger.Warn("remediation workflow failed", append(fields, zap.String("error", s.ErrorMessage))...)
	} else {
		m.logger.Info("remediation workflow finished", append(fields, zap.String("change_url", s.ChangeURL))...)
	}

	metrics.RecordWorkflow(string(s.Status), string(s.Issue.Category), s.FinishedAt.Sub(s.StartedAt).Seconds(), s.RetryCount)

	if m.runs != nil {
		if err := m.runs.SaveRun(context.WithoutCancel(ctx), s.Record()); err != nil {
			m.logger.Warn("failed to save run record", zap.String("run_id", s.RunID), zap.Error(err))
		}
	}
	for _, fn := range m.observers {
		fn(s)
	}
}
