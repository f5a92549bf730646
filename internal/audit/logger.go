package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/logging"
	"github.com/dr-kube/dr-kube/internal/remediation"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log writes an audit event
	Log(ctx context.Context, event *Event) error

	// LogAdmission records one admission decision
	LogAdmission(ctx context.Context, d admission.Decision) error

	// LogWorkflow records a terminal workflow state
	LogWorkflow(ctx context.Context, s *remediation.WorkflowState) error

	// LogOverride records an admission override change. A zero until means cleared.
	LogOverride(ctx context.Context, mode admission.CostMode, until time.Time) error

	// LogConfigReload records an applied configuration reload
	LogConfigReload(ctx context.Context) error

	// LogServer records server lifecycle events
	LogServer(ctx context.Context, eventType EventType, addr string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the audit log file. Empty disables audit output.
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	mu          sync.Mutex
}

// NewLogger creates a new audit logger. appLogger receives marshal failures.
func NewLogger(cfg Config, appLogger *zap.Logger) (Logger, error) {
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	if cfg.Path == "" {
		return &auditLogger{appLogger: appLogger, auditLogger: zap.NewNop()}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	// Audit logs are always INFO level, append-only
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(core),
		rotator:     rotator,
	}, nil
}

// Log writes an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = GenerateCorrelationID()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		l.appLogger.Error("failed to marshal audit event",
			zap.Error(err),
			zap.String("event_type", string(event.EventType)),
		)
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.auditLogger.Info(string(eventJSON),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("event_type", string(event.EventType)),
		zap.String("result", string(event.Result)),
	)
	return nil
}

// LogAdmission records one admission decision
func (l *auditLogger) LogAdmission(ctx context.Context, d admission.Decision) error {
	eventType, result := EventIssueAdmitted, ResultSuccess
	if !d.Accepted() {
		eventType, result = EventIssueSkipped, ResultDenied
	}

	event := NewEvent(eventType).
		WithIssue(d.IssueID, string(d.Issue.Category), d.Issue.Namespace, d.Issue.Resource).
		WithResult(result).
		WithMetadata("decision", string(d.Outcome)).
		WithDescription(fmt.Sprintf("Issue %s %s", d.IssueID, strings.ToLower(string(d.Outcome))))
	if d.Reason != "" {
		event.WithMetadata("reason", d.Reason)
	}

	return l.Log(ctx, event)
}

// LogWorkflow records a terminal workflow state
func (l *auditLogger) LogWorkflow(ctx context.Context, s *remediation.WorkflowState) error {
	issue := s.Issue
	eventType, result := EventWorkflowCompleted, ResultSuccess
	if !s.Succeeded() {
		eventType, result = EventWorkflowFailed, ResultFailure
	}

	event := NewEvent(eventType).
		WithCorrelationID(s.RunID).
		WithIssue(issue.ID, string(issue.Category), issue.Namespace, issue.Resource).
		WithResult(result).
		WithError(s.ErrorMessage).
		WithMetadata("status", string(s.Status)).
		WithMetadata("retry_count", s.RetryCount).
		WithDescription(fmt.Sprintf("Workflow %s finished with %s", s.RunID, s.Status))
	if !s.FinishedAt.IsZero() {
		event.WithDuration(s.FinishedAt.Sub(s.StartedAt))
	}
	if len(s.ChangedPaths) > 0 {
		event.WithMetadata("changed_paths", s.ChangedPaths)
	}
	if err := l.Log(ctx, event); err != nil {
		return err
	}

	if s.ChangeURL == "" {
		return nil
	}
	return l.Log(ctx, NewEvent(EventChangePublished).
		WithCorrelationID(s.RunID).
		WithIssue(issue.ID, string(issue.Category), issue.Namespace, issue.Resource).
		WithResult(ResultSuccess).
		WithMetadata("url", s.ChangeURL).
		WithMetadata("branch", s.Branch).
		WithDescription(fmt.Sprintf("Change proposal %s opened", s.ChangeURL)))
}

// LogOverride records an admission override change
func (l *auditLogger) LogOverride(ctx context.Context, mode admission.CostMode, until time.Time) error {
	if until.IsZero() {
		return l.Log(ctx, NewEvent(EventOverrideCleared).
			WithResult(ResultSuccess).
			WithDescription("Admission override cleared"))
	}
	return l.Log(ctx, NewEvent(EventOverrideSet).
		WithResult(ResultSuccess).
		WithMetadata("cost_mode", string(mode)).
		WithMetadata("until", until.UTC().Format(time.RFC3339)).
		WithDescription(fmt.Sprintf("Admission override %s until %s", mode, until.UTC().Format(time.RFC3339))))
}

// LogConfigReload records an applied configuration reload
func (l *auditLogger) LogConfigReload(ctx context.Context) error {
	return l.Log(ctx, NewEvent(EventConfigReload).
		WithResult(ResultSuccess).
		WithDescription("Configuration reloaded"))
}

// LogServer records server lifecycle events
func (l *auditLogger) LogServer(ctx context.Context, eventType EventType, addr string) error {
	return l.Log(ctx, NewEvent(eventType).
		WithResult(ResultSuccess).
		WithMetadata("addr", addr).
		WithDescription(fmt.Sprintf("Server %s on %s", strings.TrimPrefix(string(eventType), "system.server_"), addr)))
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	if err := l.Sync(); err != nil {
		return err
	}
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
