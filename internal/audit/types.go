package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Intake events
	EventIssueAdmitted EventType = "issue.admitted"
	EventIssueSkipped  EventType = "issue.skipped"

	// Workflow events
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventChangePublished   EventType = "change.published"

	// Admission control events
	EventOverrideSet     EventType = "admission.override_set"
	EventOverrideCleared EventType = "admission.override_cleared"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
	EventConfigReload EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Issue information
	IssueID   string `json:"issue_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Resource  string `json:"resource,omitempty"`

	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error string `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithIssue copies the identifying fields of an issue.
func (e *Event) WithIssue(id, category, namespace, resource string) *Event {
	e.IssueID = id
	e.Category = category
	e.Namespace = namespace
	e.Resource = resource
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(msg string) *Event {
	if msg != "" {
		e.Error = msg
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
