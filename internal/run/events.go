package run

// EventType identifies one of the closed set of audit event types emitted
// while executing a run. The set is closed: stores persist the string value,
// and the replayer treats any unknown type as opaque.
type EventType string

// The closed set of event types, in canonical emission order.
const (
	EventRunStarted        EventType = "RUN_STARTED"
	EventPlanCreated       EventType = "PLAN_CREATED"
	EventStepStarted       EventType = "STEP_STARTED"
	EventToolCallRequested EventType = "TOOL_CALL_REQUESTED"
	EventToolCallSucceeded EventType = "TOOL_CALL_SUCCEEDED"
	EventToolCallFailed    EventType = "TOOL_CALL_FAILED"
	EventStepCompleted     EventType = "STEP_COMPLETED"
	EventProvenanceEmitted EventType = "PROVENANCE_EMITTED"
	EventRunCompleted      EventType = "RUN_COMPLETED"
	EventRunFailed         EventType = "RUN_FAILED"
)

// Payload is the free-form JSON object attached to an event. Payloads are
// opaque to the store and typed by the event's type.
type Payload map[string]any

// StoredEvent is one immutable record of a run's append-only event log.
type StoredEvent struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	CreatedAt string    `json:"created_at"`
}
