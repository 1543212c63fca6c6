// oreon/appshell · watchthelight <wtl>

package events

import (
	"time"
)

// EventType identifies the kind of operation being logged.
type EventType string

const (
	EventTypeTransition EventType = "lifecycle_transition"
	EventTypeWindow     EventType = "window_action"
	EventTypeUpdate     EventType = "update"
	EventTypeInstance   EventType = "instance_signal"
	EventTypeIPCRequest EventType = "ipc_request"
	EventTypeTrayAction EventType = "tray_action"
	EventTypeAutostart  EventType = "autostart"
)

// Event represents a wide event / canonical log line.
// One Event is emitted per logical operation, containing all relevant context.
type Event struct {
	// Core identification
	Type        EventType `json:"event_type"`
	OperationID string    `json:"operation_id"`
	Component   string    `json:"component"`

	// Timing
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`

	// Outcome
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// High-cardinality fields (operation-specific)
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Standard field names for consistency across events.
const (
	FieldCommand       = "command"
	FieldRequestID     = "request_id"
	FieldClientVersion = "client_version"
	FieldResponseSize  = "response_size_bytes"
	FieldFromState     = "from_state"
	FieldToState       = "to_state"
	FieldReason        = "reason"
	FieldWindow        = "window"
	FieldAction        = "action"
	FieldDecision      = "decision"
	FieldUpdateOp      = "update_op"
	FieldSessionID     = "session_id"
	FieldVersion       = "version"
	FieldAvailable     = "available"
	FieldBytes         = "bytes"
	FieldTotalBytes    = "total_bytes"
	FieldPeerPID       = "peer_pid"
	FieldNotified      = "notified"
	FieldMenuItem      = "menu_item"
	FieldExitCode      = "exit_code"
	FieldEnabled       = "enabled"
)
