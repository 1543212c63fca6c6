// oreon/appshell · watchthelight <wtl>

package events

import (
	"time"

	"github.com/google/uuid"
)

// Builder accumulates fields for one Event while the operation runs.
type Builder struct {
	evt Event
}

// Start begins a new event of the given type, stamping an operation ID and start time.
func Start(typ EventType, component string) *Builder {
	return &Builder{evt: Event{
		Type:        typ,
		OperationID: uuid.NewString(),
		Component:   component,
		StartedAt:   time.Now(),
		Success:     true,
		Fields:      make(map[string]interface{}),
	}}
}

// Set records a custom field.
func (b *Builder) Set(key string, value interface{}) *Builder {
	b.evt.Fields[key] = value
	return b
}

// SetError marks the event as failed. A nil error is ignored.
func (b *Builder) SetError(err error) *Builder {
	if err == nil {
		return b
	}
	b.evt.Success = false
	b.evt.Error = err.Error()
	return b
}

// End finalizes timing and returns the event ready for emission.
func (b *Builder) End() Event {
	b.evt.Duration = time.Since(b.evt.StartedAt)
	b.evt.DurationMs = b.evt.Duration.Milliseconds()
	return b.evt
}
