// Package event defines the scheduled event entity and its state transitions.
//
// An Event is a plain value. Transition methods return a new value and never
// move an event into Scheduled; only New and the successor half of Next
// produce Scheduled events.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
)

// Null is the payload stored when a caller omits the value.
var Null = json.RawMessage("null")

// Event is a named, time-stamped work item in a namespace.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	Namespace      string          `json:"namespace"`
	IdempotenceKey uuid.UUID       `json:"idempotenceKey"`
	State          State           `json:"state"`
	CreatedAt      time.Time       `json:"createdAt"`
	ScheduledAt    time.Time       `json:"scheduledAt"`
}

// New returns a Scheduled event with freshly generated identifiers.
// A nil or empty value is stored as JSON null.
func New(clk clock.Clock, key, namespace string, scheduleAt time.Time, value json.RawMessage) Event {
	return Event{
		ID:             uuid.New(),
		Key:            key,
		Value:          CopyValue(value),
		Namespace:      namespace,
		IdempotenceKey: uuid.New(),
		State:          Scheduled,
		CreatedAt:      clk.Now().UTC(),
		ScheduledAt:    scheduleAt.UTC(),
	}
}

// Next disables e and returns it together with a new Scheduled successor due
// at scheduleAt. The successor carries value, or a copy of e's value when
// value is nil.
func (e Event) Next(clk clock.Clock, scheduleAt time.Time, value json.RawMessage) (Event, Event) {
	if value == nil {
		value = e.Value
	}
	successor := New(clk, e.Key, e.Namespace, scheduleAt, value)
	return e.Disable(), successor
}

// NextDuration is Next with the successor due d after e.
func (e Event) NextDuration(clk clock.Clock, d time.Duration, value json.RawMessage) (Event, Event) {
	return e.Next(clk, e.ScheduledAt.Add(d), value)
}

// IsScheduled reports whether e currently holds its key's scheduled slot.
func (e Event) IsScheduled() bool {
	return e.State == Scheduled
}

// Disable moves a Scheduled event to Disabled. Other states are unchanged.
func (e Event) Disable() Event {
	if e.State == Scheduled {
		e.State = Disabled
	}
	return e
}

// Complete moves a Scheduled or Disabled event to Completed.
func (e Event) Complete() Event {
	switch e.State {
	case Scheduled, Disabled:
		e.State = Completed
	}
	return e
}

// Settle applies the transition named by s. It reports false when s is not
// a settle target (Scheduled or invalid), leaving e unchanged.
func (e Event) Settle(s State) (Event, bool) {
	switch s {
	case Disabled:
		return e.Disable(), true
	case Completed:
		return e.Complete(), true
	default:
		return e, false
	}
}

// Clone returns a copy of e that shares no memory with it.
func (e Event) Clone() Event {
	e.Value = CopyValue(e.Value)
	return e
}

// CopyValue returns an independent copy of v, or Null when v is empty.
func CopyValue(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return append(json.RawMessage(nil), Null...)
	}
	return append(json.RawMessage(nil), v...)
}

// ValidValue reports whether v is empty or a well-formed JSON document.
func ValidValue(v json.RawMessage) bool {
	return len(v) == 0 || json.Valid(v)
}
