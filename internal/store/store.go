package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/search"
)

// EventStore persists scheduled events and enforces that at most one event
// per (namespace, key) is Scheduled.
type EventStore interface {
	// Init creates the storage schema if absent. It is idempotent.
	Init(ctx context.Context) error
	// Insert stores a new Scheduled event.
	Insert(ctx context.Context, req CreateRequest) (event.Event, error)
	// Get returns nil, nil when no event matches.
	Get(ctx context.Context, namespace, key string, id uuid.UUID) (*event.Event, error)
	Search(ctx context.Context, q search.Query) ([]event.Event, error)
	// ChangeState returns nil, nil when no matching event could be moved to
	// the requested state.
	ChangeState(ctx context.Context, req SettleRequest) (*event.Event, error)
	// SettleAndNext settles the referenced event and inserts its successor
	// atomically, returning the successor.
	SettleAndNext(ctx context.Context, req SettleAndNextRequest) (event.Event, error)
}

// CreateRequest describes a new event.
type CreateRequest struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value,omitempty"`
	Namespace  string          `json:"namespace"`
	ScheduleAt time.Time       `json:"scheduleAt"`
}

// Validate checks the request before it reaches a store.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Namespace) == "" {
		return errors.New("namespace is required")
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("key is required")
	}
	if r.ScheduleAt.IsZero() {
		return errors.New("scheduleAt is required")
	}
	if !event.ValidValue(r.Value) {
		return errors.New("value is not valid JSON")
	}
	return nil
}

// SettleRequest moves one event to a terminal state.
type SettleRequest struct {
	Key       string      `json:"key"`
	ID        uuid.UUID   `json:"id"`
	Namespace string      `json:"namespace"`
	State     event.State `json:"state"`
}

// Validate checks the request before it reaches a store. Requesting
// Scheduled is left to the store, which reports ErrIllegalState.
func (r SettleRequest) Validate() error {
	if strings.TrimSpace(r.Namespace) == "" {
		return errors.New("namespace is required")
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("key is required")
	}
	if r.ID == uuid.Nil {
		return errors.New("id is required")
	}
	if !r.State.Valid() {
		return errors.New("state is required")
	}
	return nil
}

// SettleAndNextRequest settles the event identified by ID and schedules Next.
type SettleAndNextRequest struct {
	ID    uuid.UUID     `json:"id"`
	State event.State   `json:"state"`
	Next  CreateRequest `json:"next"`
}

// Validate checks the request before it reaches a store.
func (r SettleAndNextRequest) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("id is required")
	}
	if !r.State.Valid() {
		return errors.New("state is required")
	}
	if err := r.Next.Validate(); err != nil {
		return fmt.Errorf("next: %w", err)
	}
	return nil
}
