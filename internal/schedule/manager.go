// Package schedule is the application layer over a store.EventStore: it
// validates requests, traces and logs every operation and records metrics.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
	"github.com/jensholdgaard/event-scheduler/internal/telemetry"
)

const instrumentationName = "github.com/jensholdgaard/event-scheduler/internal/schedule"

// ErrInvalidRequest marks requests rejected before they reach the store.
var ErrInvalidRequest = errors.New("invalid request")

// AdvanceRequest reschedules a recurring event Interval after its current
// scheduled time.
type AdvanceRequest struct {
	Namespace string
	Key       string
	ID        uuid.UUID
	Interval  time.Duration
	// Value replaces the payload of the successor; nil keeps the current one.
	Value json.RawMessage
}

// SearchResult is a search together with the query it ran, defaults filled.
type SearchResult struct {
	Query  search.Resolved
	Events []event.Event
}

// Manager handles scheduled event operations.
type Manager struct {
	events store.EventStore
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer

	scheduled metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewManager returns a new schedule Manager.
func NewManager(events store.EventStore, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Manager, error) {
	meter := mp.Meter(instrumentationName)
	scheduled, err := meter.Int64Counter("schedule.events_scheduled",
		metric.WithDescription("Events moved into the Scheduled state."))
	if err != nil {
		return nil, fmt.Errorf("creating scheduled counter: %w", err)
	}
	conflicts, err := meter.Int64Counter("schedule.conflicts",
		metric.WithDescription("Writes rejected because the key already had a scheduled event."))
	if err != nil {
		return nil, fmt.Errorf("creating conflicts counter: %w", err)
	}

	return &Manager{
		events:    events,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		scheduled: scheduled,
		conflicts: conflicts,
	}, nil
}

// Schedule creates a new Scheduled event.
func (m *Manager) Schedule(ctx context.Context, req store.CreateRequest) (event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Schedule",
		trace.WithAttributes(
			attribute.String("namespace", req.Namespace),
			attribute.String("key", req.Key),
		),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	e, err := m.events.Insert(ctx, req)
	if err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("scheduling event: %w", err), attribute.String("namespace", req.Namespace))
	}

	m.scheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", e.Namespace)))
	telemetry.LogWithTrace(ctx, m.logger).InfoContext(ctx, "event scheduled",
		slog.String("namespace", e.Namespace),
		slog.String("key", e.Key),
		slog.String("id", e.ID.String()),
		slog.Time("scheduled_at", e.ScheduledAt),
	)
	return e, nil
}

// Get returns one event, or store.ErrNoResult.
func (m *Manager) Get(ctx context.Context, namespace, key string, id uuid.UUID) (event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get",
		trace.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.String("key", key),
			attribute.String("id", id.String()),
		),
	)
	defer span.End()

	e, err := m.events.Get(ctx, namespace, key, id)
	if err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("getting event: %w", err))
	}
	if e == nil {
		return event.Event{}, fmt.Errorf("event %s/%s/%s: %w", namespace, key, id, store.ErrNoResult)
	}
	return *e, nil
}

// Search resolves q against the current time and runs it.
func (m *Manager) Search(ctx context.Context, q search.Query) (SearchResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Search",
		trace.WithAttributes(attribute.String("namespace", q.Namespace)),
	)
	defer span.End()

	if err := q.Validate(); err != nil {
		return SearchResult{}, m.fail(ctx, span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	// Pin the defaults so the store and the echoed query agree on "now".
	r := q.Resolve(m.clock.Now())
	pinned := search.Query{
		Namespace:      r.Namespace,
		Key:            r.Key,
		States:         r.States,
		Order:          r.Order,
		Limit:          &r.Limit,
		ScheduledAtMin: &r.Min,
		ScheduledAtMax: &r.Max,
	}

	events, err := m.events.Search(ctx, pinned)
	if err != nil {
		return SearchResult{}, m.fail(ctx, span, fmt.Errorf("searching events: %w", err))
	}
	span.SetAttributes(attribute.Int("results", len(events)))
	return SearchResult{Query: r, Events: events}, nil
}

// Settle moves an event to a terminal state. Settling into the state the
// event already has, or one it cannot reach, returns the event unchanged.
func (m *Manager) Settle(ctx context.Context, req store.SettleRequest) (event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Settle",
		trace.WithAttributes(
			attribute.String("namespace", req.Namespace),
			attribute.String("key", req.Key),
			attribute.String("id", req.ID.String()),
			attribute.String("state", req.State.String()),
		),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	e, err := m.events.ChangeState(ctx, req)
	if err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("settling event: %w", err))
	}
	if e == nil {
		e, err = m.events.Get(ctx, req.Namespace, req.Key, req.ID)
		if err != nil {
			return event.Event{}, m.fail(ctx, span, fmt.Errorf("settling event: %w", err))
		}
		if e == nil {
			return event.Event{}, fmt.Errorf("event %s/%s/%s: %w", req.Namespace, req.Key, req.ID, store.ErrNoResult)
		}
	}

	telemetry.LogWithTrace(ctx, m.logger).InfoContext(ctx, "event settled",
		slog.String("namespace", e.Namespace),
		slog.String("key", e.Key),
		slog.String("id", e.ID.String()),
		slog.String("state", e.State.String()),
	)
	return *e, nil
}

// SettleAndNext settles an event and schedules its successor in one step.
func (m *Manager) SettleAndNext(ctx context.Context, req store.SettleAndNextRequest) (event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SettleAndNext",
		trace.WithAttributes(
			attribute.String("id", req.ID.String()),
			attribute.String("state", req.State.String()),
			attribute.String("next.namespace", req.Next.Namespace),
			attribute.String("next.key", req.Next.Key),
		),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	successor, err := m.events.SettleAndNext(ctx, req)
	if err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("settling and scheduling next: %w", err), attribute.String("namespace", req.Next.Namespace))
	}

	m.scheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", successor.Namespace)))
	telemetry.LogWithTrace(ctx, m.logger).InfoContext(ctx, "event settled and successor scheduled",
		slog.String("settled_id", req.ID.String()),
		slog.String("state", req.State.String()),
		slog.String("namespace", successor.Namespace),
		slog.String("key", successor.Key),
		slog.String("id", successor.ID.String()),
		slog.Time("scheduled_at", successor.ScheduledAt),
	)
	return successor, nil
}

// Advance disables a recurring event and schedules the same key again
// req.Interval after it.
func (m *Manager) Advance(ctx context.Context, req AdvanceRequest) (event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Advance",
		trace.WithAttributes(
			attribute.String("namespace", req.Namespace),
			attribute.String("key", req.Key),
			attribute.String("id", req.ID.String()),
			attribute.String("interval", req.Interval.String()),
		),
	)
	defer span.End()

	if req.Interval <= 0 {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidRequest, req.Interval))
	}
	if req.Value != nil && !event.ValidValue(req.Value) {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("%w: value is not valid JSON", ErrInvalidRequest))
	}

	cur, err := m.events.Get(ctx, req.Namespace, req.Key, req.ID)
	if err != nil {
		return event.Event{}, m.fail(ctx, span, fmt.Errorf("advancing event: %w", err))
	}
	if cur == nil {
		return event.Event{}, fmt.Errorf("event %s/%s/%s: %w", req.Namespace, req.Key, req.ID, store.ErrNoResult)
	}

	pred, next := cur.NextDuration(m.clock, req.Interval, req.Value)
	return m.SettleAndNext(ctx, store.SettleAndNextRequest{
		ID:    pred.ID,
		State: pred.State,
		Next: store.CreateRequest{
			Key:        next.Key,
			Value:      next.Value,
			Namespace:  next.Namespace,
			ScheduleAt: next.ScheduledAt,
		},
	})
}

// fail records err on the span and logs it. Conflicts are counted and
// logged at warn level; expected outcomes are not logged as errors.
func (m *Manager) fail(ctx context.Context, span trace.Span, err error, attrs ...attribute.KeyValue) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	logger := telemetry.LogWithTrace(ctx, m.logger)
	switch {
	case errors.Is(err, store.ErrAlreadyScheduled):
		m.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
		logger.WarnContext(ctx, "event already scheduled", slog.Any("error", err))
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, store.ErrIllegalState), errors.Is(err, store.ErrNoResult):
		logger.InfoContext(ctx, "request rejected", slog.Any("error", err))
	default:
		logger.ErrorContext(ctx, "schedule operation failed", slog.Any("error", err))
	}
	return err
}
