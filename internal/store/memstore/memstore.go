// Package memstore provides the "memory" store.Driver: a process-local
// EventStore for development and tests.
//
// Writes to one (namespace, key) pair are serialized by a per-pair mutex.
// SettleAndNext holds the mutexes of both pairs it touches, acquired in a
// fixed order, and checks every precondition before it writes, so a failed
// call leaves no trace.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	store.Register("memory", open)
}

// open is the store.Driver for the "memory" backend.
func open(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Backend, error) {
	s := New(clk)
	return &store.Backend{
		Events: s,
		Closer: closerFunc(func() error { return nil }),
		Ping:   func(context.Context) error { return nil },
	}, nil
}

type slot struct {
	namespace string
	key       string
}

func compareSlots(a, b slot) int {
	if c := cmp.Compare(a.namespace, b.namespace); c != 0 {
		return c
	}
	return cmp.Compare(a.key, b.key)
}

// EventStore implements store.EventStore in memory.
type EventStore struct {
	clk clock.Clock

	locksMu sync.Mutex
	locks   map[slot]*sync.Mutex

	mu        sync.RWMutex // guards events and scheduled
	events    map[uuid.UUID]event.Event
	scheduled map[slot]uuid.UUID
}

// New returns an empty EventStore.
func New(clk clock.Clock) *EventStore {
	return &EventStore{
		clk:       clk,
		locks:     make(map[slot]*sync.Mutex),
		events:    make(map[uuid.UUID]event.Event),
		scheduled: make(map[slot]uuid.UUID),
	}
}

// lock acquires the mutexes of the given slots in a fixed order and returns
// a function releasing them.
func (s *EventStore) lock(slots ...slot) func() {
	slices.SortFunc(slots, compareSlots)
	slots = slices.Compact(slots)

	s.locksMu.Lock()
	held := make([]*sync.Mutex, len(slots))
	for i, sl := range slots {
		m, ok := s.locks[sl]
		if !ok {
			m = &sync.Mutex{}
			s.locks[sl] = m
		}
		held[i] = m
	}
	s.locksMu.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Init is a no-op; the store needs no schema.
func (s *EventStore) Init(context.Context) error { return nil }

func (s *EventStore) Insert(ctx context.Context, req store.CreateRequest) (event.Event, error) {
	if err := req.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("inserting event: %w", err)
	}
	sl := slot{req.Namespace, req.Key}
	unlock := s.lock(sl)
	defer unlock()

	s.mu.RLock()
	_, taken := s.scheduled[sl]
	s.mu.RUnlock()
	if taken {
		return event.Event{}, fmt.Errorf("inserting event (namespace=%s, key=%s): %w", req.Namespace, req.Key, store.ErrAlreadyScheduled)
	}
	if err := ctx.Err(); err != nil {
		return event.Event{}, fmt.Errorf("inserting event: %w", err)
	}

	e := event.New(s.clk, req.Key, req.Namespace, req.ScheduleAt, req.Value)
	s.mu.Lock()
	s.events[e.ID] = e
	s.scheduled[sl] = e.ID
	s.mu.Unlock()
	return e.Clone(), nil
}

func (s *EventStore) Get(_ context.Context, namespace, key string, id uuid.UUID) (*event.Event, error) {
	s.mu.RLock()
	e, ok := s.events[id]
	s.mu.RUnlock()
	if !ok || e.Namespace != namespace || e.Key != key {
		return nil, nil
	}
	e = e.Clone()
	return &e, nil
}

func (s *EventStore) Search(_ context.Context, q search.Query) ([]event.Event, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	r := q.Resolve(s.clk.Now())

	s.mu.RLock()
	snapshot := make([]event.Event, 0, len(s.events))
	for _, e := range s.events {
		if r.Matches(e) {
			snapshot = append(snapshot, e)
		}
	}
	s.mu.RUnlock()

	return r.Apply(snapshot), nil
}

func (s *EventStore) ChangeState(ctx context.Context, req store.SettleRequest) (*event.Event, error) {
	if req.State == event.Scheduled {
		return nil, fmt.Errorf("changing state of event %s: %w", req.ID, store.ErrIllegalState)
	}
	sl := slot{req.Namespace, req.Key}
	unlock := s.lock(sl)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.events[req.ID]
	s.mu.RUnlock()
	if !ok || cur.Namespace != req.Namespace || cur.Key != req.Key {
		return nil, nil
	}
	settled, ok := settle(cur, req.State)
	if !ok {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("changing state of event %s: %w", req.ID, err)
	}

	s.mu.Lock()
	s.write(cur, settled)
	s.mu.Unlock()
	settled = settled.Clone()
	return &settled, nil
}

func (s *EventStore) SettleAndNext(ctx context.Context, req store.SettleAndNextRequest) (event.Event, error) {
	if req.State == event.Scheduled {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, store.ErrIllegalState)
	}
	if err := req.Next.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("settling event %s: next: %w", req.ID, err)
	}

	s.mu.RLock()
	cur, ok := s.events[req.ID]
	s.mu.RUnlock()
	if !ok {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, store.ErrNoResult)
	}

	next := req.Next
	nextSlot := slot{next.Namespace, next.Key}
	unlock := s.lock(slot{cur.Namespace, cur.Key}, nextSlot)
	defer unlock()

	// Reload under the slot lock; the state may have moved meanwhile.
	s.mu.RLock()
	cur = s.events[req.ID]
	holder, taken := s.scheduled[nextSlot]
	s.mu.RUnlock()

	settled, ok := settle(cur, req.State)
	if !ok {
		return event.Event{}, fmt.Errorf("settling event %s from %s to %s: %w", req.ID, cur.State, req.State, store.ErrIllegalState)
	}
	if taken && holder != cur.ID {
		return event.Event{}, fmt.Errorf("scheduling successor of %s (namespace=%s, key=%s): %w",
			req.ID, next.Namespace, next.Key, store.ErrAlreadyScheduled)
	}
	if err := ctx.Err(); err != nil {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, err)
	}

	successor := event.New(s.clk, next.Key, next.Namespace, next.ScheduleAt, next.Value)
	s.mu.Lock()
	s.write(cur, settled)
	s.events[successor.ID] = successor
	s.scheduled[nextSlot] = successor.ID
	s.mu.Unlock()
	return successor.Clone(), nil
}

// write replaces cur with settled and releases the scheduled slot if cur
// held it. Callers hold s.mu and the slot lock.
func (s *EventStore) write(cur, settled event.Event) {
	s.events[settled.ID] = settled
	sl := slot{cur.Namespace, cur.Key}
	if cur.IsScheduled() && s.scheduled[sl] == cur.ID {
		delete(s.scheduled, sl)
	}
}

// settle applies the transition to state and reports whether e can reach it.
func settle(e event.Event, state event.State) (event.Event, bool) {
	settled, ok := e.Settle(state)
	return settled, ok && settled.State == state
}
