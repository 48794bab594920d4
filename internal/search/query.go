// Package search describes queries over scheduled events and evaluates them
// against in-memory snapshots.
package search

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/jensholdgaard/event-scheduler/internal/event"
)

const (
	// DefaultLimit applies when a query does not set a limit.
	DefaultLimit = 100
	// MaxLimit caps the number of events one search returns.
	MaxLimit = 1000
)

// Epoch is the default lower bound of the scheduled time range.
var Epoch = time.Unix(0, 0).UTC()

// ErrNamespaceRequired is returned by Validate for a query without namespace.
var ErrNamespaceRequired = errors.New("namespace is required")

// Query filters events of one namespace. Zero-valued optional fields take
// their defaults in Resolve.
type Query struct {
	Namespace      string        `json:"namespace"`
	Key            string        `json:"key,omitempty"`
	States         []event.State `json:"state,omitempty"`
	Order          Order         `json:"order,omitempty"`
	Limit          *int          `json:"limit,omitempty"`
	ScheduledAtMin *time.Time    `json:"scheduledAtMin,omitempty"`
	ScheduledAtMax *time.Time    `json:"scheduledAtMax,omitempty"`
}

// Validate checks the query before it reaches a store.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Namespace) == "" {
		return ErrNamespaceRequired
	}
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", *q.Limit)
	}
	for _, s := range q.States {
		if !s.Valid() {
			return fmt.Errorf("invalid state %v in query", s)
		}
	}
	if q.ScheduledAtMin != nil && q.ScheduledAtMax != nil && q.ScheduledAtMin.After(*q.ScheduledAtMax) {
		return fmt.Errorf("scheduledAtMin %s is after scheduledAtMax %s",
			q.ScheduledAtMin.Format(time.RFC3339), q.ScheduledAtMax.Format(time.RFC3339))
	}
	return nil
}

// Resolved is a Query with every default filled in.
type Resolved struct {
	Namespace string
	Key       string
	States    []event.State
	Order     Order
	Limit     int
	Min       time.Time
	Max       time.Time
}

// Resolve fills defaults: states {Scheduled}, limit DefaultLimit and the
// scheduled range [Epoch, now]. An explicit limit is kept, including 0, and
// capped at MaxLimit.
func (q Query) Resolve(now time.Time) Resolved {
	r := Resolved{
		Namespace: q.Namespace,
		Key:       q.Key,
		States:    slices.Clone(q.States),
		Order:     q.Order,
		Limit:     DefaultLimit,
		Min:       Epoch,
		Max:       now.UTC(),
	}
	if len(r.States) == 0 {
		r.States = []event.State{event.Scheduled}
	}
	if q.Limit != nil {
		r.Limit = min(*q.Limit, MaxLimit)
	}
	if q.ScheduledAtMin != nil {
		r.Min = q.ScheduledAtMin.UTC()
	}
	if q.ScheduledAtMax != nil {
		r.Max = q.ScheduledAtMax.UTC()
	}
	return r
}

// Matches reports whether e passes every filter of r.
func (r Resolved) Matches(e event.Event) bool {
	if e.Namespace != r.Namespace {
		return false
	}
	if r.Key != "" && e.Key != r.Key {
		return false
	}
	if !slices.Contains(r.States, e.State) {
		return false
	}
	return !e.ScheduledAt.Before(r.Min) && !e.ScheduledAt.After(r.Max)
}

// Apply filters, orders and truncates a snapshot. The input is not modified
// and the returned events are clones.
func (r Resolved) Apply(snapshot []event.Event) []event.Event {
	out := make([]event.Event, 0, min(len(snapshot), r.Limit))
	for _, e := range snapshot {
		if r.Matches(e) {
			out = append(out, e.Clone())
		}
	}

	slices.SortFunc(out, compareScheduled)
	switch r.Order {
	case Desc:
		slices.Reverse(out)
	case Rand:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}

	if len(out) > r.Limit {
		out = out[:r.Limit]
	}
	return out
}

func compareScheduled(a, b event.Event) int {
	if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}
