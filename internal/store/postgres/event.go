package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

//go:embed schema.sql
var schema string

const (
	tableEvents = "events"
	eventCols   = `id, idempotence_key, key, namespace, value, state, created_at, scheduled_at`

	// settleCond admits the transitions Scheduled->any terminal state,
	// Disabled->Completed and the no-op to the current state. $1 is the
	// requested state.
	settleCond = `(state = 'SCHEDULED' OR state = $1::event_state
		OR (state = 'DISABLED' AND $1::event_state = 'COMPLETED'))`
)

// row is the database shape of an event.
type row struct {
	ID             uuid.UUID   `db:"id"`
	IdempotenceKey uuid.UUID   `db:"idempotence_key"`
	Key            string      `db:"key"`
	Namespace      string      `db:"namespace"`
	Value          []byte      `db:"value"`
	State          event.State `db:"state"`
	CreatedAt      time.Time   `db:"created_at"`
	ScheduledAt    time.Time   `db:"scheduled_at"`
}

func (r row) event() event.Event {
	return event.Event{
		ID:             r.ID,
		Key:            r.Key,
		Value:          event.CopyValue(json.RawMessage(r.Value)),
		Namespace:      r.Namespace,
		IdempotenceKey: r.IdempotenceKey,
		State:          r.State,
		CreatedAt:      r.CreatedAt.UTC(),
		ScheduledAt:    r.ScheduledAt.UTC(),
	}
}

// queryer is satisfied by *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// EventStore implements store.EventStore backed by Postgres.
type EventStore struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewEventStore returns a new EventStore.
func NewEventStore(db *sqlx.DB, clk clock.Clock) *EventStore {
	return &EventStore{db: db, clk: clk}
}

// Init creates the event_state type, the events table and its indexes.
func (s *EventStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", classify(err))
	}
	return nil
}

func (s *EventStore) Insert(ctx context.Context, req store.CreateRequest) (event.Event, error) {
	if err := req.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("inserting event: %w", err)
	}
	e, err := insert(ctx, s.db, event.New(s.clk, req.Key, req.Namespace, req.ScheduleAt, req.Value))
	if err != nil {
		return event.Event{}, fmt.Errorf("inserting event (namespace=%s, key=%s): %w", req.Namespace, req.Key, err)
	}
	return e, nil
}

func insert(ctx context.Context, q queryer, e event.Event) (event.Event, error) {
	var r row
	err := q.GetContext(ctx, &r,
		`INSERT INTO events (`+eventCols+`)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6::event_state, $7, $8)
		 RETURNING `+eventCols,
		e.ID, e.IdempotenceKey, e.Key, e.Namespace, string(e.Value), e.State.String(), e.CreatedAt, e.ScheduledAt)
	if err != nil {
		return event.Event{}, classify(err)
	}
	return r.event(), nil
}

func (s *EventStore) Get(ctx context.Context, namespace, key string, id uuid.UUID) (*event.Event, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT `+eventCols+` FROM events WHERE namespace = $1 AND key = $2 AND id = $3`,
		namespace, key, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %s: %w", id, classify(err))
	}
	e := r.event()
	return &e, nil
}

func (s *EventStore) Search(ctx context.Context, q search.Query) ([]event.Event, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	r := q.Resolve(s.clk.Now())
	if r.Limit == 0 {
		return []event.Event{}, nil
	}
	query, args, err := buildSearch(r)
	if err != nil {
		return nil, fmt.Errorf("building search query: %w", err)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("searching events: %w", classify(err))
	}
	events := make([]event.Event, len(rows))
	for i, r := range rows {
		events[i] = r.event()
	}
	return events, nil
}

// buildSearch compiles a resolved query to parameterized SQL. goqu drops a
// zero limit, so callers handle Limit 0 themselves.
func buildSearch(r search.Resolved) (string, []any, error) {
	states := make([]string, len(r.States))
	for i, st := range r.States {
		states[i] = st.String()
	}

	where := []exp.Expression{
		goqu.C("namespace").Eq(r.Namespace),
		goqu.C("state").In(states),
		goqu.C("scheduled_at").Between(goqu.Range(r.Min, r.Max)),
	}
	if r.Key != "" {
		where = append(where, goqu.C("key").Eq(r.Key))
	}

	var order []exp.OrderedExpression
	switch r.Order {
	case search.Desc:
		order = []exp.OrderedExpression{goqu.I("scheduled_at").Desc(), goqu.I("created_at").Desc(), goqu.I("id").Desc()}
	case search.Rand:
		order = []exp.OrderedExpression{goqu.L("RANDOM()").Asc()}
	default:
		order = []exp.OrderedExpression{goqu.I("scheduled_at").Asc(), goqu.I("created_at").Asc(), goqu.I("id").Asc()}
	}

	return goqu.Dialect("postgres").
		From(tableEvents).
		Prepared(true).
		Select("id", "idempotence_key", "key", "namespace", "value", "state", "created_at", "scheduled_at").
		Where(where...).
		Order(order...).
		Limit(uint(r.Limit)).
		ToSQL()
}

func (s *EventStore) ChangeState(ctx context.Context, req store.SettleRequest) (*event.Event, error) {
	if req.State == event.Scheduled {
		return nil, fmt.Errorf("changing state of event %s: %w", req.ID, store.ErrIllegalState)
	}
	var r row
	err := s.db.GetContext(ctx, &r,
		`UPDATE events SET state = $1::event_state
		 WHERE namespace = $2 AND key = $3 AND id = $4 AND `+settleCond+`
		 RETURNING `+eventCols,
		req.State.String(), req.Namespace, req.Key, req.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("changing state of event %s: %w", req.ID, classify(err))
	}
	e := r.event()
	return &e, nil
}

func (s *EventStore) SettleAndNext(ctx context.Context, req store.SettleAndNextRequest) (event.Event, error) {
	if req.State == event.Scheduled {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, store.ErrIllegalState)
	}
	if err := req.Next.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("settling event %s: next: %w", req.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("beginning transaction: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE events SET state = $1::event_state WHERE id = $2 AND `+settleCond,
		req.State.String(), req.ID)
	if err != nil {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, classify(err))
	}
	if n == 0 {
		var current event.State
		err := tx.GetContext(ctx, &current, `SELECT state FROM events WHERE id = $1`, req.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, store.ErrNoResult)
		case err != nil:
			return event.Event{}, fmt.Errorf("settling event %s: %w", req.ID, classify(err))
		default:
			return event.Event{}, fmt.Errorf("settling event %s from %s to %s: %w", req.ID, current, req.State, store.ErrIllegalState)
		}
	}

	next := req.Next
	successor, err := insert(ctx, tx, event.New(s.clk, next.Key, next.Namespace, next.ScheduleAt, next.Value))
	if err != nil {
		return event.Event{}, fmt.Errorf("scheduling successor of %s (namespace=%s, key=%s): %w", req.ID, next.Namespace, next.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("committing settle of %s: %w", req.ID, classify(err))
	}
	return successor, nil
}
