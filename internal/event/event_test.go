package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/event"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newEvent(t *testing.T, state event.State) event.Event {
	t.Helper()
	e := event.New(clock.NewMock(t0), "job1", "ns", t0.Add(time.Minute), json.RawMessage(`{"n":1}`))
	e.State = state
	return e
}

func TestNew(t *testing.T) {
	clk := clock.NewMock(t0)
	due := t0.Add(time.Hour)

	e := event.New(clk, "job1", "ns", due, nil)

	assert.Equal(t, "job1", e.Key)
	assert.Equal(t, "ns", e.Namespace)
	assert.Equal(t, event.Scheduled, e.State)
	assert.True(t, e.IsScheduled())
	assert.True(t, e.CreatedAt.Equal(t0))
	assert.True(t, e.ScheduledAt.Equal(due))
	assert.JSONEq(t, `null`, string(e.Value))
	assert.NotEqual(t, e.ID, e.IdempotenceKey)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from event.State
		op   string
		want event.State
	}{
		{event.Scheduled, "disable", event.Disabled},
		{event.Disabled, "disable", event.Disabled},
		{event.Completed, "disable", event.Completed},
		{event.Scheduled, "complete", event.Completed},
		{event.Disabled, "complete", event.Completed},
		{event.Completed, "complete", event.Completed},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.op, func(t *testing.T) {
			e := newEvent(t, tt.from)
			var got event.Event
			switch tt.op {
			case "disable":
				got = e.Disable()
			case "complete":
				got = e.Complete()
			}
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, e.ID, got.ID)
			assert.Equal(t, tt.from, e.State, "receiver must not be mutated")
		})
	}
}

func TestTransitions_Idempotent(t *testing.T) {
	for _, s := range event.States() {
		e := newEvent(t, s)
		assert.Equal(t, e.Disable(), e.Disable().Disable(), "disable twice from %s", s)
		assert.Equal(t, e.Complete(), e.Complete().Complete(), "complete twice from %s", s)
		assert.Equal(t, event.Completed, e.Disable().Complete().State, "complete after disable from %s", s)
		assert.Equal(t, e.Complete(), e.Complete().Disable(), "disable after complete from %s", s)
	}
}

func TestSettle(t *testing.T) {
	e := newEvent(t, event.Scheduled)

	got, ok := e.Settle(event.Disabled)
	require.True(t, ok)
	assert.Equal(t, event.Disabled, got.State)

	got, ok = e.Settle(event.Completed)
	require.True(t, ok)
	assert.Equal(t, event.Completed, got.State)

	for _, s := range []event.State{event.Scheduled, event.State(0), event.State(42)} {
		got, ok = newEvent(t, event.Disabled).Settle(s)
		assert.False(t, ok, "Settle(%v)", s)
		assert.Equal(t, event.Disabled, got.State)
	}
}

func TestNext(t *testing.T) {
	clk := clock.NewMock(t0)
	e := newEvent(t, event.Scheduled)
	clk.Advance(5 * time.Minute)
	due := t0.Add(2 * time.Hour)

	t.Run("with value", func(t *testing.T) {
		v := json.RawMessage(`{"n":2}`)
		p, s := e.Next(clk, due, v)

		assert.Equal(t, event.Disabled, p.State)
		assert.Equal(t, e.ID, p.ID)
		assert.Equal(t, event.Scheduled, s.State)
		assert.Equal(t, e.Key, s.Key)
		assert.Equal(t, e.Namespace, s.Namespace)
		assert.True(t, s.ScheduledAt.Equal(due))
		assert.True(t, s.CreatedAt.Equal(clk.Now()))
		assert.NotEqual(t, e.ID, s.ID)
		assert.NotEqual(t, e.IdempotenceKey, s.IdempotenceKey)
		assert.JSONEq(t, `{"n":2}`, string(s.Value))
	})

	t.Run("inherits value by copy", func(t *testing.T) {
		_, s := e.Next(clk, due, nil)
		assert.JSONEq(t, string(e.Value), string(s.Value))

		s.Value[len(s.Value)-2] = '9'
		assert.JSONEq(t, `{"n":1}`, string(e.Value), "predecessor value must not be shared")
	})

	t.Run("from completed keeps completed", func(t *testing.T) {
		p, s := newEvent(t, event.Completed).Next(clk, due, nil)
		assert.Equal(t, event.Completed, p.State)
		assert.Equal(t, event.Scheduled, s.State)
	})
}

func TestNextDuration(t *testing.T) {
	e := newEvent(t, event.Scheduled)
	_, s := e.NextDuration(clock.NewMock(t0), 24*time.Hour, nil)
	assert.True(t, s.ScheduledAt.Equal(e.ScheduledAt.Add(24*time.Hour)))
}

func TestValidValue(t *testing.T) {
	assert.True(t, event.ValidValue(nil))
	assert.True(t, event.ValidValue(json.RawMessage(`[1,2,{"a":null}]`)))
	assert.True(t, event.ValidValue(json.RawMessage(`"text"`)))
	assert.False(t, event.ValidValue(json.RawMessage(`{"a":`)))
	assert.False(t, event.ValidValue(json.RawMessage(`{} trailing`)))

	for _, n := range []string{`1`, `42`, `3.5`, `-7`, `0`, `1e3`} {
		assert.True(t, event.ValidValue(json.RawMessage(n)), "number %s", n)
	}
}

func TestEvent_JSON(t *testing.T) {
	e := newEvent(t, event.Disabled)

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, k := range []string{"id", "key", "value", "namespace", "idempotenceKey", "state", "createdAt", "scheduledAt"} {
		assert.Contains(t, fields, k)
	}
	assert.Equal(t, "DISABLED", fields["state"])

	var back event.Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, event.Disabled, back.State)
}
