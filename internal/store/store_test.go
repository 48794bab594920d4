package store_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

func TestCreateRequest_Validate(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		req     store.CreateRequest
		wantErr bool
	}{
		{name: "valid", req: store.CreateRequest{Key: "k", Namespace: "ns", ScheduleAt: at}},
		{name: "valid with value", req: store.CreateRequest{Key: "k", Namespace: "ns", ScheduleAt: at, Value: json.RawMessage(`{"a":1}`)}},
		{name: "missing key", req: store.CreateRequest{Namespace: "ns", ScheduleAt: at}, wantErr: true},
		{name: "missing namespace", req: store.CreateRequest{Key: "k", ScheduleAt: at}, wantErr: true},
		{name: "missing time", req: store.CreateRequest{Key: "k", Namespace: "ns"}, wantErr: true},
		{name: "broken value", req: store.CreateRequest{Key: "k", Namespace: "ns", ScheduleAt: at, Value: json.RawMessage(`{"a":`)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettleRequest_Validate(t *testing.T) {
	id := uuid.New()
	assert.NoError(t, store.SettleRequest{Key: "k", Namespace: "ns", ID: id, State: event.Completed}.Validate())
	assert.NoError(t, store.SettleRequest{Key: "k", Namespace: "ns", ID: id, State: event.Scheduled}.Validate(),
		"requesting Scheduled is rejected by the store, not by validation")
	assert.Error(t, store.SettleRequest{Key: "k", Namespace: "ns", State: event.Completed}.Validate())
	assert.Error(t, store.SettleRequest{Key: "k", Namespace: "ns", ID: id}.Validate())
}

func TestSettleAndNextRequest_Wire(t *testing.T) {
	body := `{"id":"6f1c1b0e-58a8-4a4e-9a43-2d0f0f3c9a11","state":"disabled",
		"next":{"key":"job1","namespace":"ns","scheduleAt":"2025-03-01T10:00:00Z","value":{"n":2}}}`

	var req store.SettleAndNextRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, req.Validate())
	assert.Equal(t, event.Disabled, req.State)
	assert.Equal(t, "job1", req.Next.Key)
	assert.JSONEq(t, `{"n":2}`, string(req.Next.Value))

	req.Next.Key = ""
	assert.ErrorContains(t, req.Validate(), "next")
}
