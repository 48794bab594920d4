package monitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/monitor"
	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
	"github.com/jensholdgaard/event-scheduler/internal/store/memstore"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0      = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func gauge(t *testing.T, reader *sdkmetric.ManualReader, namespace string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "schedule.overdue_events" {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range g.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("namespace")); ok && v.AsString() == namespace {
					return dp.Value, true
				}
			}
		}
	}
	return 0, false
}

func TestScan(t *testing.T) {
	clk := clock.NewMock(t0)
	mgr, err := schedule.NewManager(memstore.New(clk), clk, discard, noop.NewTracerProvider(), sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	for i, key := range []string{"a", "b", "c"} {
		_, err := mgr.Schedule(ctx, store.CreateRequest{Key: key, Namespace: "billing", ScheduleAt: t0.Add(time.Duration(i-2) * time.Minute)})
		require.NoError(t, err)
	}
	_, err = mgr.Schedule(ctx, store.CreateRequest{Key: "later", Namespace: "billing", ScheduleAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	cfg := config.MonitorConfig{Schedule: "@every 1m", Namespaces: []string{"billing", "reports"}, Limit: 2}
	m, err := monitor.New(cfg, mgr, discard, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	counts := m.Scan(ctx)
	assert.Equal(t, map[string]int{"billing": 2, "reports": 0}, counts, "counts are capped at the limit")

	v, ok := gauge(t, reader, "billing")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)
	v, ok = gauge(t, reader, "reports")
	require.True(t, ok)
	assert.Equal(t, int64(0), v)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := monitor.New(config.MonitorConfig{Schedule: "every now and then"}, nil, discard, sdkmetric.NewMeterProvider())
	assert.Error(t, err)
}

type countingSearcher struct {
	calls atomic.Int32
	err   error
}

func (s *countingSearcher) Search(context.Context, search.Query) (schedule.SearchResult, error) {
	s.calls.Add(1)
	return schedule.SearchResult{}, s.err
}

func TestScan_SkipsFailingNamespace(t *testing.T) {
	s := &countingSearcher{err: errors.New("store down")}
	m, err := monitor.New(config.MonitorConfig{Schedule: "@every 1m", Namespaces: []string{"a", "b"}, Limit: 10}, s, discard, sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	assert.Empty(t, m.Scan(context.Background()))
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestRun(t *testing.T) {
	s := &countingSearcher{}
	m, err := monitor.New(config.MonitorConfig{Schedule: "@every 1s", Namespaces: []string{"a"}, Limit: 10}, s, discard, sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return s.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
