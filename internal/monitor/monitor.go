// Package monitor periodically counts overdue scheduled events. It observes
// only; it never settles or executes anything.
package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/search"
)

const instrumentationName = "github.com/jensholdgaard/event-scheduler/internal/monitor"

// Searcher runs event searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (schedule.SearchResult, error)
}

// Monitor scans the configured namespaces on a cron schedule.
type Monitor struct {
	cfg      config.MonitorConfig
	searcher Searcher
	logger   *slog.Logger
	parser   cron.Parser
	overdue  metric.Int64Gauge
}

// New validates the cron schedule and registers the overdue gauge.
func New(cfg config.MonitorConfig, searcher Searcher, logger *slog.Logger, mp metric.MeterProvider) (*Monitor, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parsing monitor schedule %q: %w", cfg.Schedule, err)
	}

	overdue, err := mp.Meter(instrumentationName).Int64Gauge("schedule.overdue_events",
		metric.WithDescription("Scheduled events whose time has passed, capped at the monitor limit."))
	if err != nil {
		return nil, fmt.Errorf("creating overdue gauge: %w", err)
	}

	return &Monitor{
		cfg:      cfg,
		searcher: searcher,
		logger:   logger,
		parser:   parser,
		overdue:  overdue,
	}, nil
}

// Scan counts the overdue events of every namespace and records them.
// A failing namespace is logged and skipped.
func (m *Monitor) Scan(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(m.cfg.Namespaces))
	for _, ns := range m.cfg.Namespaces {
		limit := m.cfg.Limit
		res, err := m.searcher.Search(ctx, search.Query{Namespace: ns, Limit: &limit})
		if err != nil {
			m.logger.ErrorContext(ctx, "overdue scan failed",
				slog.String("namespace", ns),
				slog.Any("error", err),
			)
			continue
		}

		n := len(res.Events)
		counts[ns] = n
		m.overdue.Record(ctx, int64(n), metric.WithAttributes(attribute.String("namespace", ns)))
		if n > 0 {
			m.logger.WarnContext(ctx, "overdue events",
				slog.String("namespace", ns),
				slog.Int("count", n),
			)
		}
	}
	return counts
}

// Run scans on the configured schedule until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(m.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(m.cfg.Schedule, func() { m.Scan(ctx) }); err != nil {
		return fmt.Errorf("scheduling overdue scan: %w", err)
	}

	c.Start()
	m.logger.InfoContext(ctx, "overdue monitor started",
		slog.String("schedule", m.cfg.Schedule),
		slog.Any("namespaces", m.cfg.Namespaces),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	m.logger.Info("overdue monitor stopped")
	return nil
}
