// Package leader elects one schedulerd replica through a Kubernetes Lease
// and runs the singleton background job on it.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/event-scheduler/internal/config"
)

const instrumentationName = "github.com/jensholdgaard/event-scheduler/internal/leader"

// identity names this replica: POD_NAME when set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates the Kubernetes clientset. Tests replace it.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Elector campaigns for the configured Lease.
type Elector struct {
	cfg     config.LeaderElectionConfig
	logger  *slog.Logger
	id      string
	leading atomic.Bool
}

// New returns an Elector for this replica and reports its leadership on the
// leader.is_leader gauge.
func New(cfg config.LeaderElectionConfig, logger *slog.Logger, mp metric.MeterProvider) (*Elector, error) {
	e := &Elector{cfg: cfg, logger: logger, id: identity()}

	attrs := metric.WithAttributes(
		attribute.String("lease", cfg.LeaseName),
		attribute.String("identity", e.id),
	)
	_, err := mp.Meter(instrumentationName).Int64ObservableGauge("leader.is_leader",
		metric.WithDescription("1 while this replica holds the lease."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if e.leading.Load() {
				v = 1
			}
			o.Observe(v, attrs)
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating leader gauge: %w", err)
	}
	return e, nil
}

// Identity is the name this replica campaigns under.
func (e *Elector) Identity() string { return e.id }

// Leading reports whether this replica currently holds the lease.
func (e *Elector) Leading() bool { return e.leading.Load() }

// Run campaigns until ctx is done. job runs each time this replica gains
// the lease and must return once its context is canceled, which happens
// when the lease is lost.
func (e *Elector) Run(ctx context.Context, job func(ctx context.Context)) error {
	log := e.logger.With(slog.String("identity", e.id), slog.String("lease", e.cfg.LeaseName))
	log.InfoContext(ctx, "starting leader election", slog.String("namespace", e.cfg.LeaseNamespace))

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta: metav1.ObjectMeta{
				Name:      e.cfg.LeaseName,
				Namespace: e.cfg.LeaseNamespace,
			},
			Client:     client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{Identity: e.id},
		},
		Name:            e.cfg.LeaseName,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.leading.Store(true)
				log.InfoContext(ctx, "acquired leadership")
				job(ctx)
			},
			OnStoppedLeading: func() {
				e.leading.Store(false)
				log.Info("released leadership")
			},
			OnNewLeader: func(holder string) {
				if holder != e.id {
					log.Info("following leader", slog.String("leader", holder))
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	// elector.Run returns when leadership ends; campaign again until shutdown.
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}
