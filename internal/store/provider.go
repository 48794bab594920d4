package store

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
)

// Backend is what a store driver returns.
type Backend struct {
	Events EventStore
	// Closer releases underlying resources (e.g. the DB pool).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	if b.Closer == nil {
		return nil
	}
	return b.Closer.Close()
}

// Driver opens a connection and returns a Backend.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Backend, error)

var (
	mu       sync.RWMutex
	registry = map[string]Driver{}
)

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = d
}

// Open selects the driver named by cfg.Driver and returns its Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Backend, error) {
	mu.RLock()
	d, ok := registry[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	return d(ctx, cfg, clk)
}

// Drivers lists the registered driver names in sorted order.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
