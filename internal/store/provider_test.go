package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
	"github.com/jensholdgaard/event-scheduler/internal/config"
	"github.com/jensholdgaard/event-scheduler/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/event-scheduler/internal/store/memstore"
	_ "github.com/jensholdgaard/event-scheduler/internal/store/postgres"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (*store.Backend, error) {
	return &store.Backend{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:    "registered driver succeeds",
			driver:  "test-driver",
			wantErr: false,
		},
		{
			name:    "memory driver succeeds",
			driver:  "memory",
			wantErr: false,
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			b, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if err == nil {
				if closeErr := b.Close(); closeErr != nil {
					t.Errorf("Close: %v", closeErr)
				}
			}
		})
	}
}

func TestOpen_PostgresRegistered(t *testing.T) {
	// Nothing listens on port 1, so the driver is found but cannot connect.
	cfg := config.DatabaseConfig{
		Driver:    "postgres",
		SQLDriver: "pq",
		Host:      "127.0.0.1",
		Port:      1,
		User:      "test",
		DBName:    "test",
		SSLMode:   "disable",
	}
	_, err := store.Open(context.Background(), cfg, clock.Real{})
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
	if !errors.Is(err, store.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestDrivers(t *testing.T) {
	names := store.Drivers()
	for _, want := range []string{"memory", "postgres"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Drivers() = %v, missing %q", names, want)
		}
	}
}
