package main

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/jensholdgaard/event-scheduler/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServe_InvalidMonitorScheduleStartsNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Log.Level = "error"
	cfg.Server.Port = freePort(t)
	cfg.Monitor.Enabled = true
	cfg.Monitor.Schedule = "whenever it suits"
	cfg.Monitor.Namespaces = []string{"ns"}

	err := serve(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "creating monitor") {
		t.Fatalf("serve() error = %v, want monitor error", err)
	}

	// The port must still be free: no listener was left behind.
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		t.Fatalf("port %d still in use after serve failed: %v", cfg.Server.Port, err)
	}
	l.Close()
}
