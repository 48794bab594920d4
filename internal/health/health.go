// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/event-scheduler/internal/clock"
)

// CheckTimeout bounds each readiness check.
const CheckTimeout = 5 * time.Second

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides the health endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	checkers []Checker
	clock    clock.Clock
	started  time.Time
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, started: clk.Now()}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

// Liveness answers 200 while the process is alive.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.status("ok", nil))
}

// Readiness answers 200 when the service is marked ready and every checker
// passes; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if !ready {
		c.JSON(http.StatusServiceUnavailable, h.status("not_ready", nil))
		return
	}

	checks, ok := h.runChecks(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, h.status("not_ready", checks))
		return
	}
	c.JSON(http.StatusOK, h.status("ready", checks))
}

// runChecks runs all checkers concurrently.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, chk := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()

			result := "ok"
			if err := chk.Check(cctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			checks[chk.Name] = result
			if result != "ok" {
				allOK = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return checks, allOK
}

func (h *Handler) status(s string, checks map[string]string) Status {
	now := h.clock.Now()
	return Status{
		Status:    s,
		Checks:    checks,
		Uptime:    now.Sub(h.started).Truncate(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}
