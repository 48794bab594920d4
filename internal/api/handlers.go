package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jensholdgaard/event-scheduler/internal/event"
	"github.com/jensholdgaard/event-scheduler/internal/schedule"
	"github.com/jensholdgaard/event-scheduler/internal/search"
	"github.com/jensholdgaard/event-scheduler/internal/store"
)

// searchResponse echoes the resolved query next to its results.
type searchResponse struct {
	Namespace      string        `json:"namespace"`
	State          []event.State `json:"state"`
	ScheduledAtMin time.Time     `json:"scheduledAtMin"`
	ScheduledAtMax time.Time     `json:"scheduledAtMax"`
	Limit          int           `json:"limit"`
	Events         []event.Event `json:"events"`
}

// advanceRequest is the wire form of schedule.AdvanceRequest.
type advanceRequest struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	ID        uuid.UUID       `json:"id"`
	Interval  string          `json:"interval"`
	Value     json.RawMessage `json:"value,omitempty"`
}

func (r advanceRequest) toDomain() (schedule.AdvanceRequest, error) {
	d, err := time.ParseDuration(r.Interval)
	if err != nil {
		return schedule.AdvanceRequest{}, fmt.Errorf("invalid interval %q: %w", r.Interval, err)
	}
	return schedule.AdvanceRequest{
		Namespace: r.Namespace,
		Key:       r.Key,
		ID:        r.ID,
		Interval:  d,
		Value:     r.Value,
	}, nil
}

func (s *Server) handleSchedule(c *gin.Context) {
	var req store.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.sched.Schedule(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleSearch(c *gin.Context) {
	var q search.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sched.Search(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	events := res.Events
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, searchResponse{
		Namespace:      res.Query.Namespace,
		State:          res.Query.States,
		ScheduledAtMin: res.Query.Min,
		ScheduledAtMax: res.Query.Max,
		Limit:          res.Query.Limit,
		Events:         events,
	})
}

func (s *Server) handleSettle(c *gin.Context) {
	var req store.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.sched.Settle(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleSettleAndNext(c *gin.Context) {
	var req store.SettleAndNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.sched.SettleAndNext(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleAdvance(c *gin.Context) {
	var wire advanceRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		badRequest(c, err)
		return
	}
	req, err := wire.toDomain()
	if err != nil {
		badRequest(c, err)
		return
	}
	e, err := s.sched.Advance(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid id: %w", err))
		return
	}
	e, err := s.sched.Get(c.Request.Context(), c.Param("namespace"), c.Param("key"), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
