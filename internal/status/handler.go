package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	httperr "github.com/ggaccel/edgestream/internal/core/errors"
)

const defaultStreamInterval = time.Second

// Service serves the last aggregate as JSON and as a server-sent event feed.
type Service struct {
	last     *LastAggregate
	interval time.Duration
	clock    clockwork.Clock
}

// NewService returns a status service reading from last. The event feed
// checks for a newer aggregate every interval.
func NewService(last *LastAggregate, interval time.Duration, clock clockwork.Clock) *Service {
	if last == nil {
		panic("status: last aggregate must not be nil")
	}
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{last: last, interval: interval, clock: clock}
}

// RegisterRoutes registers the status routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/aggregate", s.AggregateHandler)
	r.GET("/api/v1/aggregate/stream", s.StreamHandler)
}

// AggregateHandler returns the last aggregate, or 404 before the first one.
func (s *Service) AggregateHandler(c *gin.Context) {
	agg, updated, version := s.last.snapshot()
	if version == 0 {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNoAggregateError,
			Message:   "No aggregate has been computed yet",
		})
		return
	}
	c.Header("Last-Modified", updated.Format(http.TimeFormat))
	c.JSON(http.StatusOK, agg)
}

// StreamHandler pushes every new aggregate as an "aggregate" event until the
// client goes away. The current aggregate, if any, is sent immediately.
func (s *Service) StreamHandler(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	slog.Debug("[StatusAPI] Event stream opened", "client", c.ClientIP())

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		agg, _, version := s.last.snapshot()
		if version != sent {
			data, err := json.Marshal(agg)
			if err != nil {
				slog.Error("[StatusAPI] Failed to encode aggregate", "error", err)
				return
			}
			c.SSEvent("aggregate", string(data))
			c.Writer.Flush()
			sent = version
		}

		select {
		case <-c.Request.Context().Done():
			slog.Debug("[StatusAPI] Event stream closed", "client", c.ClientIP())
			return
		case <-ticker.Chan():
		}
	}
}
