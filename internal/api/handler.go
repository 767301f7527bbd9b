// Package api exposes the aggregator over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aggregator/internal/constants"
	"aggregator/internal/event"
	"aggregator/internal/ingest"
	"aggregator/internal/logger"
	"aggregator/internal/store"
	"aggregator/pkg/errors"
	"aggregator/pkg/health"
)

// ProcessorState is the read side of the event processor used by handlers.
type ProcessorState interface {
	QueueSize() int
	BatchSize() int
	Uptime() time.Duration
}

// Submitter admits raw submissions.
type Submitter interface {
	SubmitRaw(ctx context.Context, transport string, body []byte) (int, error)
}

type Handler struct {
	submitter Submitter
	store     store.Store
	processor ProcessorState
	health    *health.CheckerRegistry
	logger    logger.Logger
}

func NewHandler(submitter Submitter, s store.Store, p ProcessorState, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	return &Handler{
		submitter: submitter,
		store:     s,
		processor: p,
		health:    checks,
		logger:    log,
	}
}

// RegisterRoutes mounts the API. publishMiddleware guards /publish only;
// read endpoints stay reachable while producers are being throttled.
func (h *Handler) RegisterRoutes(router gin.IRouter, publishMiddleware ...gin.HandlerFunc) {
	publish := make([]gin.HandlerFunc, 0, len(publishMiddleware)+1)
	publish = append(publish, publishMiddleware...)
	router.POST("/publish", append(publish, h.Publish)...)
	router.GET("/events", h.ListEvents)
	router.GET("/stats", h.Stats)
	router.GET("/health", h.Health)
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

type PublishResponse struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Publish godoc
// @Summary      Publish events
// @Description  Accepts a single event, {"events": [...]} or a bare array. Either every event is queued or none is.
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        events  body      event.Record  true  "Event or batch of events"
// @Success      202     {object}  PublishResponse
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      503     {object}  errors.ErrorResponse
// @Router       /publish [post]
func (h *Handler) Publish(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "failed to read request body").WithCause(err))
		return
	}

	count, err := h.submitter.SubmitRaw(c.Request.Context(), ingest.TransportHTTP, body)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, PublishResponse{
		Status:  "accepted",
		Count:   count,
		Message: fmt.Sprintf("%d event(s) queued for processing", count),
	})
}

type EventsResponse struct {
	Count  int            `json:"count"`
	Events []event.Stored `json:"events"`
}

// ListEvents godoc
// @Summary      List stored events
// @Description  Most recently received first, optionally filtered by topic
// @Tags         events
// @Produce      json
// @Param        topic  query     string  false  "Topic filter"
// @Param        limit  query     int     false  "Maximum number of events (1-1000)"  default(100)
// @Success      200    {object}  EventsResponse
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /events [get]
func (h *Handler) ListEvents(c *gin.Context) {
	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > constants.MaxLimit {
			h.HandleError(c, errors.ErrValidation.
				WithDetail("message", fmt.Sprintf("limit must be an integer between 1 and %d", constants.MaxLimit)).
				WithDetail("limit", raw))
			return
		}
		limit = n
	}

	events, err := h.store.List(c.Request.Context(), store.Query{Topic: c.Query("topic"), Limit: limit})
	if err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err))
		return
	}
	if events == nil {
		events = []event.Stored{}
	}

	c.JSON(http.StatusOK, EventsResponse{Count: len(events), Events: events})
}

type StatsResponse struct {
	Received         int64     `json:"received"`
	UniqueProcessed  int64     `json:"unique_processed"`
	DuplicateDropped int64     `json:"duplicate_dropped"`
	Topics           []string  `json:"topics"`
	Uptime           float64   `json:"uptime"`
	QueueSize        int       `json:"queue_size"`
	BatchSize        int       `json:"batch_size"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Stats godoc
// @Summary      Aggregator statistics
// @Description  Cumulative counters, known topics and processor state. Uptime is in seconds.
// @Tags         stats
// @Produce      json
// @Success      200  {object}  StatsResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	st, err := h.store.Stats(ctx)
	if err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err))
		return
	}

	topics, err := h.store.Topics(ctx)
	if err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err))
		return
	}
	if topics == nil {
		topics = []string{}
	}

	c.JSON(http.StatusOK, StatsResponse{
		Received:         st.Received,
		UniqueProcessed:  st.UniqueProcessed,
		DuplicateDropped: st.DuplicateDropped,
		Topics:           topics,
		Uptime:           h.processor.Uptime().Seconds(),
		QueueSize:        h.processor.QueueSize(),
		BatchSize:        h.processor.BatchSize(),
		LastUpdated:      st.LastUpdated,
	})
}

type HealthResponse struct {
	Status    health.Status                 `json:"status"`
	Timestamp time.Time                     `json:"timestamp"`
	QueueSize int                           `json:"queue_size"`
	Checks    map[string]health.CheckResult `json:"checks,omitempty"`
}

// Health godoc
// @Summary      Liveness and dependency health
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC(),
		QueueSize: h.processor.QueueSize(),
	}

	if h.health != nil {
		result := h.health.Check(c.Request.Context())
		resp.Status = result.Status
		resp.Checks = result.Checks
	}

	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
