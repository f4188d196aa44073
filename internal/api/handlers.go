// Package api exposes the thin operator surface: batch trigger, backlog
// status, enqueue and reset. All business logic lives in the worker pool
// and the store; the handlers are wrappers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"domain-crawl/internal/logging"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/worker"
)

// Handler contains the HTTP handlers for the crawl service REST API.
type Handler struct {
	pool         *worker.Pool
	store        repository.DomainStore
	defaultBatch int
	logger       *logging.Logger
}

// NewHandler creates a new Handler with required dependencies. defaultBatch
// is the batch size used when a trigger request omits one.
func NewHandler(pool *worker.Pool, store repository.DomainStore, defaultBatch int, logger *logging.Logger) *Handler {
	return &Handler{pool: pool, store: store, defaultBatch: defaultBatch, logger: logger}
}

// RegisterRoutes mounts the API routes on a group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/crawl", h.HandleCrawl)
	g.GET("/status", h.HandleStatus)
	g.POST("/domains", h.HandleEnqueue)
	g.POST("/reset-failed", h.HandleResetFailed)
}

// CrawlRequest triggers processing of the next batch.
type CrawlRequest struct {
	BatchSize int `json:"batch_size"`
}

// CrawlResponse acknowledges a triggered batch.
type CrawlResponse struct {
	BatchSize int    `json:"batch_size"`
	Started   string `json:"started"`
}

// HandleCrawl kicks off up to batch_size claim→dispatch→reconcile cycles in
// the background and returns immediately; progress is visible via /status.
func (h *Handler) HandleCrawl(c echo.Context) error {
	var req CrawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BatchSize < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch_size must be positive")
	}
	if req.BatchSize == 0 {
		req.BatchSize = h.defaultBatch
	}

	go func(n int) {
		processed, err := h.pool.ProcessBatch(context.Background(), n)
		if err != nil {
			h.logger.Error("triggered batch aborted", "processed", processed, "error", err)
			return
		}
		h.logger.Info("triggered batch finished", "processed", processed, "requested", n)
	}(req.BatchSize)

	return c.JSON(http.StatusAccepted, CrawlResponse{
		BatchSize: req.BatchSize,
		Started:   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStatus returns counts per domain status plus stored responses.
func (h *Handler) HandleStatus(c echo.Context) error {
	counts, err := h.store.StatusCounts(c.Request().Context(), c.QueryParam("source"))
	if err != nil {
		h.logger.Error("status query failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "status query failed")
	}
	return c.JSON(http.StatusOK, counts)
}

// EnqueueRequest inserts one pending domain.
type EnqueueRequest struct {
	Domain string `json:"domain"`
	Source string `json:"source"`
}

// HandleEnqueue inserts a new pending domain into the backlog.
func (h *Handler) HandleEnqueue(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain is required")
	}
	d, err := h.store.InsertDomain(c.Request().Context(), req.Domain, req.Source)
	if err != nil {
		h.logger.Error("enqueue failed", "domain", req.Domain, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "enqueue failed")
	}
	return c.JSON(http.StatusCreated, d)
}

// HandleResetFailed returns failed domains to pending. Failed is terminal
// for the workers; this is the explicit external reset.
func (h *Handler) HandleResetFailed(c echo.Context) error {
	n, err := h.store.ResetFailed(c.Request().Context(), c.QueryParam("source"))
	if err != nil {
		h.logger.Error("reset-failed failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "reset failed")
	}
	return c.JSON(http.StatusOK, map[string]int64{"reset": n})
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "domain-crawl",
		Version:   "1.0.0",
	})
}
