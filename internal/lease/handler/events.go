package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rentledger/rentledger/internal/lease/service"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventsHandler exposes read-only HTTP endpoints for the committed event log.
type EventsHandler struct {
	ledger *service.Ledger
	logger *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(ledger *service.Ledger, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{ledger: ledger, logger: logger}
}

// Register mounts the event routes on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/events")
	{
		e.GET("", h.List)
		e.GET("/verify", h.Verify)
	}
}

// List handles GET /events?from=&limit= and returns entries in commit order
// together with the current root hash.
func (h *EventsHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		badRequest(c, "from must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventLimit)))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxEventLimit)

	entries, err := h.ledger.Events(ctx, from, limit)
	if err != nil {
		writeError(c, h.logger, "failed to query events", err)
		return
	}
	root, err := h.ledger.EventsRoot(ctx)
	if err != nil {
		writeError(c, h.logger, "failed to query event root", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": entries,
		"root":   root,
	})
}

// Verify handles GET /events/verify and walks the full chain.
func (h *EventsHandler) Verify(c *gin.Context) {
	if err := h.ledger.VerifyEvents(c.Request.Context()); err != nil {
		h.logger.Warn("event chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
