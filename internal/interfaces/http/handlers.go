package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syncbridge/syncbridge/pkg/errors"
)

type handler struct {
	queue  EventService
	sync   SyncTrigger
	server *Server
}

// errorBody is the standard error response shape.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps structured error codes to HTTP statuses; unclassified
// errors are masked as 500s.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	message := err.Error()

	switch code {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeValidation, errors.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeTooManyRequests:
		status = http.StatusTooManyRequests
	case errors.ErrCodeServiceUnavailable:
		status = http.StatusServiceUnavailable
	case errors.ErrCodeSyncInvalidOption:
		status = http.StatusBadRequest
	default:
		message = "internal server error"
	}
	c.JSON(status, errorBody{Code: string(code), Message: message})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.server.started).String(),
	})
}

func (h *handler) eventStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Status())
}

func (h *handler) recentEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"entries": h.queue.Recent(limit)})
}

// enqueueRequest mirrors the kafka ingest envelope.
type enqueueRequest struct {
	Identity string          `json:"identity" binding:"required"`
	Category string          `json:"category"`
	Source   string          `json:"source"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *handler) enqueueEvent(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Validation("invalid event envelope"))
		return
	}
	source := req.Source
	if source == "" {
		source = "http"
	}

	res := h.queue.Enqueue(req.Identity, req.Payload, req.Category, source)
	if !res.Queued {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *handler) reprocessEvent(c *gin.Context) {
	identity := c.Param("identity")
	if !h.queue.ForceReprocess(identity) {
		respondError(c, errors.NotFound("no cached entry for identity"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "cleared": true})
}

// syncRequest is the body of POST /api/v1/sync.
type syncRequest struct {
	Keys  []string `json:"keys" binding:"required"`
	Force bool     `json:"force"`
}

func (h *handler) triggerSync(c *gin.Context) {
	if h.sync == nil {
		respondError(c, errors.Unavailable("sync is not configured"))
		return
	}
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Validation("keys are required"))
		return
	}

	sum, err := h.sync.Run(c.Request.Context(), req.Keys, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
