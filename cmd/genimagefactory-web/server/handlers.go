package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ascensum/genimagefactory/internal/adapter"
	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/eventbus"
)

type handlers struct {
	adapter *adapter.Adapter
	bus     *eventbus.Bus
	logger  *slog.Logger
}

func (h *handlers) listExecutions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", 50)

	execs, err := h.adapter.ExecutionGetAll(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

func (h *handlers) getExecution(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exec, err := h.adapter.ExecutionGet(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *handlers) listImages(c *gin.Context) {
	execIDStr := c.Query("executionId")
	if execIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "executionId query parameter is required"})
		return
	}
	execID, err := strconv.ParseInt(execIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid executionId"})
		return
	}
	images, err := h.adapter.ImageGetByExecution(c.Request.Context(), execID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *handlers) approveImage(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.adapter.ImageManualApprove(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func pathInt64(c *gin.Context, key string) (int64, error) {
	return strconv.ParseInt(c.Param(key), 10, 64)
}

func respondError(c *gin.Context, err error) {
	var notFound *catalog.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
