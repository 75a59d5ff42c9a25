package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/markethub/admission-gateway/internal/admission"
)

type StatsHandler struct {
	controller *admission.Controller
}

func NewStatsHandler(controller *admission.Controller) *StatsHandler {
	return &StatsHandler{controller: controller}
}

// Handles GET /admin/stats?window=60
func (h *StatsHandler) Get(c *gin.Context) {
	window := 60
	if windowStr := c.Query("window"); windowStr != "" {
		if w, err := strconv.Atoi(windowStr); err == nil && w > 0 {
			window = w
		}
	}

	ctx := c.Request.Context()
	stats, err := h.controller.Statistics(ctx, window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Handles GET /admin/stats/load
func (h *StatsHandler) SystemLoad(c *gin.Context) {
	loadStat, err := h.controller.SystemLoad()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, loadStat)
}

// Handles GET /admin/quota?key=...&rule=...
func (h *StatsHandler) RemainingQuota(c *gin.Context) {
	key := c.Query("key")
	ruleID := c.Query("rule")
	if key == "" || ruleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and rule query parameters are required"})
		return
	}

	ctx := c.Request.Context()
	remaining, err := h.controller.RemainingQuota(ctx, key, ruleID)
	if err != nil {
		if errors.Is(err, admission.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "rule": ruleID, "remaining": remaining})
}

// Handles DELETE /admin/quota?key=...
// The key is a query parameter because composite keys contain slashes.
func (h *StatsHandler) ResetKey(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key query parameter is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.controller.ResetKey(ctx, key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Counters reset", "key": key})
}
