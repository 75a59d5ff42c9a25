package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markethub/admission-gateway/internal/admission"
)

type ReputationHandler struct {
	controller *admission.Controller
}

func NewReputationHandler(controller *admission.Controller) *ReputationHandler {
	return &ReputationHandler{controller: controller}
}

// Handles POST /admin/reputation/allow
func (h *ReputationHandler) Allow(c *gin.Context) {
	var req struct {
		IP         string `json:"ip" binding:"required"`
		TTLSeconds int    `json:"ttl_seconds" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.controller.AllowIP(ctx, req.IP, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "IP whitelisted", "ip": req.IP})
}

// Handles POST /admin/reputation/deny
func (h *ReputationHandler) Deny(c *gin.Context) {
	var req struct {
		IP         string `json:"ip" binding:"required"`
		Reason     string `json:"reason"`
		TTLSeconds int    `json:"ttl_seconds" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.controller.DenyIP(ctx, req.IP, req.Reason, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "IP blacklisted", "ip": req.IP})
}

// Handles GET /admin/reputation/:ip
func (h *ReputationHandler) Check(c *gin.Context) {
	ip := c.Param("ip")
	ctx := c.Request.Context()

	allowed, err := h.controller.IsAllowed(ctx, ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	denied, reason, err := h.controller.IsDenied(ctx, ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ip":          ip,
		"whitelisted": allowed,
		"blacklisted": denied,
		"reason":      reason,
	})
}
