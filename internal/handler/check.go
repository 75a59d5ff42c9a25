package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markethub/admission-gateway/internal/admission"
)

// CheckHandler exposes the admission check to other services that
// enforce decisions themselves instead of sitting behind the gateway's
// middleware.
type CheckHandler struct {
	controller *admission.Controller
}

func NewCheckHandler(controller *admission.Controller) *CheckHandler {
	return &CheckHandler{controller: controller}
}

// Handles POST /v1/check
func (h *CheckHandler) Check(c *gin.Context) {
	var rc admission.RequestContext
	if err := c.ShouldBindJSON(&rc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if rc.SourceIP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_ip is required"})
		return
	}
	if rc.ObservedAt.IsZero() {
		rc.ObservedAt = time.Now()
	}

	decision := h.controller.CheckRequest(c.Request.Context(), &rc)
	c.JSON(http.StatusOK, decision)
}
