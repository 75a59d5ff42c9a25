package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markethub/admission-gateway/internal/admission"
)

type RuleHandler struct {
	controller *admission.Controller
}

func NewRuleHandler(controller *admission.Controller) *RuleHandler {
	return &RuleHandler{controller: controller}
}

type ruleRequest struct {
	Name            string            `json:"name" binding:"required"`
	WindowMs        int64             `json:"window_ms" binding:"required"`
	MaxRequests     int               `json:"max_requests" binding:"required"`
	Priority        int               `json:"priority"`
	Enabled         *bool             `json:"enabled"`
	Tier            string            `json:"tier"`
	EndpointPattern string            `json:"endpoint_pattern"`
	Method          string            `json:"method"`
	UserRole        string            `json:"user_role"`
	IPAllowList     []string          `json:"ip_allow_list"`
	IPDenyList      []string          `json:"ip_deny_list"`
	CustomKey       string            `json:"custom_key"`
	BurstAllowance  int               `json:"burst_allowance"`
	QueueCapacity   int               `json:"queue_capacity"`
	Backoff         string            `json:"backoff"`
	Metadata        map[string]string `json:"metadata"`
}

// Handles POST /admin/rules
func (h *RuleHandler) Create(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &admission.Rule{
		Name:            req.Name,
		Window:          time.Duration(req.WindowMs) * time.Millisecond,
		MaxRequests:     req.MaxRequests,
		Priority:        req.Priority,
		Enabled:         enabled,
		Tier:            req.Tier,
		EndpointPattern: req.EndpointPattern,
		Method:          req.Method,
		UserRole:        req.UserRole,
		IPAllowList:     req.IPAllowList,
		IPDenyList:      req.IPDenyList,
		CustomKey:       req.CustomKey,
		BurstAllowance:  req.BurstAllowance,
		QueueCapacity:   req.QueueCapacity,
		Backoff:         admission.BackoffPolicy(req.Backoff),
		Metadata:        req.Metadata,
	}

	ctx := c.Request.Context()
	created, err := h.controller.AddRule(ctx, rule)
	if err != nil {
		status := http.StatusInternalServerError
		var invalid *admission.InvalidRuleError
		if errors.As(err, &invalid) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Handles GET /admin/rules
func (h *RuleHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.ListRules())
}

// Handles GET /admin/rules/:id
func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.controller.GetRule(c.Param("id"))
	if err != nil {
		if errors.Is(err, admission.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// rulePatchRequest mirrors ruleRequest field for field so both admin
// endpoints take the window in milliseconds.
type rulePatchRequest struct {
	Name            *string            `json:"name"`
	WindowMs        *int64             `json:"window_ms"`
	MaxRequests     *int               `json:"max_requests"`
	Priority        *int               `json:"priority"`
	Enabled         *bool              `json:"enabled"`
	Tier            *string            `json:"tier"`
	EndpointPattern *string            `json:"endpoint_pattern"`
	Method          *string            `json:"method"`
	UserRole        *string            `json:"user_role"`
	IPAllowList     *[]string          `json:"ip_allow_list"`
	IPDenyList      *[]string          `json:"ip_deny_list"`
	CustomKey       *string            `json:"custom_key"`
	BurstAllowance  *int               `json:"burst_allowance"`
	QueueCapacity   *int               `json:"queue_capacity"`
	Backoff         *string            `json:"backoff"`
	Metadata        *map[string]string `json:"metadata"`
}

func (r *rulePatchRequest) toPatch() *admission.RulePatch {
	patch := &admission.RulePatch{
		Name:            r.Name,
		MaxRequests:     r.MaxRequests,
		Priority:        r.Priority,
		Enabled:         r.Enabled,
		Tier:            r.Tier,
		EndpointPattern: r.EndpointPattern,
		Method:          r.Method,
		UserRole:        r.UserRole,
		IPAllowList:     r.IPAllowList,
		IPDenyList:      r.IPDenyList,
		CustomKey:       r.CustomKey,
		BurstAllowance:  r.BurstAllowance,
		QueueCapacity:   r.QueueCapacity,
		Metadata:        r.Metadata,
	}
	if r.WindowMs != nil {
		window := time.Duration(*r.WindowMs) * time.Millisecond
		patch.Window = &window
	}
	if r.Backoff != nil {
		policy := admission.BackoffPolicy(*r.Backoff)
		patch.Backoff = &policy
	}
	return patch
}

// Handles PATCH /admin/rules/:id
func (h *RuleHandler) Update(c *gin.Context) {
	var req rulePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := req.toPatch()

	ctx := c.Request.Context()
	updated, err := h.controller.UpdateRule(ctx, c.Param("id"), patch)
	if err != nil {
		if errors.Is(err, admission.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		var invalid *admission.InvalidRuleError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, updated)
}

// Handles DELETE /admin/rules/:id
func (h *RuleHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.controller.DeleteRule(ctx, c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}
