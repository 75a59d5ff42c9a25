package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markethub/admission-gateway/internal/admission"
	"github.com/markethub/admission-gateway/internal/models"
)

// decisionKey is where the admission decision is stashed for the
// decision logger further down the chain.
const decisionKey = "admission_decision"

// Admission runs every request through the admission controller and
// maps the decision to rate-limit headers and rejection responses.
func Admission(controller *admission.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := &admission.RequestContext{
			SourceIP:   c.ClientIP(),
			Endpoint:   c.Request.URL.Path,
			Method:     c.Request.Method,
			UserAgent:  c.Request.UserAgent(),
			APIKey:     c.GetHeader("X-API-Key"),
			TenantID:   c.GetHeader("X-Tenant-ID"),
			ObservedAt: time.Now(),
		}

		// Authenticated callers are keyed by subject, not address.
		if apiKeyInterface, exists := c.Get("api_key"); exists && apiKeyInterface != nil {
			apiKey := apiKeyInterface.(*models.APIKey)
			rc.SubjectID = apiKey.ID.String()
			rc.SubjectTier = apiKey.Tier
		}
		if role, exists := c.Get("role"); exists {
			if r, ok := role.(string); ok {
				rc.SubjectRole = r
			}
		}

		decision := controller.CheckRequest(c.Request.Context(), rc)
		c.Set(decisionKey, decision)

		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		}
		if !decision.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		}

		if decision.Allowed {
			c.Next()
			return
		}

		if decision.Blocked {
			c.JSON(http.StatusForbidden, gin.H{
				"error":  "Request blocked",
				"reason": decision.Reason,
			})
			c.Abort()
			return
		}

		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"reason":      decision.Reason,
			"limit":       decision.Limit,
			"retry_after": retryAfter,
		})
		c.Abort()
	}
}

// DecisionFrom returns the decision stored by the Admission middleware.
func DecisionFrom(c *gin.Context) (admission.Decision, bool) {
	v, exists := c.Get(decisionKey)
	if !exists {
		return admission.Decision{}, false
	}
	decision, ok := v.(admission.Decision)
	return decision, ok
}
