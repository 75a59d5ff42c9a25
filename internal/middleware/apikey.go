package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/markethub/admission-gateway/internal/models"
)

// APIKeyStore resolves and touches API keys for the validator,
// satisfied by service.APIKeyService.
type APIKeyStore interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// APIKeyValidator resolves an X-API-Key header to its account and
// exposes it to the admission middleware. Requests without a key pass
// through anonymously and are keyed by source address instead.
func APIKeyValidator(apiKeyService APIKeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKeyHeader := c.GetHeader("X-API-Key")

		if apiKeyHeader == "" {
			c.Next()
			return
		}

		apiKeyHeader = strings.TrimSpace(apiKeyHeader)

		ctx := c.Request.Context()
		apiKey, err := apiKeyService.Validate(ctx, apiKeyHeader)

		if err != nil || apiKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set("api_key", apiKey)
		c.Set("api_key_id", apiKey.ID)
		c.Set("api_key_tier", apiKey.Tier)

		// Detached from the request context: the update must not be
		// cancelled when the response finishes first.
		go func(id uuid.UUID) {
			touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			apiKeyService.UpdateLastUsed(touchCtx, id)
		}(apiKey.ID)

		c.Next()
	}
}
