package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markethub/admission-gateway/internal/models"
)

// DecisionLogStore is the sink the logger batch-inserts into, satisfied
// by repository.DecisionLogRepository.
type DecisionLogStore interface {
	CreateBatch(ctx context.Context, logs []models.DecisionLog) error
}

// DecisionLogger persists admission decisions asynchronously: entries
// go to a buffered channel and a background worker batch-inserts them.
// When the channel is full the entry is dropped rather than blocking
// the request path.
type DecisionLogger struct {
	entries chan models.DecisionLog
	repo    DecisionLogStore
	log     zerolog.Logger

	stopOnce chan struct{}
	done     chan struct{}
}

func NewDecisionLogger(repo DecisionLogStore, bufferSize int, log zerolog.Logger) *DecisionLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	dl := &DecisionLogger{
		entries:  make(chan models.DecisionLog, bufferSize),
		repo:     repo,
		log:      log.With().Str("component", "decision_logger").Logger(),
		stopOnce: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go dl.worker()
	return dl
}

func (dl *DecisionLogger) worker() {
	defer close(dl.done)

	batch := make([]models.DecisionLog, 0, 100)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := dl.repo.CreateBatch(context.Background(), batch); err != nil {
			dl.log.Warn().Err(err).Int("batch", len(batch)).Msg("failed to insert decision logs")
		}
		batch = make([]models.DecisionLog, 0, 100)
	}

	for {
		select {
		case entry := <-dl.entries:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-dl.stopOnce:
			// Drain whatever is already queued, then flush.
			for {
				select {
				case entry := <-dl.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop flushes pending entries and halts the worker.
func (dl *DecisionLogger) Stop() {
	close(dl.stopOnce)
	<-dl.done
}

// Middleware records the decision stashed by the Admission middleware.
func (dl *DecisionLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		decision, ok := DecisionFrom(c)
		if !ok {
			return
		}

		var apiKeyID *uuid.UUID
		if v, exists := c.Get("api_key_id"); exists {
			if id, ok := v.(uuid.UUID); ok {
				apiKeyID = &id
			}
		}

		entry := models.DecisionLog{
			Timestamp:   time.Now(),
			APIKeyID:    apiKeyID,
			SubjectTier: c.GetString("api_key_tier"),
			Method:      c.Request.Method,
			Endpoint:    c.Request.URL.Path,
			SourceIP:    c.ClientIP(),
			Allowed:     decision.Allowed,
			Blocked:     decision.Blocked,
			Throttled:   decision.Throttled,
			Degraded:    decision.Degraded,
			MatchedRule: decision.MatchedRule,
			Reason:      decision.Reason,
			LimitValue:  decision.Limit,
			Remaining:   decision.Remaining,
		}

		select {
		case dl.entries <- entry:
		default:
			dl.log.Debug().Msg("decision log channel full, dropping entry")
		}
	}
}
