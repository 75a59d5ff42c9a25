package middleware

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/admission-gateway/internal/admission"
	"github.com/markethub/admission-gateway/internal/models"
	"github.com/markethub/admission-gateway/internal/obs"
)

type memLogStore struct {
	mu   sync.Mutex
	logs []models.DecisionLog
}

func (s *memLogStore) CreateBatch(_ context.Context, logs []models.DecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

func (s *memLogStore) all() []models.DecisionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DecisionLog(nil), s.logs...)
}

// Mirrors the server's chain: the logger wraps Admission so it observes
// the decision even when Admission aborts.
func newLoggedRouter(t *testing.T) (*gin.Engine, *DecisionLogger, *memLogStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := obs.NewMetrics(prometheus.NewRegistry())
	controller := admission.NewController(newMapStore(), admission.Config{}, zerolog.Nop(), metrics)

	_, err := controller.AddRule(context.Background(), &admission.Rule{
		Name:            "tight",
		Window:          time.Minute,
		MaxRequests:     2,
		Priority:        50,
		Enabled:         true,
		EndpointPattern: "/api/things*",
	})
	require.NoError(t, err)

	store := &memLogStore{}
	dl := NewDecisionLogger(store, 10, zerolog.Nop())

	router := gin.New()
	router.Use(dl.Middleware())
	router.Use(Admission(controller))
	router.GET("/api/things", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, dl, store
}

func TestDecisionLoggerRecordsDenials(t *testing.T) {
	router, dl, store := newLoggedRouter(t)

	get(router, "/api/things", "192.0.2.20")
	get(router, "/api/things", "192.0.2.20")
	w := get(router, "/api/things", "192.0.2.20")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Stop drains the channel and flushes the batch.
	dl.Stop()

	logs := store.all()
	require.Len(t, logs, 3)

	denied := 0
	for _, entry := range logs {
		if !entry.Allowed {
			denied++
			assert.Equal(t, admission.ReasonRateLimited, entry.Reason)
			assert.Equal(t, "/api/things", entry.Endpoint)
			assert.Equal(t, "192.0.2.20", entry.SourceIP)
		}
	}
	assert.Equal(t, 1, denied)
}

func TestDecisionLoggerRecordsAllowedOutcome(t *testing.T) {
	router, dl, store := newLoggedRouter(t)

	w := get(router, "/api/things", "192.0.2.21")
	require.Equal(t, http.StatusOK, w.Code)

	dl.Stop()

	logs := store.all()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Allowed)
	assert.Equal(t, 2, logs[0].LimitValue)
	assert.Equal(t, 1, logs[0].Remaining)
}
