package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/admission-gateway/internal/admission"
	"github.com/markethub/admission-gateway/internal/obs"
)

type mapStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string]string)}
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *mapStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *mapStore) DeletePattern(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

func newAdmissionRouter(t *testing.T) (*gin.Engine, *admission.Controller) {
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

	router := gin.New()
	router.Use(Admission(controller))
	router.GET("/api/things", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, controller
}

func get(router *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdmissionSetsRateLimitHeaders(t *testing.T) {
	router, _ := newAdmissionRouter(t)

	w := get(router, "/api/things", "192.0.2.10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestAdmissionRejectsOverLimit(t *testing.T) {
	router, _ := newAdmissionRouter(t)

	get(router, "/api/things", "192.0.2.11")
	get(router, "/api/things", "192.0.2.11")

	w := get(router, "/api/things", "192.0.2.11")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
}

func TestAdmissionBlocksBlacklisted(t *testing.T) {
	router, controller := newAdmissionRouter(t)

	require.NoError(t, controller.DenyIP(context.Background(), "192.0.2.12", "fraud", 0))

	w := get(router, "/api/things", "192.0.2.12")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "fraud")
}
