package handler

import (
	"context"
	"encoding/json"
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

// mapStore is a minimal CounterStore for handler tests. TTLs are
// ignored; nothing here outlives a test.
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

func newRuleRouter() (*gin.Engine, *admission.Controller) {
	gin.SetMode(gin.TestMode)

	metrics := obs.NewMetrics(prometheus.NewRegistry())
	controller := admission.NewController(newMapStore(), admission.Config{}, zerolog.Nop(), metrics)

	h := NewRuleHandler(controller)
	router := gin.New()
	router.POST("/admin/rules", h.Create)
	router.GET("/admin/rules", h.List)
	router.GET("/admin/rules/:id", h.Get)
	router.PATCH("/admin/rules/:id", h.Update)
	router.DELETE("/admin/rules/:id", h.Delete)
	return router, controller
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateRule(t *testing.T) {
	router, _ := newRuleRouter()

	w := doJSON(router, http.MethodPost, "/admin/rules", `{
		"name": "listings-write",
		"window_ms": 60000,
		"max_requests": 30,
		"priority": 40,
		"endpoint_pattern": "/api/listings/*",
		"method": "POST"
	}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created admission.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "listings-write", created.Name)
	assert.Equal(t, time.Minute, created.Window)
	assert.True(t, created.Enabled)
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	router, _ := newRuleRouter()

	// Binding failure: window_ms missing.
	w := doJSON(router, http.MethodPost, "/admin/rules", `{"name": "x", "max_requests": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Validation failure: unknown backoff policy.
	w = doJSON(router, http.MethodPost, "/admin/rules", `{
		"name": "x", "window_ms": 60000, "max_requests": 5, "backoff": "sideways"
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRuleNotFound(t *testing.T) {
	router, _ := newRuleRouter()

	w := doJSON(router, http.MethodGet, "/admin/rules/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRule(t *testing.T) {
	router, controller := newRuleRouter()

	created, err := controller.AddRule(context.Background(), &admission.Rule{
		Name:        "search",
		Window:      time.Minute,
		MaxRequests: 10,
		Enabled:     true,
	})
	require.NoError(t, err)

	// The patch takes window_ms in milliseconds, same as create.
	w := doJSON(router, http.MethodPatch, "/admin/rules/"+created.ID, `{"max_requests": 99, "window_ms": 120000}`)
	require.Equal(t, http.StatusOK, w.Code)

	var updated admission.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 99, updated.MaxRequests)
	assert.Equal(t, 2*time.Minute, updated.Window)

	w = doJSON(router, http.MethodPatch, "/admin/rules/ghost", `{"max_requests": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodPatch, "/admin/rules/"+created.ID, `{"max_requests": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRule(t *testing.T) {
	router, controller := newRuleRouter()

	created, err := controller.AddRule(context.Background(), &admission.Rule{
		Name:        "temp",
		Window:      time.Minute,
		MaxRequests: 1,
		Enabled:     true,
	})
	require.NoError(t, err)

	w := doJSON(router, http.MethodDelete, "/admin/rules/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodDelete, "/admin/rules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
