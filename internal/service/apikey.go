package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markethub/admission-gateway/internal/models"
	"github.com/markethub/admission-gateway/internal/repository"
)

// KeyCache is the slice of the counter store the key service needs for
// its validation cache.
type KeyCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type APIKeyService struct {
	repository *repository.APIKeyRepository
	cache      KeyCache
}

func NewAPIKeyService(repo *repository.APIKeyRepository, cache KeyCache) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		cache:      cache,
	}
}

// Create generates a new key, stores its hash and returns the plain
// key - the only time it is visible.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy, tier string) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "mk_" + base64.URLEncoding.EncodeToString(keyBytes)

	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	apiKey := models.APIKey{
		KeyHash:   keyHash,
		Name:      name,
		CreatedBy: createdBy,
		Tier:      tier,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", fmt.Errorf("failed to create API key: %w", err)
	}

	return key, nil
}

// Validate resolves a plain key to its record, consulting the cache
// first so the hot path rarely touches the database.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)
	if cached, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if payload, err := json.Marshal(apiKey); err == nil {
		s.cache.Set(ctx, cacheKey, string(payload), 5*time.Minute)
	}

	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	// Tier and active flag feed admission decisions, so drop the
	// cached copy before it goes stale.
	if _, hasTier := updates["tier"]; hasTier {
		s.invalidateCache(ctx, id)
	}
	if _, hasActive := updates["is_active"]; hasActive {
		s.invalidateCache(ctx, id)
	}

	return s.repository.Update(ctx, id, updates)
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.repository.UpdateLastUsed(ctx, id)
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	s.cache.Delete(ctx, fmt.Sprintf("apikey:cache:%s", apiKey.KeyHash))
}
