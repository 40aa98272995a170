package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/platform"
)

// APIKeyService manages dashboard API keys. Only the sha256 hash is stored;
// the raw key is returned once at creation and never again.
type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create mints a new API key and returns it together with the raw secret.
func (s *APIKeyService) Create(ctx context.Context, label string) (*model.APIKey, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey := "hl_" + hex.EncodeToString(buf)

	hash := sha256.Sum256([]byte(rawKey))
	key := &model.APIKey{
		ID:        platform.NewName("key-"),
		KeyHash:   hex.EncodeToString(hash[:]),
		Label:     label,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, label, created_at) VALUES ($1, $2, $3, $4)`,
		key.ID, key.KeyHash, key.Label, key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return key, rawKey, nil
}

// Revoke disables a key without deleting its audit trail.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revoke api key %s: not found or already revoked", id)
	}
	return nil
}
