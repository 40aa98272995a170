package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

type stubRow struct {
	scanFunc func(dest ...any) error
}

func (r *stubRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// stubKeyStore answers QueryRow from a map of known key hashes.
type stubKeyStore struct {
	keys map[string]string // key_hash -> id
}

func (s *stubKeyStore) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	hash, _ := args[0].(string)
	id, ok := s.keys[hash]
	return &stubRow{scanFunc: func(dest ...any) error {
		if !ok {
			return errors.New("no rows in result set")
		}
		*(dest[0].(*string)) = id
		return nil
	}}
}

func keyHash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func authedHandler(t *testing.T, store *stubKeyStore, wantKeyID string) http.Handler {
	t.Helper()
	return Auth(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantKeyID != "" {
			assert.Equal(t, wantKeyID, r.Context().Value(APIKeyIDKey))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuth_ValidKey(t *testing.T) {
	store := &stubKeyStore{keys: map[string]string{keyHash("secret-key"): "key_1"}}

	r := httptest.NewRequest("GET", "/api/automation/jobs", nil)
	r.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()

	authedHandler(t, store, "key_1").ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuth_MissingKey(t *testing.T) {
	store := &stubKeyStore{keys: map[string]string{}}

	r := httptest.NewRequest("GET", "/api/automation/jobs", nil)
	rec := httptest.NewRecorder()

	authedHandler(t, store, "").ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_UnknownKey(t *testing.T) {
	store := &stubKeyStore{keys: map[string]string{}}

	r := httptest.NewRequest("GET", "/api/automation/jobs", nil)
	r.Header.Set("X-API-Key", "wrong-key")
	rec := httptest.NewRecorder()

	authedHandler(t, store, "").ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
