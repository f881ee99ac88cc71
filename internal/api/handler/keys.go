package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/escrowhub/internal/api/middleware"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "esc_"

// KeyStore is the slice of the store used for API key administration.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type createdKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key is returned once and only its bcrypt hash is stored.
func NewCreateKeyHandler(ks KeyStore, cost int) http.HandlerFunc {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Actor  string   `json:"actor"`
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}
		req.Actor = strings.TrimSpace(req.Actor)
		if req.Actor == "" {
			badRequest(w, "actor is required")
			return
		}
		if req.Name == "" {
			req.Name = req.Actor
		}
		if req.Scopes == nil {
			req.Scopes = []string{}
		}

		raw, err := generateKey()
		if err != nil {
			writeError(w, r, err)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
		if err != nil {
			writeError(w, r, fmt.Errorf("hash api key: %w", err))
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			Actor:     req.Actor,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:mw.KeyPrefixLen],
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := ks.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createdKey{APIKey: key, Key: raw})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := ks.ListAPIKeys(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "keyID")
		if !ok {
			return
		}
		if err := ks.RevokeAPIKey(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}
