package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/internal/cache"
)

const (
	// IdempotencyHeader carries the client-chosen request key.
	IdempotencyHeader = "X-Idempotency-Key"
	// ReplayedHeader is set on responses served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 128
)

type storedResponse struct {
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response when an authenticated caller
// repeats a mutating request with the same X-Idempotency-Key.
type Idempotency struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewIdempotency returns the middleware. A nil cache disables replay.
func NewIdempotency(c cache.Cache, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &Idempotency{cache: c, ttl: ttl}
}

func (i *Idempotency) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqKey := r.Header.Get(IdempotencyHeader)
		if i.cache == nil || reqKey == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if len(reqKey) > maxIdempotencyKeyLen {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"X-Idempotency-Key is too long", nil)
			return
		}
		actor, ok := GetActor(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.IdempotencyKey(actor, r.Method+" "+r.URL.Path+" "+reqKey)
		ctx := r.Context()

		raw, found, err := i.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("idempotency lookup failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if found {
			i.replay(w, raw)
			return
		}

		pending, _ := json.Marshal(storedResponse{})
		won, err := i.cache.SetNX(ctx, key, pending, i.ttl)
		if err != nil {
			slog.Warn("idempotency reservation failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !won {
			response.Error(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS",
				"A request with this idempotency key is still being processed", nil)
			return
		}

		// A panicking handler must not leave the key reserved.
		defer func() {
			if p := recover(); p != nil {
				i.release(context.WithoutCancel(ctx), key)
				panic(p)
			}
		}()

		rec := &bufferedResponse{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Server errors are not remembered so the client can retry.
		if rec.status >= http.StatusInternalServerError {
			i.release(ctx, key)
			return
		}
		done, _ := json.Marshal(storedResponse{
			Done:        true,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err := i.cache.Set(ctx, key, done, i.ttl); err != nil {
			slog.Warn("idempotency store failed", "error", err)
		}
	})
}

func (i *Idempotency) release(ctx context.Context, key string) {
	if err := i.cache.Delete(ctx, key); err != nil {
		slog.Warn("idempotency release failed", "error", err)
	}
}

func (i *Idempotency) replay(w http.ResponseWriter, raw []byte) {
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil || !stored.Done {
		response.Error(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS",
			"A request with this idempotency key is still being processed", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
}

// bufferedResponse writes through to the client while keeping a copy.
type bufferedResponse struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
