package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/escrowhub/internal/api/middleware"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock Store ---

// mockStore serves API key lookups; every other Store method is unused here.
type mockStore struct {
	store.Store
	keys []*models.APIKey
	err  error
}

func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

// --- Mock Cache ---

type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	counter int64
	err     error
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return m.err
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockCache) Ping(_ context.Context) error { return nil }

func (m *mockCache) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

const jwtSecret = "test-jwt-secret"

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func signJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func actorHandler(got *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*got, _ = mw.GetActor(r)
		w.WriteHeader(http.StatusOK)
	}
}

func withActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(mw.SetActor(req.Context(), actor))
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer short")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{}}, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer esc_test1234567890")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_StoreError(t *testing.T) {
	auth := mw.NewAuth(&mockStore{err: errors.New("db down")}, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer esc_test1234567890")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestAuth_WrongPassword(t *testing.T) {
	rawKey := "esc_test1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Actor:     "alice",
		KeyHash:   hashKey(t, "different_key_entirely"),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    []string{},
	}}}
	auth := mw.NewAuth(ms, "")
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "esc_test1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Actor:     "alice",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    []string{},
	}}}
	auth := mw.NewAuth(ms, "")

	var actor string
	handler := auth.Authenticate(actorHandler(&actor))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", actor)
}

func TestAuth_ValidJWT(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, jwtSecret)

	var actor string
	handler := auth.Authenticate(actorHandler(&actor))

	token := signJWT(t, jwtSecret, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", actor)
}

func TestAuth_JWTRejected(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		claims jwt.MapClaims
	}{
		{"wrong secret", "other-secret", jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Hour).Unix()}},
		{"expired", jwtSecret, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(-time.Hour).Unix()}},
		{"no expiry", jwtSecret, jwt.MapClaims{"sub": "bob"}},
		{"no subject", jwtSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}},
		{"blank subject", jwtSecret, jwt.MapClaims{"sub": "  ", "exp": time.Now().Add(time.Hour).Unix()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := mw.NewAuth(&mockStore{}, jwtSecret)
			handler := auth.Authenticate(okHandler())

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+signJWT(t, tc.secret, tc.claims))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
		})
	}
}

func TestAuth_JWTScopes(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, jwtSecret)
	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	admin := signJWT(t, jwtSecret, jwt.MapClaims{
		"sub":    "root",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"admin"},
	})
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	plain := signJWT(t, jwtSecret, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_RequireScope_Allowed(t *testing.T) {
	rawKey := "esc_admin_1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Actor:     "ops",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    []string{"admin"},
	}}}
	auth := mw.NewAuth(ms, "")

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RequireScope_Denied(t *testing.T) {
	rawKey := "esc_user_1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Actor:     "alice",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    []string{},
	}}}
	auth := mw.NewAuth(ms, "")

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func rateLimited(t *testing.T, mc *mockCache, rawKey string) http.Handler {
	t.Helper()
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Actor:     "alice",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    []string{},
	}}}
	auth := mw.NewAuth(ms, "")
	rl := mw.NewRateLimit(mc, 60)
	return auth.Authenticate(rl.Limit(okHandler()))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rawKey := "esc_rate1234567890"
	handler := rateLimited(t, newMockCache(), rawKey)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	rawKey := "esc_over1234567890"
	mc := newMockCache()
	mc.counter = 60 // next IncrWithExpiry will return 61
	handler := rateLimited(t, mc, rawKey)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	rawKey := "esc_fail1234567890"
	mc := newMockCache()
	mc.err = errors.New("redis down")
	handler := rateLimited(t, mc, rawKey)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NoSubject_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(newMockCache(), 60)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_NilCache_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(nil, 60)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Idempotency Middleware Tests
// ========================================

func countingHandler(calls *int32, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	}
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls int32
	idem := mw.NewIdempotency(newMockCache(), time.Hour)
	handler := idem.Handle(countingHandler(&calls, http.StatusCreated))

	send := func() *httptest.ResponseRecorder {
		req := withActor(httptest.NewRequest("POST", "/api/v1/jobs", nil), "alice")
		req.Header.Set(mw.IdempotencyHeader, "create-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send()
	second := send()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(mw.ReplayedHeader))
	assert.Empty(t, first.Header().Get(mw.ReplayedHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestIdempotency_KeyIsScopedToActorAndPath(t *testing.T) {
	var calls int32
	idem := mw.NewIdempotency(newMockCache(), time.Hour)
	handler := idem.Handle(countingHandler(&calls, http.StatusOK))

	for _, tc := range []struct{ actor, path string }{
		{"alice", "/api/v1/jobs/1/fund"},
		{"bob", "/api/v1/jobs/1/fund"},
		{"alice", "/api/v1/jobs/2/fund"},
	} {
		req := withActor(httptest.NewRequest("POST", tc.path, nil), tc.actor)
		req.Header.Set(mw.IdempotencyHeader, "same-key")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIdempotency_InProgress(t *testing.T) {
	mc := newMockCache()
	idem := mw.NewIdempotency(mc, time.Hour)

	release := make(chan struct{})
	entered := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := idem.Handle(slow)

	newReq := func() *http.Request {
		req := withActor(httptest.NewRequest("POST", "/api/v1/jobs/1/release", nil), "arb")
		req.Header.Set(mw.IdempotencyHeader, "release-1")
		return req
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), newReq())
	}()
	<-entered

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq())
	close(release)
	<-done

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "IDEMPOTENCY_IN_PROGRESS", errBody(t, w)["code"])
}

func TestIdempotency_ServerErrorNotStored(t *testing.T) {
	var calls int32
	idem := mw.NewIdempotency(newMockCache(), time.Hour)
	handler := idem.Handle(countingHandler(&calls, http.StatusInternalServerError))

	for i := 0; i < 2; i++ {
		req := withActor(httptest.NewRequest("POST", "/api/v1/jobs", nil), "alice")
		req.Header.Set(mw.IdempotencyHeader, "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	var calls int32
	panicking := true
	idem := mw.NewIdempotency(newMockCache(), time.Hour)
	handler := idem.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if panicking {
			panic("boom")
		}
		countingHandler(&calls, http.StatusOK)(w, r)
	}))

	newReq := func() *http.Request {
		req := withActor(httptest.NewRequest("POST", "/api/v1/jobs/1/release", nil), "arb")
		req.Header.Set(mw.IdempotencyHeader, "release-1")
		return req
	}

	assert.PanicsWithValue(t, "boom", func() {
		handler.ServeHTTP(httptest.NewRecorder(), newReq())
	})

	panicking = false
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotency_PassThrough(t *testing.T) {
	cases := []struct {
		name  string
		cache *mockCache
		build func() *http.Request
	}{
		{"no header", newMockCache(), func() *http.Request {
			return withActor(httptest.NewRequest("POST", "/x", nil), "alice")
		}},
		{"GET request", newMockCache(), func() *http.Request {
			req := withActor(httptest.NewRequest("GET", "/x", nil), "alice")
			req.Header.Set(mw.IdempotencyHeader, "k")
			return req
		}},
		{"no actor", newMockCache(), func() *http.Request {
			req := httptest.NewRequest("POST", "/x", nil)
			req.Header.Set(mw.IdempotencyHeader, "k")
			return req
		}},
		{"nil cache", nil, func() *http.Request {
			req := withActor(httptest.NewRequest("POST", "/x", nil), "alice")
			req.Header.Set(mw.IdempotencyHeader, "k")
			return req
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			var idem *mw.Idempotency
			if tc.cache == nil {
				idem = mw.NewIdempotency(nil, time.Hour)
			} else {
				idem = mw.NewIdempotency(tc.cache, time.Hour)
			}
			handler := idem.Handle(countingHandler(&calls, http.StatusOK))

			handler.ServeHTTP(httptest.NewRecorder(), tc.build())
			handler.ServeHTTP(httptest.NewRecorder(), tc.build())

			assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		})
	}
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	idem := mw.NewIdempotency(newMockCache(), time.Hour)
	handler := idem.Handle(okHandler())

	req := withActor(httptest.NewRequest("POST", "/x", nil), "alice")
	req.Header.Set(mw.IdempotencyHeader, strings.Repeat("k", 129))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errBody(t, w)["code"])
}

// ========================================
// HMAC Verifier Tests
// ========================================

func signedRequest(secret string, ts time.Time, body string) *http.Request {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set(mw.TimestampHeader, stamp)
	req.Header.Set(mw.SignatureHeader, mw.Sign(secret, stamp, []byte(body)))
	return req
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &mw.Verifier{Secret: "whsec", Now: func() time.Time { return now }}

	var seen string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		seen = payload["status"]
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, signedRequest("whsec", now, `{"status":"confirmed"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", seen, "body must remain readable downstream")
}

func TestVerifier_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := `{"status":"confirmed"}`

	cases := []struct {
		name    string
		secret  string
		request func() *http.Request
	}{
		{"wrong secret", "whsec", func() *http.Request {
			return signedRequest("other", now, body)
		}},
		{"stale timestamp", "whsec", func() *http.Request {
			return signedRequest("whsec", now.Add(-10*time.Minute), body)
		}},
		{"future timestamp", "whsec", func() *http.Request {
			return signedRequest("whsec", now.Add(10*time.Minute), body)
		}},
		{"missing signature", "whsec", func() *http.Request {
			req := signedRequest("whsec", now, body)
			req.Header.Del(mw.SignatureHeader)
			return req
		}},
		{"missing timestamp", "whsec", func() *http.Request {
			req := signedRequest("whsec", now, body)
			req.Header.Del(mw.TimestampHeader)
			return req
		}},
		{"tampered body", "whsec", func() *http.Request {
			req := signedRequest("whsec", now, body)
			tampered := httptest.NewRequest("POST", "/webhook", strings.NewReader(`{"status":"failed"}`))
			tampered.Header = req.Header
			return tampered
		}},
		{"no secret configured", "", func() *http.Request {
			return signedRequest("", now, body)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &mw.Verifier{Secret: tc.secret, Now: func() time.Time { return now }}
			handler := v.Middleware(okHandler())

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tc.request())

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_SIGNATURE", errBody(t, w)["code"])
		})
	}
}

func TestSign_Deterministic(t *testing.T) {
	a := mw.Sign("s", "1700000000", []byte("body"))
	b := mw.Sign("s", "1700000000", []byte("body"))
	c := mw.Sign("s", "1700000001", []byte("body"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	handler := mw.Recovery(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := chimw.RequestID(mw.Logger(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

type observed struct {
	route  string
	method string
	code   int
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (f *fakeObserver) ObserveRequest(route, method string, code int, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, observed{route, method, code})
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	obs := &fakeObserver{}
	r := chi.NewRouter()
	r.Use(mw.Instrument(obs))
	r.Get("/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/jobs/"+uuid.NewString(), nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	require.Len(t, obs.seen, 2)
	assert.Equal(t, observed{"/jobs/{id}", "GET", http.StatusTeapot}, obs.seen[0])
	assert.Equal(t, observed{"unmatched", "GET", http.StatusNotFound}, obs.seen[1])
}
