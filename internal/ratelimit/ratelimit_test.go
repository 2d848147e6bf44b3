package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/storefront-core/internal/common"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLimiterSlidingWindow(t *testing.T) {
	client := newRedis(t)
	now := time.Unix(1_700_000_000, 0)
	limiter := Limiter{Client: client, Prefix: "test:", Now: func() time.Time { return now }}
	ctx := context.Background()
	window := 10 * time.Second

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "key", window, 2)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-(i+1), d.Remaining)
		now = now.Add(time.Second)
	}

	d, err := limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	// The first event slides out of the window; the rejected one was never counted.
	now = now.Add(9 * time.Second)
	d, err = limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestLimiterDisabledWithoutClient(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "k", time.Second, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestHandlerLimitsPerUser(t *testing.T) {
	client := newRedis(t)
	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "rl:"},
		Config:  Config{Key: ByUser("reviews"), Window: time.Minute, Max: 1},
		Logger:  zerolog.Nop(),
	}
	h := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	as := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", nil)
		req = req.WithContext(common.WithPrincipal(req.Context(), common.Principal{UserID: uid}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusCreated, as("alice").Code)
	rr := as("alice")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, CodeRateLimited, body.Error.Code)

	require.Equal(t, http.StatusCreated, as("bob").Code)
}

func TestHandlerFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	handler := Handler{
		Limiter: Limiter{Client: client},
		Config:  Config{Key: func(*http.Request) string { return "k" }, Window: time.Second, Max: 1},
		Logger:  zerolog.Nop(),
	}
	h := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestPerIP(t *testing.T) {
	mw, err := PerIP(memory.NewStore(), "2-M", zerolog.Nop())
	require.NoError(t, err)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	from := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
		req.RemoteAddr = ip + ":4321"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, from("10.0.0.1"))
	require.Equal(t, http.StatusOK, from("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, from("10.0.0.1"))
	require.Equal(t, http.StatusOK, from("10.0.0.2"))

	_, err = PerIP(memory.NewStore(), "lots", zerolog.Nop())
	require.Error(t, err)
}

func TestPerIPFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "ratelimit:ip")
	require.NoError(t, err)

	mw, err := PerIP(store, "1-M", zerolog.Nop())
	require.NoError(t, err)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.RemoteAddr = "10.0.0.9:1000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))

	mr.Close()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}
