package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keyforge/internal/errors"
	"keyforge/internal/shared/testutil"
)

func newTestWindow(t *testing.T, limit int, clock *testutil.FakeClock) *SlidingWindow {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewSlidingWindow("test", limit, time.Minute, logger, apperrors.NewErrorHandler(logger, false),
		WithWindowClock(clock.Now))
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/get_key", nil)
	req.RemoteAddr = addr
	return req
}

func TestSlidingWindow_EleventhRequestRejected(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.FixedTime)
	limiter := newTestWindow(t, 10, clock)

	var served int32
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&served, 1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.7:51000"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		clock.Advance(time.Second)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.7:51001"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))
	assert.Equal(t, int32(10), atomic.LoadInt32(&served))

	// A fresh window admits the client again
	clock.Advance(time.Minute)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.7:51002"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlidingWindow_Allow(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.FixedTime)
	limiter := newTestWindow(t, 2, clock)

	ok, _ := limiter.Allow("a")
	assert.True(t, ok)
	clock.Advance(20 * time.Second)
	ok, _ = limiter.Allow("a")
	assert.True(t, ok)

	ok, retry := limiter.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	t.Run("clients are independent", func(t *testing.T) {
		ok, _ := limiter.Allow("b")
		assert.True(t, ok)
	})

	t.Run("rejections do not extend the window", func(t *testing.T) {
		clock.Advance(40 * time.Second)
		ok, _ := limiter.Allow("a")
		assert.True(t, ok, "oldest request left the window")
		ok, _ = limiter.Allow("a")
		assert.False(t, ok)
	})
}

func TestSlidingWindow_Sweep(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.FixedTime)
	limiter := newTestWindow(t, 5, clock)

	limiter.Allow("idle")
	clock.Advance(30 * time.Second)
	limiter.Allow("busy")
	require.Equal(t, 2, limiter.Clients())

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Clients())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, limiter.Sweep())
	assert.Zero(t, limiter.Clients())
}

func TestSlidingWindow_RunJanitorStopsWithContext(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.FixedTime)
	limiter := newTestWindow(t, 5, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	limiter.Allow("gone")
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return limiter.Clients() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
