package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice-sync/internal/core"
)

// newTestExecutor wires an executor with deterministic jitter and recorded
// sleeps against an httptest handler.
func newTestExecutor(t *testing.T, handler http.HandlerFunc) (*Executor, *[]time.Duration, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	client, err := NewClient(serverConfig(t, server), nil, testLogger())
	require.NoError(t, err)

	exec := NewExecutor(client, nil, testLogger())
	var sleeps []time.Duration
	exec.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	exec.jitter = func() float64 { return 1.0 }

	return exec, &sleeps, server.Close
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	calls := 0
	exec, sleeps, cleanup := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(503)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	defer cleanup()

	resp, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 3, calls)

	// Exponential backoff with unit jitter: 1s then 2s.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, time.Second, (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestExecutorStopsOnNonRetryable(t *testing.T) {
	calls := 0
	exec, sleeps, cleanup := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(400)
	})
	defer cleanup()

	_, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "client errors must not be retried")
	assert.Empty(t, *sleeps)
}

func TestExecutorExhaustsRetryBudget(t *testing.T) {
	calls := 0
	exec, _, cleanup := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(500)
	})
	defer cleanup()

	_, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/"})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")

	se, ok := core.AsStructured(err)
	require.True(t, ok)
	assert.Equal(t, 500, se.StatusCode)
}

func TestExecutorPerRequestRetryOverride(t *testing.T) {
	calls := 0
	exec, _, cleanup := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(500)
	})
	defer cleanup()

	zero := 0
	_, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/", MaxRetries: &zero})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutorRateLimitDoesNotConsumeBudget(t *testing.T) {
	calls := 0
	exec, sleeps, cleanup := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(429)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	defer cleanup()

	// With a zero retry budget the request still succeeds: 429 waits do not
	// count as retries.
	zero := 0
	resp, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/", MaxRetries: &zero})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 3, calls)
	assert.Len(t, *sleeps, 2)
}

func TestExecutorRateLimitUsesLimiterDelay(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(429)
			return
		}
		w.WriteHeader(204)
	}))
	defer server.Close()

	client, err := NewClient(serverConfig(t, server), nil, testLogger())
	require.NoError(t, err)

	limiter := core.NewRateLimiter(1000, time.Minute, false)
	exec := NewExecutor(client, limiter, testLogger())

	// The limiter runs on the real clock, so the wait must actually elapse.
	var sleeps []time.Duration
	exec.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		time.Sleep(d)
	}
	exec.jitter = func() float64 { return 1.0 }

	resp, err := exec.Do(context.Background(), &RequestDescriptor{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, 204, resp.Status)

	// The 429 response's Retry-After header was merged into the limiter and
	// drove the first wait.
	require.NotEmpty(t, sleeps)
	assert.InDelta(t, float64(time.Second), float64(sleeps[0]), float64(100*time.Millisecond))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(time.Second, 0, 1.0))
	assert.Equal(t, 2*time.Second, backoffDelay(time.Second, 1, 1.0))
	assert.Equal(t, 8*time.Second, backoffDelay(time.Second, 3, 1.0))

	// Cap at 30 seconds regardless of attempt count or jitter.
	assert.Equal(t, 30*time.Second, backoffDelay(time.Second, 10, 1.0))
	assert.Equal(t, 30*time.Second, backoffDelay(time.Second, 20, 1.15))

	// Jitter scales the delay.
	assert.Equal(t, 850*time.Millisecond, backoffDelay(time.Second, 0, 0.85))
	assert.Equal(t, 1150*time.Millisecond, backoffDelay(time.Second, 0, 1.15))
}
