package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default admission limits applied when a vendor does not override them.
const (
	DefaultMaxRequests = 60
	DefaultWindow      = time.Minute
)

// HostState is the fixed-window admission state for one remote host.
// ResetAt reflects the server's advertised reset when one has been seen,
// otherwise the local window end.
type HostState struct {
	WindowStart time.Time
	Count       int
	Remaining   int
	ResetAt     time.Time
}

// RateLimiter admits requests per remote host using a fixed window. When the
// window is exhausted the caller either blocks until reset (default) or fails
// immediately with RATE_LIMIT_EXCEEDED, depending on BlockOnLimit.
type RateLimiter struct {
	mutex        sync.Mutex
	hosts        map[string]*HostState
	maxRequests  int
	window       time.Duration
	blockOnLimit bool
	sleep        func(time.Duration)
	now          func() time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration, blockOnLimit bool) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RateLimiter{
		hosts:        make(map[string]*HostState),
		maxRequests:  maxRequests,
		window:       window,
		blockOnLimit: blockOnLimit,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Acquire admits one request for host. It never holds the lock across a
// sleep: in blocking mode the wait happens between admission checks.
func (r *RateLimiter) Acquire(host string) error {
	for {
		wait, err := r.tryAcquire(host)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		r.sleep(wait)
	}
}

// tryAcquire performs one short read-modify-write admission check. It returns
// a positive wait duration when the caller must sleep and try again.
func (r *RateLimiter) tryAcquire(host string) (time.Duration, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	state := r.stateLocked(host, now)

	if !now.Before(state.WindowStart.Add(r.window)) && !now.Before(state.ResetAt) {
		r.resetLocked(state, now)
	}

	if state.Count < r.maxRequests && state.Remaining > 0 {
		state.Count++
		state.Remaining--
		return 0, nil
	}

	wait := state.ResetAt.Sub(now)
	if wait <= 0 {
		r.resetLocked(state, now)
		state.Count++
		state.Remaining--
		return 0, nil
	}

	if r.blockOnLimit {
		return wait, nil
	}

	err := NewStructuredError(
		fmt.Sprintf("rate limit exceeded for %s, retry in %s", host, wait.Round(time.Millisecond)),
		429, CodeRateLimitExceeded, true)
	err.Detail = map[string]interface{}{"retry_after_ms": wait.Milliseconds()}
	return 0, err
}

// UpdateFromHeaders merges server-advertised rate limit headers into the
// host's state so subsequent admissions reflect the server's view. Header
// names are expected lower-cased.
func (r *RateLimiter) UpdateFromHeaders(host string, headers map[string]string) {
	if len(headers) == 0 {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	state := r.stateLocked(host, now)

	if raw, ok := firstHeader(headers, "x-ratelimit-remaining", "x-rate-limit-remaining"); ok {
		if remaining, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && remaining >= 0 {
			state.Remaining = remaining
			if remaining < r.maxRequests {
				state.Count = r.maxRequests - remaining
			}
		}
	}

	if raw, ok := firstHeader(headers, "x-ratelimit-reset", "x-rate-limit-reset"); ok {
		if reset, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && reset > 0 {
			// Values beyond 10^10 are Unix timestamps, smaller ones are
			// seconds from now.
			if reset > 1e10 {
				state.ResetAt = time.Unix(reset, 0)
			} else {
				state.ResetAt = now.Add(time.Duration(reset) * time.Second)
			}
		}
	}

	if raw, ok := firstHeader(headers, "retry-after"); ok {
		if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && secs > 0 {
			state.ResetAt = now.Add(time.Duration(secs) * time.Second)
			state.Remaining = 0
			state.Count = r.maxRequests
		}
	}
}

// Delay returns how long the caller should wait before the next request to
// host, zero when a request can proceed immediately.
func (r *RateLimiter) Delay(host string) time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	state, ok := r.hosts[host]
	if !ok {
		return 0
	}
	if state.Remaining > 0 || now.After(state.ResetAt) {
		return 0
	}
	return state.ResetAt.Sub(now)
}

// Snapshot returns a copy of the current state for host, or nil when the host
// has never been seen.
func (r *RateLimiter) Snapshot(host string) *HostState {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, ok := r.hosts[host]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

func (r *RateLimiter) GetStats() map[string]interface{} {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	hosts := make(map[string]interface{}, len(r.hosts))
	for host, state := range r.hosts {
		hosts[host] = map[string]interface{}{
			"count":     state.Count,
			"remaining": state.Remaining,
			"reset_at":  state.ResetAt.UTC().Format(time.RFC3339),
		}
	}
	return map[string]interface{}{
		"max_requests": r.maxRequests,
		"window_secs":  r.window.Seconds(),
		"hosts":        hosts,
	}
}

// stateLocked returns the state for host, creating it lazily on first use.
func (r *RateLimiter) stateLocked(host string, now time.Time) *HostState {
	state, ok := r.hosts[host]
	if !ok {
		state = &HostState{}
		r.resetLocked(state, now)
		r.hosts[host] = state
	}
	return state
}

func (r *RateLimiter) resetLocked(state *HostState, now time.Time) {
	state.WindowStart = now
	state.Count = 0
	state.Remaining = r.maxRequests
	state.ResetAt = now.Add(r.window)
}

func firstHeader(headers map[string]string, names ...string) (string, bool) {
	for _, name := range names {
		if value, ok := headers[name]; ok && value != "" {
			return value, true
		}
	}
	return "", false
}
