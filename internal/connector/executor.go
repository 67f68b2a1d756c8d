package connector

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/core"
)

const (
	defaultMaxRetries     = 3
	defaultBaseDelay      = time.Second
	defaultRateLimitDelay = time.Second
	maxBackoff            = 30 * time.Second
)

// Executor wraps a Client with rate-limit admission and retry/backoff.
// Per logical request the state machine is ATTEMPT -> {SUCCESS, RETRY,
// RATE_LIMITED, FAILED}: non-retryable errors surface immediately, rate-limit
// responses wait the server-advertised delay without consuming the retry
// budget, everything else backs off exponentially with jitter.
type Executor struct {
	client  *Client
	limiter *core.RateLimiter
	logger  *zap.SugaredLogger

	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
	jitter     func() float64
}

func NewExecutor(client *Client, limiter *core.RateLimiter, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		client:     client,
		limiter:    limiter,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      time.Sleep,
		jitter:     func() float64 { return 0.85 + rand.Float64()*0.30 },
	}
}

func (e *Executor) Client() *Client { return e.client }

// Do executes req with admission control and retries, returning the first
// successful response or the last observed error once the retry budget is
// exhausted.
func (e *Executor) Do(ctx context.Context, req *RequestDescriptor) (*Response, error) {
	retries := e.maxRetries
	if req.MaxRetries != nil {
		retries = *req.MaxRetries
	}
	base := e.baseDelay
	if req.BaseDelay > 0 {
		base = req.BaseDelay
	}

	host := e.client.Config().Host
	attempt := 0
	for {
		if !req.SkipRateLimit && e.limiter != nil {
			if err := e.limiter.Acquire(host); err != nil {
				if e.waitIfRateLimited(err, nil, host) {
					continue
				}
				return nil, err
			}
		}

		resp, err := e.client.Do(ctx, req)
		if resp != nil && e.limiter != nil {
			e.limiter.UpdateFromHeaders(host, resp.Headers)
		}
		if err == nil {
			if attempt > 0 {
				e.logger.Infof("Request to %s%s succeeded after %d attempts", host, req.Path, attempt+1)
			}
			return resp, nil
		}

		if !core.IsRetryable(err) {
			return nil, err
		}

		// Rate-limit responses wait out the advertised delay and retry
		// without touching the budget.
		if e.waitIfRateLimited(err, resp, host) {
			continue
		}

		if attempt >= retries {
			e.logger.Warnf("Request to %s%s failed after %d attempts: %v", host, req.Path, attempt+1, err)
			return nil, err
		}

		delay := backoffDelay(base, attempt, e.jitter())
		e.logger.Debugf("Retrying %s%s in %s (attempt %d/%d): %v", host, req.Path, delay, attempt+1, retries, err)
		e.sleep(delay)
		attempt++
	}
}

// waitIfRateLimited sleeps through a rate-limit signal and reports whether the
// caller should re-attempt.
func (e *Executor) waitIfRateLimited(err error, resp *Response, host string) bool {
	se, ok := core.AsStructured(err)
	if !ok || (se.Code != core.CodeRateLimitExceeded && se.StatusCode != 429) {
		return false
	}

	delay := defaultRateLimitDelay
	if e.limiter != nil {
		if d := e.limiter.Delay(host); d > 0 {
			delay = d
		}
	}
	if se.Detail != nil {
		if ms, ok := se.Detail["retry_after_ms"].(int64); ok && ms > 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}

	e.logger.Infof("Rate limited by %s, waiting %s before retrying", host, delay)
	e.sleep(delay)
	return true
}

// backoffDelay computes base * 2^attempt * jitter capped at 30s.
func backoffDelay(base time.Duration, attempt int, jitter float64) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			break
		}
	}
	delay = time.Duration(float64(delay) * jitter)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
