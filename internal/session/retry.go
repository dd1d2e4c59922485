package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy decides which failures are retried, how often and how long to
// wait in between. Authorization expiry is not part of the policy; the
// Transport renews the session at most once per call on its own.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval and MaxInterval shape the exponential schedule used
	// when the server does not send Retry-After.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryableStatus reports whether a status code signals overload.
	RetryableStatus func(status int) bool
	// Sleep waits between attempts. Tests substitute a fake.
	Sleep SleepFunc
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		RetryableStatus: IsOverloadStatus,
		Sleep:           sleepContext,
	}
}

// IsOverloadStatus reports 429 and 503.
func IsOverloadStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// IsReauthStatus reports the statuses that signal an expired session.
func IsReauthStatus(status int) bool {
	return status == 421 || status == 450 || status == http.StatusInternalServerError
}

// IsRetryableNetworkError reports timeouts and connection failures, including
// connections closed before a response arrived. Context
// cancellation is never retried.
func IsRetryableNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsReplayableError reports whether a request that failed with err may be
// sent again. Idempotent methods are replayed on any retryable network
// error; other methods only when the connection was never established.
func IsReplayableError(method string, err error) bool {
	if !IsRetryableNetworkError(err) {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (p *RetryPolicy) maxAttempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p *RetryPolicy) retryableStatus(status int) bool {
	if p != nil && p.RetryableStatus != nil {
		return p.RetryableStatus(status)
	}
	return IsOverloadStatus(status)
}

// schedule returns a fresh exponential schedule for one logical call.
func (p *RetryPolicy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.Multiplier = 2
	if p != nil && p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	} else {
		b.InitialInterval = DefaultInitialInterval
	}
	if p != nil && p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	} else {
		b.MaxInterval = DefaultMaxInterval
	}
	b.Reset()
	return b
}

// delay returns the wait before the next attempt, preferring a server
// supplied Retry-After capped at MaxInterval.
func (p *RetryPolicy) delay(b *backoff.ExponentialBackOff, resp *http.Response) time.Duration {
	next := b.NextBackOff()
	if resp == nil {
		return next
	}
	if ra, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		if b.MaxInterval > 0 && ra > b.MaxInterval {
			return b.MaxInterval
		}
		return ra
	}
	return next
}

func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p != nil && p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
