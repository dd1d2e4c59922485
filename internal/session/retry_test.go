package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
		ok       bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			d, ok := parseRetryAfter(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestRetryPolicy_Schedule(t *testing.T) {
	p := &RetryPolicy{InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond}
	b := p.schedule()

	assert.Equal(t, 100*time.Millisecond, p.delay(b, nil))
	assert.Equal(t, 200*time.Millisecond, p.delay(b, nil))
	assert.Equal(t, 300*time.Millisecond, p.delay(b, nil))
	assert.Equal(t, 300*time.Millisecond, p.delay(b, nil))
}

func TestRetryPolicy_NilIsSingleAttempt(t *testing.T) {
	var p *RetryPolicy
	assert.Equal(t, 1, p.maxAttempts())
	assert.True(t, p.retryableStatus(http.StatusServiceUnavailable))
	assert.False(t, p.retryableStatus(http.StatusBadRequest))
}

func TestIsRetryableNetworkError(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	assert.False(t, IsRetryableNetworkError(nil))
	assert.False(t, IsRetryableNetworkError(context.Canceled))
	assert.False(t, IsRetryableNetworkError(errors.New("boom")))
	assert.True(t, IsRetryableNetworkError(context.DeadlineExceeded))
	assert.True(t, IsRetryableNetworkError(fmt.Errorf("post: %w", io.EOF)))
	assert.True(t, IsRetryableNetworkError(fmt.Errorf("wrapped: %w", opErr)))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []int{421, 450, 500} {
		assert.True(t, IsReauthStatus(s), s)
	}
	for _, s := range []int{429, 503} {
		assert.True(t, IsOverloadStatus(s), s)
	}
	assert.False(t, IsReauthStatus(401))
	assert.False(t, IsOverloadStatus(500))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestIsReplayableError(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}

	tests := []struct {
		name   string
		method string
		err    error
		want   bool
	}{
		{"get after read failure", http.MethodGet, read, true},
		{"get after timeout", http.MethodGet, context.DeadlineExceeded, true},
		{"post before connecting", http.MethodPost, fmt.Errorf("wrapped: %w", dial), true},
		{"post after read failure", http.MethodPost, read, false},
		{"post after timeout", http.MethodPost, context.DeadlineExceeded, false},
		{"get canceled", http.MethodGet, context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReplayableError(tt.method, tt.err))
		})
	}
}
