package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	return ctx.Err()
}

func (f *fakeSleeper) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

func newTestTransport(t *testing.T, sleeper *fakeSleeper, opts ...Option) *Transport {
	t.Helper()
	policy := DefaultRetryPolicy()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	if sleeper != nil {
		policy.Sleep = sleeper.Sleep
	}
	opts = append([]Option{WithRetryPolicy(policy), WithHomeEndpoint("https://www.icloud.com")}, opts...)
	tr, err := New("user@example.com", newTestStore(t), opts...)
	require.NoError(t, err)
	return tr
}

func TestTransport_SuccessPassesThroughNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/text":
			_, _ = w.Write([]byte("plain text"))
		case "/broken":
			_, _ = w.Write([]byte(`{"truncated":`))
		}
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	for _, path := range []string{"/empty", "/text", "/broken"} {
		t.Run(path, func(t *testing.T) {
			resp, err := tr.Get(context.Background(), server.URL+path, nil)
			require.NoError(t, err)
			assert.False(t, resp.IsJSON())
			var v map[string]any
			assert.Error(t, resp.DecodeJSON(&v))
		})
	}
}

func TestTransport_StandardHeadersAndParams(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)
	tr.SetParam("dsid", "12345")

	_, err := tr.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL + "/x?existing=1",
		Body:   map[string]string{"k": "v"},
		Header: http.Header{"X-Custom": []string{"yes"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.icloud.com", got.Header.Get("Origin"))
	assert.Equal(t, "https://www.icloud.com/", got.Header.Get("Referer"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "yes", got.Header.Get("X-Custom"))

	q := got.URL.Query()
	assert.Equal(t, "1", q.Get("existing"))
	assert.Equal(t, "2021Project52", q.Get("clientBuildNumber"))
	assert.Equal(t, "12345", q.Get("dsid"))
	assert.Equal(t, tr.State().ClientID, q.Get("clientId"))
}

func TestTransport_NoParams(t *testing.T) {
	var rawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL, NoParams: true})
	require.NoError(t, err)
	assert.Empty(t, rawQuery)
}

func TestTransport_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "reason and numeric code",
			status: http.StatusBadRequest,
			body:   `{"errorMessage":"Bad thing","errorCode":42}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIResponseError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "Bad thing", apiErr.Reason)
				assert.Equal(t, "42", apiErr.Code)
				assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			},
		},
		{
			name:   "zone not found",
			status: http.StatusNotFound,
			body:   `{"reason":"zone missing","serverErrorCode":"ZONE_NOT_FOUND"}`,
			check: func(t *testing.T, err error) {
				var sna *ServiceNotActivatedError
				require.ErrorAs(t, err, &sna)
				assert.Contains(t, sna.Reason, "manually finish setting up")
				assert.Equal(t, "ZONE_NOT_FOUND", sna.Code)
			},
		},
		{
			name:   "authentication failed",
			status: http.StatusForbidden,
			body:   `{"reason":"no","serverErrorCode":"AUTHENTICATION_FAILED"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsServiceNotActivated(err))
			},
		},
		{
			name:   "access denied",
			status: http.StatusForbidden,
			body:   `{"reason":"Access denied","serverErrorCode":"ACCESS_DENIED"}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIResponseError
				require.ErrorAs(t, err, &apiErr)
				assert.Contains(t, apiErr.Reason, "Access denied. Please wait a few minutes then try again.")
			},
		},
		{
			name:   "incorrect verification code",
			status: http.StatusBadRequest,
			body:   `{"service_errors":[{"code":"-21669","message":"Incorrect verification code."}]}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsIncorrectCode(err))
				assert.Contains(t, err.Error(), "Incorrect verification code.")
			},
		},
		{
			name:   "error flag without reason",
			status: http.StatusOK,
			body:   `{"error":1}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIResponseError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "Unknown reason", apiErr.Reason)
			},
		},
		{
			name:   "success body with reason",
			status: http.StatusOK,
			body:   `{"errorReason":"Nope"}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIResponseError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "Nope", apiErr.Reason)
			},
		},
		{
			name:   "non JSON failure",
			status: http.StatusNotFound,
			body:   `<html>not found</html>`,
			check: func(t *testing.T, err error) {
				var apiErr *APIResponseError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "Not Found", apiErr.Reason)
				assert.Equal(t, "404", apiErr.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()
			tr := newTestTransport(t, nil)

			_, err := tr.Get(context.Background(), server.URL, nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTransport_MissingWebAuthTokenWhileSecondFactorPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"reason":"Missing X-APPLE-WEBAUTH-TOKEN cookie"}`))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	_, err := tr.Get(context.Background(), server.URL, nil)
	assert.False(t, IsSecondFactorRequired(err))

	tr.SetSecondFactorPending(func() bool { return true })
	_, err = tr.Get(context.Background(), server.URL, nil)
	assert.True(t, IsSecondFactorRequired(err))
}

func TestTransport_AcceptStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"authType":"hsa2"}`))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodPost, URL: server.URL, AcceptStatus: []int{http.StatusConflict}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTransport_OverloadRetriedWithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer server.Close()
	sleeper := &fakeSleeper{}
	tr := newTestTransport(t, sleeper)

	resp, err := tr.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsJSON())
	assert.Equal(t, int32(3), calls.Load())
	// Retry-After is capped at MaxInterval; the second wait follows the schedule.
	assert.Equal(t, []time.Duration{time.Second, 200 * time.Millisecond}, sleeper.Waits())
}

func TestTransport_OverloadExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	sleeper := &fakeSleeper{}
	tr := newTestTransport(t, sleeper)

	_, err := tr.Get(context.Background(), server.URL, nil)
	var transient *TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
	assert.Equal(t, DefaultMaxAttempts, transient.Attempts)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.Waits())
}

func TestTransport_ConnectionFailureRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	sleeper := &fakeSleeper{}
	tr := newTestTransport(t, sleeper)

	_, err := tr.Get(context.Background(), target, nil)
	require.True(t, IsTransient(err))
	assert.Len(t, sleeper.Waits(), DefaultMaxAttempts-1)
}

func TestTransport_ReauthOnceThenRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(421)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	var reauths atomic.Int32
	tr.SetReauthenticator(func(ctx context.Context) error {
		reauths.Add(1)
		return nil
	})

	_, err := tr.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), reauths.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransport_ReauthBounded(t *testing.T) {
	for _, status := range []int{421, 450, 500} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			}))
			defer server.Close()
			tr := newTestTransport(t, nil)

			var reauths atomic.Int32
			tr.SetReauthenticator(func(ctx context.Context) error {
				reauths.Add(1)
				return nil
			})

			_, err := tr.Get(context.Background(), server.URL, nil)
			var apiErr *APIResponseError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, ReasonAuthenticationRequired, apiErr.Reason)
			assert.Equal(t, status, apiErr.StatusCode)
			assert.Equal(t, int32(1), reauths.Load())
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}

func TestTransport_NoReauth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(421)
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	called := false
	tr.SetReauthenticator(func(ctx context.Context) error {
		called = true
		return nil
	})

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodPost, URL: server.URL, NoReauth: true})
	var apiErr *APIResponseError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "421", apiErr.Code)
	assert.False(t, called)
}

func TestTransport_ReauthFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(450)
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	boom := errors.New("renewal rejected")
	tr.SetReauthenticator(func(ctx context.Context) error { return boom })

	_, err := tr.Get(context.Background(), server.URL, nil)
	assert.ErrorIs(t, err, boom)
}

func TestTransport_ConcurrentReauthCollapses(t *testing.T) {
	var renewed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !renewed.Load() {
			w.WriteHeader(421)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	var reauths atomic.Int32
	release := make(chan struct{})
	tr.SetReauthenticator(func(ctx context.Context) error {
		reauths.Add(1)
		<-release
		renewed.Store(true)
		return nil
	})

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Get(context.Background(), server.URL, nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return reauths.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, reauths.Load(), int32(callers))
}

func TestTransport_PersistsTrackedHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Apple-Session-Token", "fresh-token")
		w.Header().Set("scnt", "scnt-1")
		http.SetCookie(w, &http.Cookie{Name: "X-APPLE-WEBAUTH-VALIDATE", Value: "v=1:t=TOKEN:x", Path: "/"})
	}))
	defer server.Close()

	store := newTestStore(t)
	tr, err := New("user@example.com", store)
	require.NoError(t, err)
	clientID := tr.State().ClientID

	_, err = tr.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)

	reopened, err := New("user@example.com", store)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", reopened.State().SessionToken)
	assert.Equal(t, "scnt-1", reopened.State().SCNT)
	assert.Equal(t, clientID, reopened.State().ClientID)

	v, ok := reopened.Jar().Value("X-APPLE-WEBAUTH-VALIDATE")
	require.True(t, ok)
	assert.Equal(t, "v=1:t=TOKEN:x", v)
}

func TestTransport_WithClientID(t *testing.T) {
	store := newTestStore(t)
	tr, err := New("user@example.com", store, WithClientID("auth-fixed"))
	require.NoError(t, err)
	assert.Equal(t, "auth-fixed", tr.State().ClientID)
	assert.Equal(t, "auth-fixed", store.Load("user@example.com").ClientID)
}

func TestTransport_Reset(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("user@example.com", State{SessionToken: "t", TrustToken: "trust", ClientID: "auth-x"}))
	tr, err := New("user@example.com", store)
	require.NoError(t, err)

	require.NoError(t, tr.Reset())
	state := store.Load("user@example.com")
	assert.Empty(t, state.SessionToken)
	assert.Equal(t, "trust", state.TrustToken)
	assert.Equal(t, "auth-x", state.ClientID)
}

func TestTransport_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("binary-content"))
	}))
	defer server.Close()
	tr := newTestTransport(t, nil)

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()
	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "binary-content", string(data))
}

func TestTransport_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	sleeper := &fakeSleeper{}
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	policy.Sleep = sleeper.Sleep
	tr, err := New("user@example.com", newTestStore(t),
		WithRetryPolicy(policy),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	_, err = tr.Get(context.Background(), server.URL, nil)
	require.True(t, IsTransient(err))
	assert.Len(t, sleeper.Waits(), 1)
}

func TestTransport_ExchangeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	sleeper := &fakeSleeper{}
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	policy.Sleep = sleeper.Sleep
	tr, err := New("user@example.com", newTestStore(t),
		WithRetryPolicy(policy),
		WithTimeout(50*time.Millisecond),
		WithHTTPClient(&http.Client{}))
	require.NoError(t, err)

	_, err = tr.Get(context.Background(), server.URL, nil)
	require.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sleeper.Waits(), 1)
}

func TestTransport_StreamOutlivesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			_, _ = io.WriteString(w, "chunk")
			flusher.Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	defer server.Close()

	timeout := 100 * time.Millisecond
	tr, err := New("user@example.com", newTestStore(t),
		WithTimeout(timeout),
		WithHTTPClient(NewHTTPClient(timeout)))
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL, Stream: true})
	require.NoError(t, err)
	defer resp.Stream.Close()
	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("chunk", 5), string(data))
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(5 * time.Second)
	assert.Zero(t, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, tr.ResponseHeaderTimeout)

	c = NewHTTPClient(0)
	assert.Equal(t, DefaultTimeout, c.Transport.(*http.Transport).ResponseHeaderTimeout)
}

func TestTransport_PostNotReplayedAfterSend(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer server.Close()

	sleeper := &fakeSleeper{}
	tr := newTestTransport(t, sleeper)

	_, err := tr.PostJSON(context.Background(), server.URL, nil, map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.Waits())
}
