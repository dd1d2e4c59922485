package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single exchange unless WithTimeout says otherwise.
// A streamed body is only bounded until its headers arrive.
const DefaultTimeout = 30 * time.Second

// Fixed build identifiers sent with every setup and resource request.
var defaultParams = map[string]string{
	"clientBuildNumber":     "2021Project52",
	"clientMasteringNumber": "2021B29",
	"ckjsBuildVersion":      "17DProjectDev77",
	"ckjsVersion":           "2.0.5",
}

// ReauthFunc renews an expired session. It is invoked at most once per
// logical call and must issue its own requests with NoReauth set.
type ReauthFunc func(ctx context.Context) error

// Request describes one logical exchange.
type Request struct {
	Method string
	URL    string
	// Params are merged over the transport's standard query parameters.
	Params url.Values
	// Body is sent as is when it is []byte, string or io.Reader and JSON
	// encoded otherwise.
	Body   any
	Header http.Header
	// AcceptStatus lists non-2xx statuses treated as success.
	AcceptStatus []int
	// NoReauth disables session renewal on authorization expiry.
	NoReauth bool
	// NoParams suppresses the standard query parameters.
	NoParams bool
	// Stream leaves a successful response body open in Response.Stream.
	Stream bool
}

// Doer executes exchanges. *Transport implements it; resource clients accept
// it so tests can substitute their own.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Response is a completed exchange. Body holds the full payload unless the
// request asked for a stream.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
}

// IsJSON reports whether Body holds well-formed JSON.
func (r *Response) IsJSON() bool {
	return len(bytes.TrimSpace(r.Body)) > 0 && json.Valid(r.Body)
}

// DecodeJSON unmarshals Body into v.
func (r *Response) DecodeJSON(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("response (%d) has no JSON body", r.StatusCode)
	}
	return json.Unmarshal(r.Body, v)
}

// Transport executes exchanges for one identity. It owns the identity's
// session state and cookie jar and persists both after every exchange that
// changes them.
type Transport struct {
	identity   string
	store      *Store
	jar        *Jar
	httpClient *http.Client
	logger     *slog.Logger
	retry      *RetryPolicy
	timeout    time.Duration
	headers    http.Header

	mu      sync.Mutex
	state   State
	params  url.Values
	reauth  ReauthFunc
	pending func() bool

	group singleflight.Group
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client. Its cookie jar is replaced by the
// identity's persistent jar.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = httpClient
	}
}

// WithLogger sets the logger. Callers holding a password should pass a
// logger built with logging.NewRedactingLogger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithTimeout bounds each exchange. A non-positive value uses DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(t *Transport) {
		t.retry = policy
	}
}

// WithHomeEndpoint sets the Origin and Referer headers sent on every request.
func WithHomeEndpoint(home string) Option {
	return func(t *Transport) {
		t.headers.Set("Origin", home)
		t.headers.Set("Referer", home+"/")
	}
}

// WithClientID pins the client identifier instead of reusing the persisted
// one or generating a new one.
func WithClientID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.state.ClientID = id
		}
	}
}

// NewHTTPClient returns a pooled HTTP client that waits at most timeout for
// response headers. It sets no overall client timeout, so long downloads are
// not cut short; the Transport bounds whole exchanges itself. A non-positive
// timeout uses DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := cleanhttp.DefaultPooledClient()
	if tr, ok := c.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = timeout
	}
	return c
}

// New creates a Transport for identity, loading its session state and
// cookies from store.
func New(identity string, store *Store, opts ...Option) (*Transport, error) {
	if identity == "" {
		return nil, errors.New("identity must not be empty")
	}
	if store == nil {
		return nil, errors.New("session store must not be nil")
	}

	t := &Transport{
		identity: identity,
		store:    store,
		logger:   slog.Default(),
		retry:    DefaultRetryPolicy(),
		headers:  make(http.Header),
		params:   make(url.Values),
	}
	t.state = store.Load(identity)
	persisted := t.state.ClientID

	for _, opt := range opts {
		opt(t)
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.httpClient == nil {
		t.httpClient = NewHTTPClient(t.timeout)
	}

	t.jar = LoadJar(store.CookiePath(identity), t.logger)
	t.httpClient.Jar = t.jar

	if t.state.ClientID == "" {
		t.state.ClientID = NewClientID()
	}
	for k, v := range defaultParams {
		t.params.Set(k, v)
	}
	t.params.Set("clientId", t.state.ClientID)

	if t.state.ClientID != persisted {
		if err := store.Save(identity, t.state); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Identity returns the account identifier the transport is bound to.
func (t *Transport) Identity() string {
	return t.identity
}

// Jar returns the persistent cookie jar.
func (t *Transport) Jar() *Jar {
	return t.jar
}

// Logger returns the transport's logger.
func (t *Transport) Logger() *slog.Logger {
	return t.logger
}

// State returns a copy of the current session state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateState applies fn to the session state and persists the result if it
// changed.
func (t *Transport) UpdateState(fn func(*State)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.state
	fn(&t.state)
	if t.state == before {
		return nil
	}
	return t.store.Save(t.identity, t.state)
}

// SetParam sets a standard query parameter sent with every request.
func (t *Transport) SetParam(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params.Set(key, value)
}

// Params returns a copy of the standard query parameters.
func (t *Transport) Params() url.Values {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(url.Values, len(t.params))
	for k, v := range t.params {
		out[k] = slices.Clone(v)
	}
	return out
}

// SetReauthenticator installs the hook used to renew expired sessions.
func (t *Transport) SetReauthenticator(fn ReauthFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reauth = fn
}

// SetSecondFactorPending installs the predicate telling the transport
// whether a second factor challenge is outstanding.
func (t *Transport) SetSecondFactorPending(fn func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = fn
}

// Reset drops the session and every cookie, keeping the client id and the
// trust token.
func (t *Transport) Reset() error {
	t.jar.Clear()
	if err := t.jar.Save(); err != nil {
		return err
	}
	return t.UpdateState(func(s *State) { s.ClearSession() })
}

// Get issues a GET request.
func (t *Transport) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return t.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL, Params: params})
}

// PostJSON issues a POST request with a JSON body.
func (t *Transport) PostJSON(ctx context.Context, rawURL string, params url.Values, body any) (*Response, error) {
	return t.Do(ctx, &Request{Method: http.MethodPost, URL: rawURL, Params: params, Body: body})
}

// Do executes req. Overload responses and network failures are retried
// within the retry policy; an expired session is renewed once through the
// reauthentication hook. Other failures are returned as typed errors.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	target, err := t.buildURL(req)
	if err != nil {
		return nil, err
	}

	schedule := t.retry.schedule()
	maxAttempts := t.retry.maxAttempts()
	reauthed := false

	for attempt := 1; ; attempt++ {
		resp, err := t.send(ctx, req, target, body, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsRetryableNetworkError(err) {
				return nil, fmt.Errorf("%s %s: %w", req.Method, target, err)
			}
			if attempt >= maxAttempts || !IsReplayableError(req.Method, err) {
				return nil, &TransientNetworkError{Method: req.Method, URL: target, Attempts: attempt, Err: err}
			}
			wait := t.retry.delay(schedule, nil)
			t.logger.Info("Request failed, retrying", "method", req.Method, "url", target, "attempt", attempt, "wait", wait, "error", err)
			if err := t.retry.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		t.track(resp)

		status := resp.StatusCode
		switch {
		case isSuccess(status, req.AcceptStatus):
			if req.Stream {
				if b, ok := resp.Body.(*boundedBody); ok {
					b.unbound()
				}
				return &Response{StatusCode: status, Header: resp.Header, Stream: resp.Body}, nil
			}
			out, err := readResponse(resp)
			if err != nil {
				return nil, err
			}
			if reason, code := extractError(out.Body); reason != "" {
				return nil, t.classify(status, code, reason)
			}
			return out, nil

		case IsReauthStatus(status):
			out, err := readResponse(resp)
			if err != nil {
				return nil, err
			}
			if req.NoReauth || reauthed || t.reauthHook() == nil {
				t.logger.Debug("Authorization expired", "method", req.Method, "url", target, "status", status)
				reason, code := extractError(out.Body)
				if reason == "" || code == "" {
					return nil, &APIResponseError{Reason: ReasonAuthenticationRequired, Code: strconv.Itoa(status), StatusCode: status}
				}
				return nil, t.classify(status, code, reason)
			}
			reauthed = true
			t.logger.Debug("Authorization expired, renewing session", "method", req.Method, "url", target, "status", status)
			if err := t.reauthenticate(ctx); err != nil {
				return nil, err
			}
			attempt--
			continue

		case t.retry.retryableStatus(status):
			_ = drain(resp)
			if attempt >= maxAttempts {
				return nil, &TransientNetworkError{Method: req.Method, URL: target, StatusCode: status, Attempts: attempt}
			}
			wait := t.retry.delay(schedule, resp)
			t.logger.Info("Server overloaded, retrying", "method", req.Method, "url", target, "status", status, "attempt", attempt, "wait", wait)
			if err := t.retry.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		default:
			out, err := readResponse(resp)
			if err != nil {
				return nil, err
			}
			reason, code := extractError(out.Body)
			if reason == "" {
				reason = http.StatusText(status)
			}
			if code == "" {
				code = strconv.Itoa(status)
			}
			return nil, t.classify(status, code, reason)
		}
	}
}

func (t *Transport) send(ctx context.Context, req *Request, target string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	exchangeCtx, cancel := context.WithCancel(ctx)
	var expired atomic.Bool
	timer := time.AfterFunc(t.timeout, func() {
		expired.Store(true)
		cancel()
	})
	httpReq, err := http.NewRequestWithContext(exchangeCtx, req.Method, target, reader)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range t.headers {
		httpReq.Header[k] = slices.Clone(v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = slices.Clone(v)
	}

	t.logger.Debug("Sending request", "method", req.Method, "url", target)
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		timer.Stop()
		cancel()
		if expired.Load() && ctx.Err() == nil {
			return nil, fmt.Errorf("no response within %s: %w", t.timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	t.logger.Debug("Received response", "method", req.Method, "url", target, "status", resp.StatusCode)
	resp.Body = &boundedBody{ReadCloser: resp.Body, timer: timer, cancel: cancel}
	return resp, nil
}

// boundedBody releases the exchange context once the body is closed.
type boundedBody struct {
	io.ReadCloser
	timer  *time.Timer
	cancel context.CancelFunc
}

func (b *boundedBody) Close() error {
	b.timer.Stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// unbound lifts the exchange deadline from a body handed to the caller.
func (b *boundedBody) unbound() {
	b.timer.Stop()
}

// track records session headers and cookies carried by resp.
func (t *Transport) track(resp *http.Response) {
	t.mu.Lock()
	changed := t.state.UpdateFromHeaders(resp.Header)
	var err error
	if changed {
		err = t.store.Save(t.identity, t.state)
	}
	t.mu.Unlock()
	if err != nil {
		t.logger.Warn("Failed to persist session state", "error", err)
	}

	if len(resp.Header.Values("Set-Cookie")) > 0 {
		if err := t.jar.Save(); err != nil {
			t.logger.Warn("Failed to persist cookies", "error", err)
		}
	}
}

// reauthenticate collapses concurrent renewals into one exchange.
func (t *Transport) reauthenticate(ctx context.Context) error {
	hook := t.reauthHook()
	_, err, _ := t.group.Do("reauth", func() (any, error) {
		return nil, hook(ctx)
	})
	return err
}

func (t *Transport) reauthHook() ReauthFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reauth
}

func (t *Transport) classify(status int, code, reason string) error {
	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	err := classifyError(status, code, reason, pending != nil && pending())
	t.logger.Debug("Request rejected", "status", status, "code", code, "reason", reason)
	return err
}

func (t *Transport) buildURL(req *Request) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}
	query := u.Query()
	if !req.NoParams {
		for k, v := range t.Params() {
			if _, ok := query[k]; !ok {
				query[k] = v
			}
		}
	}
	for k, v := range req.Params {
		query[k] = slices.Clone(v)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read request body: %w", err)
		}
		return data, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

func isSuccess(status int, accept []int) bool {
	return (status >= 200 && status < 300) || slices.Contains(accept, status)
}

func readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	_, err := io.Copy(io.Discard, resp.Body)
	return err
}

// extractError pulls a reason and code out of a JSON error payload. Bodies
// that are not JSON objects yield no reason.
func extractError(body []byte) (reason, code string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", ""
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return "", ""
	}

	for _, key := range []string{"errorMessage", "reason", "errorReason"} {
		if s := asString(data[key]); s != "" {
			reason = s
			break
		}
	}
	if reason == "" {
		switch v := data["error"].(type) {
		case string:
			reason = v
		case nil:
		default:
			if truthy(v) {
				reason = "Unknown reason"
			}
		}
	}
	for _, key := range []string{"errorCode", "serverErrorCode"} {
		if s := asString(data[key]); s != "" {
			code = s
			break
		}
	}

	for _, key := range []string{"service_errors", "serviceErrors"} {
		errs, ok := data[key].([]any)
		if !ok || len(errs) == 0 {
			continue
		}
		if first, ok := errs[0].(map[string]any); ok {
			if reason == "" {
				reason = asString(first["message"])
			}
			if code == "" {
				code = asString(first["code"])
			}
		}
		break
	}
	return reason, code
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		return strings.Trim(b.String(), "0.-") != ""
	case []any:
		return len(b) > 0
	case map[string]any:
		return len(b) > 0
	}
	return false
}
