// Package icloud wires the credential store, session persistence, transport,
// authenticator and service directory together for one account.
//
//	client, err := icloud.New("user@example.com", icloud.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	outcome, err := client.Authenticate(ctx, auth.Options{})
package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"icloudgo/internal/account"
	"icloudgo/internal/auth"
	"icloudgo/internal/config"
	"icloudgo/internal/credentials"
	"icloudgo/internal/drive"
	"icloudgo/internal/findmy"
	"icloudgo/internal/photos"
	"icloudgo/internal/session"
	"icloudgo/internal/webservices"
	"icloudgo/pkg/logging"
)

// Client is the handle on one account.
type Client struct {
	identity  string
	cfg       config.Config
	endpoints config.Endpoints
	logger    *slog.Logger

	store     *session.Store
	transport *session.Transport
	authn     *auth.Authenticator
	services  *webservices.Directory
}

type options struct {
	cfg         config.Config
	password    string
	credentials *credentials.Store
	logger      *slog.Logger
	httpClient  *http.Client
	endpoints   *config.Endpoints
	retry       *session.RetryPolicy
}

// Option configures New.
type Option func(*options)

// WithConfig sets the configuration. Zero fields take their defaults.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithPassword supplies the password explicitly instead of reading it from
// the credential store.
func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

// WithCredentials sets the credential store used when no password is given.
func WithCredentials(store *credentials.Store) Option {
	return func(o *options) { o.credentials = store }
}

// WithLogger sets the base logger. The client wraps it in a handler that
// redacts the password.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used for every exchange.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) { o.httpClient = httpClient }
}

// WithEndpoints overrides the region endpoints.
func WithEndpoints(endpoints config.Endpoints) Option {
	return func(o *options) { o.endpoints = &endpoints }
}

// WithRetryPolicy overrides the retry policy derived from the configuration.
func WithRetryPolicy(policy *session.RetryPolicy) Option {
	return func(o *options) { o.retry = policy }
}

// New builds a client for identity. The password is resolved immediately; a
// missing password fails with a *credentials.UnavailableError. No network
// exchange happens until Authenticate.
func New(identity string, opts ...Option) (*Client, error) {
	if identity == "" {
		return nil, errors.New("identity must not be empty")
	}
	o := options{cfg: config.GetDefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := withDefaults(o.cfg)

	if o.credentials == nil {
		o.credentials = credentials.NewStore(nil)
	}
	password, err := o.credentials.ResolvePassword(identity, o.password)
	if err != nil {
		return nil, err
	}

	base := o.logger
	if base == nil {
		base = logging.Logger()
	}
	logger := logging.NewRedactingLogger(base, password).With("account", identity)

	endpoints := cfg.Region.Endpoints()
	if o.endpoints != nil {
		endpoints = *o.endpoints
	}

	store, err := session.NewStore(cfg.CookieDirectory, logger)
	if err != nil {
		return nil, err
	}

	retry := o.retry
	if retry == nil {
		retry = session.DefaultRetryPolicy()
		retry.MaxAttempts = cfg.Retry.MaxAttempts
		retry.InitialInterval = cfg.Retry.InitialInterval
		retry.MaxInterval = cfg.Retry.MaxInterval
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = session.NewHTTPClient(cfg.Timeout)
	}

	transport, err := session.New(identity, store,
		session.WithHTTPClient(httpClient),
		session.WithLogger(logger),
		session.WithRetryPolicy(retry),
		session.WithTimeout(cfg.Timeout),
		session.WithHomeEndpoint(endpoints.Home),
		session.WithClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session for %s: %w", identity, err)
	}

	authn := auth.New(transport, password, endpoints)
	return &Client{
		identity:  identity,
		cfg:       cfg,
		endpoints: endpoints,
		logger:    logger,
		store:     store,
		transport: transport,
		authn:     authn,
		services:  webservices.New(authn, transport, cfg.WithFamily),
	}, nil
}

func withDefaults(cfg config.Config) config.Config {
	defaults := config.GetDefaultConfig()
	if cfg.Region == "" {
		cfg.Region = defaults.Region
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = defaults.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = defaults.Retry.MaxInterval
	}
	if cfg.CookieDirectory == "" {
		cfg.CookieDirectory = filepath.Join(os.TempDir(), "icloudgo")
	}
	return cfg
}

func (c *Client) String() string {
	return "iCloud API: " + c.identity
}

// Identity returns the account identifier.
func (c *Client) Identity() string { return c.identity }

// Config returns the effective configuration.
func (c *Client) Config() config.Config { return c.cfg }

// Logger returns the client's redacting logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Auth returns the authenticator.
func (c *Client) Auth() *auth.Authenticator { return c.authn }

// Transport returns the transport.
func (c *Client) Transport() *session.Transport { return c.transport }

// Services returns the service directory.
func (c *Client) Services() *webservices.Directory { return c.services }

// SessionPath returns the file holding the persisted session state.
func (c *Client) SessionPath() string { return c.store.SessionPath(c.identity) }

// CookiePath returns the file holding the persisted cookies.
func (c *Client) CookiePath() string { return c.store.CookiePath(c.identity) }

// Authenticate logs in or revalidates the persisted session. Resource
// clients built before a full login are dropped so they pick up the new
// service map.
func (c *Client) Authenticate(ctx context.Context, opts auth.Options) (*auth.LoginOutcome, error) {
	out, err := c.authn.Authenticate(ctx, opts)
	if err != nil {
		return out, err
	}
	c.services.Reset()
	return out, nil
}

// Logout drops the session and cookies. The trust token and client id are
// kept so the next login is recognized as coming from the same browser.
func (c *Client) Logout() error {
	c.services.Reset()
	return c.transport.Reset()
}

// Account returns the account information client.
func (c *Client) Account() (*account.Client, error) { return c.services.Account() }

// Drive returns the file storage client.
func (c *Client) Drive() (*drive.Client, error) { return c.services.Drive() }

// Photos returns the photo library service.
func (c *Client) Photos(ctx context.Context) (*photos.Service, error) {
	return c.services.Photos(ctx)
}

// FindMy returns the device locator client.
func (c *Client) FindMy() (*findmy.Client, error) { return c.services.FindMy() }

// Devices lists the locatable devices of the account.
func (c *Client) Devices(ctx context.Context) ([]*findmy.Device, error) {
	fm, err := c.services.FindMy()
	if err != nil {
		return nil, err
	}
	return fm.Devices(ctx)
}
