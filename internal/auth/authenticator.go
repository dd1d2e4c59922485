package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"icloudgo/internal/config"
	"icloudgo/internal/session"
	"icloudgo/internal/srp"
)

// WidgetKey identifies the web client to the sign-in service.
const WidgetKey = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"

const (
	reasonInvalidCredentials = "Invalid email/password combination."
	reasonInvalidToken       = "Invalid authentication token."
)

// ErrNoChallenge is returned by the second factor operations when no
// matching challenge is outstanding.
var ErrNoChallenge = errors.New("no second factor challenge is outstanding")

// ErrNotAuthenticated is returned for resource access before a successful
// Authenticate.
var ErrNotAuthenticated = errors.New("not authenticated")

// Options controls a single Authenticate call.
type Options struct {
	// ForceRefresh skips the validation probe and performs a full login.
	ForceRefresh bool
	// Service names an app to try single factor login for first. It is only
	// used when the cached capabilities allow it.
	Service string
}

// Authenticator drives the login handshake for one identity over a
// session.Transport and keeps the resulting capabilities.
//
// The Authenticator installs itself as the Transport's reauthentication hook;
// every request it issues itself disables that hook.
type Authenticator struct {
	transport *session.Transport
	endpoints config.Endpoints
	password  string
	logger    *slog.Logger

	// flight serializes whole handshakes.
	flight sync.Mutex

	mu    sync.RWMutex
	phase Phase
	caps  *Capabilities
}

// New creates an Authenticator for the transport's identity.
func New(transport *session.Transport, password string, endpoints config.Endpoints) *Authenticator {
	a := &Authenticator{
		transport: transport,
		endpoints: endpoints,
		password:  password,
		logger:    transport.Logger().With("subsystem", "auth"),
	}
	transport.SetReauthenticator(a.revalidate)
	transport.SetSecondFactorPending(func() bool {
		return a.Phase() == PhaseSecondFactorPending
	})
	return a
}

// Phase returns the current phase.
func (a *Authenticator) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

// Capabilities returns the current account payload, or nil before the first
// successful exchange.
func (a *Authenticator) Capabilities() *Capabilities {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.caps
}

// RequiresSecondFactor reports whether a two-factor code is outstanding.
func (a *Authenticator) RequiresSecondFactor() bool {
	return a.Capabilities().RequiresTwoFactor()
}

// RequiresTwoStep reports whether any second factor is outstanding.
func (a *Authenticator) RequiresTwoStep() bool {
	return a.Capabilities().RequiresTwoStep()
}

// IsTrustedSession reports whether the server marked this browser trusted.
func (a *Authenticator) IsTrustedSession() bool {
	caps := a.Capabilities()
	return caps != nil && caps.HSATrustedBrowser
}

// RequireAuthenticated returns nil when resources may be accessed.
func (a *Authenticator) RequireAuthenticated() error {
	switch a.Phase() {
	case PhaseAuthenticated:
		return nil
	case PhaseSecondFactorPending:
		return &session.SecondFactorRequiredError{
			Reason: fmt.Sprintf("%s authentication required for account %s", a.Capabilities().Challenge(), a.transport.Identity()),
		}
	default:
		return ErrNotAuthenticated
	}
}

func (a *Authenticator) setPhase(p Phase) {
	a.mu.Lock()
	prev := a.phase
	a.phase = p
	a.mu.Unlock()
	if prev != p {
		a.logger.Debug("Authentication phase changed", "from", prev.String(), "to", p.String())
	}
}

// adopt installs fresh capabilities and moves to the phase they imply.
func (a *Authenticator) adopt(caps *Capabilities) {
	a.mu.Lock()
	a.caps = caps
	a.mu.Unlock()

	if caps.DSInfo.DSID != "" {
		a.transport.SetParam("dsid", caps.DSInfo.DSID)
	}
	if caps.RequiresTwoStep() {
		a.setPhase(PhaseSecondFactorPending)
		return
	}
	a.setPhase(PhaseTrusted)
	a.setPhase(PhaseAuthenticated)
}

func (a *Authenticator) outcome() *LoginOutcome {
	caps := a.Capabilities()
	if !caps.RequiresTwoStep() {
		return &LoginOutcome{Kind: OutcomeSuccess}
	}
	return &LoginOutcome{Kind: OutcomeSecondFactorRequired, Challenge: caps.Challenge()}
}

// Authenticate establishes an authorized session.
//
// With a session token present and ForceRefresh unset, a validation probe is
// tried once; if it succeeds no credentials are exchanged. Otherwise the
// password is verified and the account payload fetched. An outstanding
// second factor is reported as OutcomeSecondFactorRequired, not as an error.
// Rejected credentials return OutcomeRejected together with a
// *session.LoginFailedError.
func (a *Authenticator) Authenticate(ctx context.Context, opts Options) (*LoginOutcome, error) {
	a.flight.Lock()
	defer a.flight.Unlock()

	if a.transport.State().SessionToken != "" && !opts.ForceRefresh {
		a.logger.Debug("Checking session token validity")
		caps, err := a.validateToken(ctx)
		if err == nil {
			a.adopt(caps)
			a.logger.Debug("Session token is still valid")
			return a.withDevices(ctx, a.outcome()), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Debug("Invalid authentication token, will log in from scratch.", "error", err)
	}

	if opts.Service != "" && a.Capabilities().CanLaunchWithOneFactor(opts.Service) {
		a.logger.Debug("Authenticating with service credentials", "service", opts.Service)
		caps, err := a.authenticateWithService(ctx, opts.Service)
		if err == nil {
			a.adopt(caps)
			return a.outcome(), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Debug("Service authentication failed, falling back to full login", "service", opts.Service, "error", err)
	}

	a.setPhase(PhaseUnauthenticated)
	a.logger.Debug("Authenticating", "account", a.transport.Identity())

	if err := a.signIn(ctx); err != nil {
		var apiErr *session.APIResponseError
		if errors.As(err, &apiErr) || errors.Is(err, srp.ErrInvalidChallenge) {
			a.setPhase(PhaseLoginFailed)
			return &LoginOutcome{Kind: OutcomeRejected, Reason: reasonInvalidCredentials},
				&session.LoginFailedError{Reason: reasonInvalidCredentials, Err: err}
		}
		a.setPhase(PhaseLoginFailed)
		return nil, err
	}
	a.setPhase(PhasePasswordVerified)

	caps, err := a.accountLogin(ctx)
	if err != nil {
		a.setPhase(PhaseLoginFailed)
		if session.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		return &LoginOutcome{Kind: OutcomeRejected, Reason: reasonInvalidToken},
			&session.LoginFailedError{Reason: reasonInvalidToken, Err: err}
	}
	a.adopt(caps)
	a.logger.Debug("Authentication completed successfully")
	return a.withDevices(ctx, a.outcome()), nil
}

// withDevices attaches the trusted device list to a two-step outcome. A
// failed lookup leaves the list empty.
func (a *Authenticator) withDevices(ctx context.Context, out *LoginOutcome) *LoginOutcome {
	if out.Kind != OutcomeSecondFactorRequired || out.Challenge != ChallengeTwoStep {
		return out
	}
	devices, err := a.TrustedDevices(ctx)
	if err != nil {
		a.logger.Debug("Could not list trusted devices", "error", err)
		return out
	}
	out.Devices = devices
	return out
}

// revalidate is the Transport's reauthentication hook.
func (a *Authenticator) revalidate(ctx context.Context) error {
	out, err := a.Authenticate(ctx, Options{})
	if err != nil {
		return err
	}
	if out.Kind == OutcomeSecondFactorRequired {
		return a.RequireAuthenticated()
	}
	return nil
}

// authHeaders returns the header set the sign-in service expects.
func (a *Authenticator) authHeaders() http.Header {
	state := a.transport.State()
	h := make(http.Header)
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/json")
	h.Set("X-Apple-OAuth-Client-Id", WidgetKey)
	h.Set("X-Apple-OAuth-Client-Type", "firstPartyAuth")
	h.Set("X-Apple-OAuth-Redirect-URI", a.endpoints.Home)
	h.Set("X-Apple-OAuth-Require-Grant-Code", "true")
	h.Set("X-Apple-OAuth-Response-Mode", "web_message")
	h.Set("X-Apple-OAuth-Response-Type", "code")
	h.Set("X-Apple-OAuth-State", state.ClientID)
	h.Set("X-Apple-Widget-Key", WidgetKey)
	if state.SCNT != "" {
		h.Set("scnt", state.SCNT)
	}
	if state.SessionID != "" {
		h.Set("X-Apple-ID-Session-Id", state.SessionID)
	}
	return h
}

type signinInitResponse struct {
	Iteration int    `json:"iteration"`
	Salt      string `json:"salt"`
	Protocol  string `json:"protocol"`
	B         string `json:"b"`
	C         string `json:"c"`
}

// signIn performs the SRP password verification.
func (a *Authenticator) signIn(ctx context.Context) error {
	client, err := srp.NewClient()
	if err != nil {
		return err
	}
	account := a.transport.Identity()

	resp, err := a.transport.Do(ctx, &session.Request{
		Method: http.MethodPost,
		URL:    a.endpoints.Auth + "/signin/init",
		Body: map[string]any{
			"a":           base64.StdEncoding.EncodeToString(client.PublicKey()),
			"accountName": account,
			"protocols":   srp.Protocols(),
		},
		Header:   a.authHeaders(),
		NoReauth: true,
		NoParams: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initiate srp authentication: %w", err)
	}

	var challenge signinInitResponse
	if err := resp.DecodeJSON(&challenge); err != nil {
		return fmt.Errorf("invalid srp challenge: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(challenge.Salt)
	if err != nil {
		return fmt.Errorf("invalid srp salt: %w", err)
	}
	serverPublic, err := base64.StdEncoding.DecodeString(challenge.B)
	if err != nil {
		return fmt.Errorf("invalid srp public key: %w", err)
	}

	derived, err := srp.DerivePassword(a.password, salt, challenge.Iteration, challenge.Protocol)
	if err != nil {
		return err
	}
	proof, err := client.ProcessChallenge(account, derived, salt, serverPublic)
	if err != nil {
		return err
	}

	trustTokens := []string{}
	if trust := a.transport.State().TrustToken; trust != "" {
		trustTokens = append(trustTokens, trust)
	}
	_, err = a.transport.Do(ctx, &session.Request{
		Method: http.MethodPost,
		URL:    a.endpoints.Auth + "/signin/complete",
		Params: map[string][]string{"isRememberMeEnabled": {"true"}},
		Body: map[string]any{
			"accountName": account,
			"c":           challenge.C,
			"m1":          base64.StdEncoding.EncodeToString(proof.M1),
			"m2":          base64.StdEncoding.EncodeToString(proof.M2),
			"rememberMe":  true,
			"trustTokens": trustTokens,
		},
		Header: a.authHeaders(),
		// 409 signals that a second factor follows.
		AcceptStatus: []int{http.StatusConflict},
		NoReauth:     true,
		NoParams:     true,
	})
	if err != nil {
		return fmt.Errorf("invalid email/password combination: %w", err)
	}
	return nil
}

// accountLogin exchanges the session token for the account payload.
func (a *Authenticator) accountLogin(ctx context.Context) (*Capabilities, error) {
	state := a.transport.State()
	return a.fetchCapabilities(ctx, "/accountLogin", map[string]any{
		"accountCountryCode": state.AccountCountry,
		"dsWebAuthToken":     state.SessionToken,
		"extended_login":     true,
		"trustToken":         state.TrustToken,
	})
}

// validateToken is the lightweight validation probe.
func (a *Authenticator) validateToken(ctx context.Context) (*Capabilities, error) {
	return a.fetchCapabilities(ctx, "/validate", "null")
}

func (a *Authenticator) authenticateWithService(ctx context.Context, service string) (*Capabilities, error) {
	if _, err := a.fetchCapabilities(ctx, "/accountLogin", map[string]any{
		"appName":  service,
		"apple_id": a.transport.Identity(),
		"password": a.password,
	}); err != nil {
		return nil, err
	}
	return a.validateToken(ctx)
}

func (a *Authenticator) fetchCapabilities(ctx context.Context, path string, body any) (*Capabilities, error) {
	resp, err := a.transport.Do(ctx, &session.Request{
		Method:   http.MethodPost,
		URL:      a.endpoints.Setup + path,
		Body:     body,
		NoReauth: true,
	})
	if err != nil {
		return nil, err
	}
	var caps Capabilities
	if err := resp.DecodeJSON(&caps); err != nil {
		return nil, fmt.Errorf("invalid account payload from %s: %w", path, err)
	}
	return &caps, nil
}
