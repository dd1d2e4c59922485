package mock

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"icloudgo/internal/srp"
)

const (
	AuthPath  = "/appleauth/auth"
	SetupPath = "/setup/ws/1"

	webAuthTokenCookie    = "X-APPLE-WEBAUTH-TOKEN"
	webAuthValidateCookie = "X-APPLE-WEBAUTH-VALIDATE"

	widgetKey = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"
)

// Server is a fake of the sign-in and setup endpoints. It verifies SRP
// proofs, tracks sessions and trust tokens, and drives two-step and
// two-factor challenges. Extra resource handlers can be mounted with Handle.
type Server struct {
	config ServerConfig
	clock  Clock

	httpServer *httptest.Server
	mux        *http.ServeMux

	mu          sync.Mutex
	accounts    map[string]*accountEntry
	pendingSRP  map[string]*srpPending
	authByID    map[string]*authSession
	authByToken map[string]*authSession
	webSessions map[string]*webSession
	trustTokens map[string]string
	counts      map[string]int
	overloaded  int
}

type accountEntry struct {
	Account
	salt     []byte
	verifier []byte
}

type srpPending struct {
	account      *accountEntry
	server       *srp.Server
	salt         []byte
	clientPublic []byte
}

type authSession struct {
	id       string
	scnt     string
	account  *accountEntry
	verified bool
	trusted  bool
}

type webSession struct {
	auth      *authSession
	oneFactor bool
	created   time.Time
}

// NewServer creates a server for cfg. Call Start before use.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		config:      cfg,
		clock:       cfg.Clock,
		mux:         http.NewServeMux(),
		accounts:    make(map[string]*accountEntry),
		pendingSRP:  make(map[string]*srpPending),
		authByID:    make(map[string]*authSession),
		authByToken: make(map[string]*authSession),
		webSessions: make(map[string]*webSession),
		trustTokens: make(map[string]string),
		counts:      make(map[string]int),
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if cfg.SimulateErrors != nil {
		s.overloaded = cfg.SimulateErrors.Overloaded
	}

	for i, acc := range cfg.Accounts {
		entry := &accountEntry{Account: acc}
		if entry.Protocol == "" {
			entry.Protocol = srp.ProtocolS2K
		}
		if entry.Iterations == 0 {
			entry.Iterations = 1000
		}
		if entry.SecurityCode == "" {
			entry.SecurityCode = "123456"
		}
		if entry.VerificationCode == "" {
			entry.VerificationCode = "0"
		}
		if entry.DSID == "" {
			entry.DSID = fmt.Sprintf("%d", 1000000+i)
		}
		if entry.HSAVersion == 1 && len(entry.TrustedDevices) == 0 {
			entry.TrustedDevices = []map[string]any{
				{"deviceType": "SMS", "areaCode": "", "phoneNumber": "*******58", "deviceId": "1"},
				{"deviceType": "SMS", "areaCode": "", "phoneNumber": "*******11", "deviceId": "2"},
			}
		}
		entry.salt = randomBytes(16)
		derived, err := srp.DerivePassword(acc.Password, entry.salt, entry.Iterations, entry.Protocol)
		if err != nil {
			panic(fmt.Sprintf("mock: invalid account %s: %v", acc.AppleID, err))
		}
		entry.verifier = srp.Verifier(derived, entry.salt)
		s.accounts[acc.AppleID] = entry
	}

	s.routes()
	return s
}

// Start starts serving and returns the base URL.
func (s *Server) Start() string {
	s.httpServer = httptest.NewServer(s)
	return s.httpServer.URL
}

// Close stops the server.
func (s *Server) Close() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// URL returns the base URL of a started server.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// HomeURL, SetupURL and AuthURL are the endpoint roots clients are pointed at.
func (s *Server) HomeURL() string  { return s.URL() }
func (s *Server) SetupURL() string { return s.URL() + SetupPath }
func (s *Server) AuthURL() string  { return s.URL() + AuthPath }

// Handle mounts an extra handler, typically a resource endpoint referenced
// from the service map.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Count returns how many requests hit the endpoint with the given path
// suffix, e.g. "signin/complete" or "validate".
func (s *Server) Count(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[endpoint]
}

// ExpireSessions invalidates every web session and session token.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webSessions = make(map[string]*webSession)
	s.authByToken = make(map[string]*authSession)
}

// RevokeTrust forgets every issued trust token.
func (s *Server) RevokeTrust() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustTokens = make(map[string]string)
}

// SetOverloaded makes the next n requests fail with 503.
func (s *Server) SetOverloaded(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overloaded = n
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	endpoint := r.URL.Path
	switch {
	case strings.HasPrefix(endpoint, AuthPath+"/"):
		endpoint = strings.TrimPrefix(endpoint, AuthPath+"/")
	case strings.HasPrefix(endpoint, SetupPath+"/"):
		endpoint = strings.TrimPrefix(endpoint, SetupPath+"/")
	}
	s.counts[endpoint]++
	overloaded := s.overloaded > 0
	if overloaded {
		s.overloaded--
	}
	s.mu.Unlock()

	if overloaded {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST "+AuthPath+"/signin/init", s.handleSigninInit)
	s.mux.HandleFunc("POST "+AuthPath+"/signin/complete", s.handleSigninComplete)
	s.mux.HandleFunc("POST "+AuthPath+"/verify/trusteddevice/securitycode", s.handleSecurityCode)
	s.mux.HandleFunc("GET "+AuthPath+"/2sv/trust", s.handleTrust)

	s.mux.HandleFunc("POST "+SetupPath+"/accountLogin", s.handleAccountLogin)
	s.mux.HandleFunc("POST "+SetupPath+"/validate", s.handleValidate)
	s.mux.HandleFunc("GET "+SetupPath+"/listDevices", s.handleListDevices)
	s.mux.HandleFunc("POST "+SetupPath+"/sendVerificationCode", s.handleSendVerificationCode)
	s.mux.HandleFunc("POST "+SetupPath+"/validateVerificationCode", s.handleValidateVerificationCode)
}

// accountData renders the login payload for a web session.
func (s *Server) accountData(ws *webSession) map[string]any {
	acc := ws.auth.account
	resolved := ws.oneFactor || acc.HSAVersion == 0 || ws.auth.verified || ws.auth.trusted

	webservices := map[string]Webservice{
		"account":       {URL: s.URL(), Status: "active"},
		"findme":        {URL: s.URL() + "/findme", Status: "active"},
		"drivews":       {URL: s.URL() + "/drivews", Status: "active"},
		"docws":         {URL: s.URL() + "/docws", Status: "active"},
		"ckdatabasews":  {URL: s.URL() + "/ckdatabasews", Status: "active"},
		"uploadimagews": {URL: s.URL() + "/uploadimagews", Status: "active"},
	}
	for name, svc := range s.config.Webservices {
		svc.URL = strings.ReplaceAll(svc.URL, "{base}", s.URL())
		webservices[name] = svc
	}

	apps := map[string]any{}
	for _, app := range acc.OneFactorApps {
		apps[app] = map[string]any{"canLaunchWithOneFactor": true}
	}

	return map[string]any{
		"dsInfo": map[string]any{
			"dsid":       acc.DSID,
			"appleId":    acc.AppleID,
			"fullName":   acc.FullName,
			"hsaVersion": acc.HSAVersion,
		},
		"hsaChallengeRequired": !resolved,
		"hsaTrustedBrowser":    resolved,
		"webservices":          webservices,
		"apps":                 apps,
	}
}

// sessionFromCookie returns the live web session of the request.
func (s *Server) sessionFromCookie(r *http.Request) *webSession {
	c, err := r.Cookie(webAuthTokenCookie)
	if err != nil {
		return nil
	}
	ws, ok := s.webSessions[c.Value]
	if !ok {
		return nil
	}
	if s.config.SessionLifetime > 0 && s.clock.Now().Sub(ws.created) > s.config.SessionLifetime {
		delete(s.webSessions, c.Value)
		return nil
	}
	return ws
}

func (s *Server) newWebSession(w http.ResponseWriter, auth *authSession, oneFactor bool) *webSession {
	key := randomToken()
	ws := &webSession{auth: auth, oneFactor: oneFactor, created: s.clock.Now()}
	s.webSessions[key] = ws
	http.SetCookie(w, &http.Cookie{Name: webAuthTokenCookie, Value: key, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: webAuthValidateCookie, Value: "v=1:t=" + key + "~VALIDATE:xyz", Path: "/"})
	return ws
}

func (s *Server) newAuthSession(acc *accountEntry) *authSession {
	auth := &authSession{id: randomToken(), scnt: randomToken(), account: acc}
	s.authByID[auth.id] = auth
	return auth
}

func (s *Server) issueSessionToken(w http.ResponseWriter, auth *authSession) {
	token := randomToken()
	s.authByToken[token] = auth
	w.Header().Set("X-Apple-Session-Token", token)
	w.Header().Set("X-Apple-ID-Session-Id", auth.id)
	w.Header().Set("X-Apple-ID-Account-Country", "USA")
	w.Header().Set("scnt", auth.scnt)
}

// authSessionFromHeaders finds the sign-in session named by the challenge
// headers; both must match.
func (s *Server) authSessionFromHeaders(r *http.Request) *authSession {
	auth, ok := s.authByID[r.Header.Get("X-Apple-ID-Session-Id")]
	if !ok || auth.scnt != r.Header.Get("scnt") {
		return nil
	}
	return auth
}

func hasWidgetKey(r *http.Request) bool {
	return r.Header.Get("X-Apple-Widget-Key") == widgetKey
}

func isOneFactorApp(acc *accountEntry, app string) bool {
	return slices.Contains(acc.OneFactorApps, app)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func randomToken() string {
	return hex.EncodeToString(randomBytes(16))
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Authorized reports whether r carries a live web session cookie. Resource
// handlers mounted with Handle use it to answer 421 for expired sessions.
func (s *Server) Authorized(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.sessionFromCookie(r)
	return ws != nil && (ws.oneFactor || ws.auth.account.HSAVersion == 0 || ws.auth.verified || ws.auth.trusted)
}
