package session

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// State is the durable per-identity session record.
type State struct {
	SessionToken   string `json:"session_token,omitempty"`
	TrustToken     string `json:"trust_token,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	SCNT           string `json:"scnt,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	AccountCountry string `json:"account_country,omitempty"`
}

// trackedHeaders maps response headers onto State fields.
var trackedHeaders = []struct {
	header string
	field  func(*State) *string
}{
	{"X-Apple-ID-Account-Country", func(s *State) *string { return &s.AccountCountry }},
	{"X-Apple-ID-Session-Id", func(s *State) *string { return &s.SessionID }},
	{"X-Apple-Session-Token", func(s *State) *string { return &s.SessionToken }},
	{"X-Apple-TwoSV-Trust-Token", func(s *State) *string { return &s.TrustToken }},
	{"scnt", func(s *State) *string { return &s.SCNT }},
}

// UpdateFromHeaders copies tracked response headers into s and reports
// whether any field changed.
func (s *State) UpdateFromHeaders(h http.Header) bool {
	changed := false
	for _, th := range trackedHeaders {
		v := h.Get(th.header)
		if v == "" {
			continue
		}
		field := th.field(s)
		if *field != v {
			*field = v
			changed = true
		}
	}
	return changed
}

// ClearSession drops the session token and the challenge tokens. The client
// id and the trust token survive.
func (s *State) ClearSession() {
	s.SessionToken = ""
	s.SCNT = ""
	s.SessionID = ""
}

// NewClientID returns a fresh client identifier of the form auth-<uuid>.
func NewClientID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return "auth-" + strings.ToLower(id.String())
}
