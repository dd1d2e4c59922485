package mock

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"reflect"
	"slices"

	"icloudgo/internal/srp"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"service_errors": []map[string]any{{"code": code, "message": message}},
	})
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func (s *Server) handleSigninInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A           string   `json:"a"`
		AccountName string   `json:"accountName"`
		Protocols   []string `json:"protocols"`
	}
	if !hasWidgetKey(r) || !decode(r, &req) || req.A == "" {
		writeServiceError(w, http.StatusBadRequest, "-20000", "Invalid request.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[req.AccountName]
	if !ok {
		// Unknown accounts get a challenge nobody can answer.
		acc = &accountEntry{Account: Account{AppleID: req.AccountName, Protocol: "s2k", Iterations: 1000}, salt: randomBytes(16)}
		acc.verifier = randomBytes(32)
	}
	if !slices.Contains(req.Protocols, acc.Protocol) {
		writeServiceError(w, http.StatusBadRequest, "-20001", "Unsupported protocol.")
		return
	}

	clientPublic, err := base64.StdEncoding.DecodeString(req.A)
	if err != nil {
		writeServiceError(w, http.StatusBadRequest, "-20000", "Invalid request.")
		return
	}
	server, err := srp.NewServer(acc.verifier)
	if err != nil {
		writeServiceError(w, http.StatusInternalServerError, "-1", err.Error())
		return
	}
	c := randomToken()
	pending := &srpPending{server: server, salt: acc.salt, clientPublic: clientPublic}
	if ok {
		pending.account = acc
	}
	s.pendingSRP[c] = pending

	writeJSON(w, http.StatusOK, map[string]any{
		"iteration": acc.Iterations,
		"salt":      b64(acc.salt),
		"protocol":  acc.Protocol,
		"b":         b64(server.PublicKey()),
		"c":         c,
	})
}

func (s *Server) handleSigninComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountName string   `json:"accountName"`
		C           string   `json:"c"`
		M1          string   `json:"m1"`
		M2          string   `json:"m2"`
		RememberMe  bool     `json:"rememberMe"`
		TrustTokens []string `json:"trustTokens"`
	}
	if !hasWidgetKey(r) || !decode(r, &req) {
		writeServiceError(w, http.StatusBadRequest, "-20000", "Invalid request.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendingSRP[req.C]
	delete(s.pendingSRP, req.C)
	if !ok || pending.account == nil || pending.account.AppleID != req.AccountName {
		writeServiceError(w, http.StatusUnauthorized, "-20101", "Your Apple ID or password was incorrect.")
		return
	}

	m1, err1 := base64.StdEncoding.DecodeString(req.M1)
	m2, err2 := base64.StdEncoding.DecodeString(req.M2)
	if err1 != nil || err2 != nil {
		writeServiceError(w, http.StatusBadRequest, "-20000", "Invalid request.")
		return
	}
	expected, verified := pending.server.Verify(req.AccountName, pending.salt, pending.clientPublic, m1)
	if !verified || !bytes.Equal(expected, m2) {
		writeServiceError(w, http.StatusUnauthorized, "-20101", "Your Apple ID or password was incorrect.")
		return
	}

	acc := pending.account
	auth := s.newAuthSession(acc)
	for _, token := range req.TrustTokens {
		if s.trustTokens[token] == acc.AppleID {
			auth.trusted = true
		}
	}
	s.issueSessionToken(w, auth)

	if acc.HSAVersion == 2 && !auth.trusted {
		writeJSON(w, http.StatusConflict, map[string]any{"authType": "hsa2"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authType": "non-sa"})
}

func (s *Server) handleSecurityCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SecurityCode struct {
			Code string `json:"code"`
		} `json:"securityCode"`
	}
	if !hasWidgetKey(r) || !decode(r, &req) {
		writeServiceError(w, http.StatusBadRequest, "-20000", "Invalid request.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth := s.authSessionFromHeaders(r)
	if auth == nil {
		writeServiceError(w, http.StatusUnauthorized, "-20102", "Session expired.")
		return
	}
	if req.SecurityCode.Code != auth.account.SecurityCode {
		writeServiceError(w, http.StatusBadRequest, "-21669", "Incorrect verification code.")
		return
	}
	auth.verified = true
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.SimulateErrors != nil && s.config.SimulateErrors.FailTrust {
		writeServiceError(w, http.StatusBadRequest, "-20300", "Trust unavailable.")
		return
	}
	auth := s.authSessionFromHeaders(r)
	if auth == nil || !(auth.verified || auth.trusted) {
		writeServiceError(w, http.StatusUnauthorized, "-20102", "Session not verified.")
		return
	}

	trust := randomToken()
	s.trustTokens[trust] = auth.account.AppleID
	auth.trusted = true
	w.Header().Set("X-Apple-TwoSV-Trust-Token", trust)
	s.issueSessionToken(w, auth)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DSWebAuthToken     string `json:"dsWebAuthToken"`
		AccountCountryCode string `json:"accountCountryCode"`
		ExtendedLogin      bool   `json:"extended_login"`
		TrustToken         string `json:"trustToken"`
		AppName            string `json:"appName"`
		AppleID            string `json:"apple_id"`
		Password           string `json:"password"`
	}
	if !decode(r, &req) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.AppName != "" {
		acc, ok := s.accounts[req.AppleID]
		if !ok || acc.Password != req.Password || !isOneFactorApp(acc, req.AppName) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials", "errorCode": "AUTHENTICATION_FAILED"})
			return
		}
		ws := s.newWebSession(w, s.newAuthSession(acc), true)
		writeJSON(w, http.StatusOK, s.accountData(ws))
		return
	}

	auth, ok := s.authByToken[req.DSWebAuthToken]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid session token"})
		return
	}
	if req.TrustToken != "" && s.trustTokens[req.TrustToken] == auth.account.AppleID {
		auth.trusted = true
	}
	ws := s.newWebSession(w, auth, false)
	writeJSON(w, http.StatusOK, s.accountData(ws))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.sessionFromCookie(r)
	if ws == nil {
		writeJSON(w, 421, map[string]any{"error": "Missing X-APPLE-WEBAUTH-TOKEN cookie"})
		return
	}
	writeJSON(w, http.StatusOK, s.accountData(ws))
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.sessionFromCookie(r)
	if ws == nil {
		writeJSON(w, 421, map[string]any{"error": "Missing X-APPLE-WEBAUTH-TOKEN cookie"})
		return
	}
	devices := ws.auth.account.TrustedDevices
	if devices == nil {
		devices = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleSendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var device map[string]any
	if !decode(r, &device) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.sessionFromCookie(r)
	if ws == nil {
		writeJSON(w, 421, map[string]any{"error": "Missing X-APPLE-WEBAUTH-TOKEN cookie"})
		return
	}
	if s.config.SimulateErrors != nil && s.config.SimulateErrors.FailSendCode {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": knownDevice(ws.auth.account, device)})
}

func (s *Server) handleValidateVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(r, &req) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.sessionFromCookie(r)
	if ws == nil {
		writeJSON(w, 421, map[string]any{"error": "Missing X-APPLE-WEBAUTH-TOKEN cookie"})
		return
	}
	acc := ws.auth.account
	code, _ := req["verificationCode"].(string)
	delete(req, "verificationCode")
	delete(req, "trustBrowser")

	if len(acc.TrustedDevices) == 0 || !sameDevice(acc.TrustedDevices[0], req) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessage": "Unknown device", "errorCode": "-21670"})
		return
	}
	if code != acc.VerificationCode {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessage": "Incorrect verification code", "errorCode": -21669})
		return
	}
	ws.auth.verified = true
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func knownDevice(acc *accountEntry, device map[string]any) bool {
	for _, d := range acc.TrustedDevices {
		if sameDevice(d, device) {
			return true
		}
	}
	return false
}

// sameDevice compares devices by their JSON form so numeric and string
// values decoded from a request compare equal to the configured ones.
func sameDevice(a, b map[string]any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(m map[string]any) map[string]any {
	data, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}
