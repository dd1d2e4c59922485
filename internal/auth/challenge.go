package auth

import (
	"context"
	"fmt"
	"net/http"

	"icloudgo/internal/session"
)

// requireChallenge fails unless a second factor is outstanding.
func (a *Authenticator) requireChallenge() error {
	if a.Phase() != PhaseSecondFactorPending || !a.RequiresTwoStep() {
		return ErrNoChallenge
	}
	return nil
}

// TrustedDevices lists the devices a two-step code can be sent to.
func (a *Authenticator) TrustedDevices(ctx context.Context) ([]Device, error) {
	if err := a.requireChallenge(); err != nil {
		return nil, err
	}
	resp, err := a.transport.Do(ctx, &session.Request{
		Method:   http.MethodGet,
		URL:      a.endpoints.Setup + "/listDevices",
		NoReauth: true,
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Devices []Device `json:"devices"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, fmt.Errorf("invalid device list: %w", err)
	}
	return body.Devices, nil
}

// SendVerificationCode asks the server to send a code to device. A server
// side refusal is reported as false so another device can be tried.
func (a *Authenticator) SendVerificationCode(ctx context.Context, device Device) (bool, error) {
	if err := a.requireChallenge(); err != nil {
		return false, err
	}
	resp, err := a.transport.Do(ctx, &session.Request{
		Method:   http.MethodPost,
		URL:      a.endpoints.Setup + "/sendVerificationCode",
		Body:     device,
		NoReauth: true,
	})
	if err != nil {
		if session.IsTransient(err) || ctx.Err() != nil {
			return false, err
		}
		a.logger.Debug("Sending verification code failed", "device", device.Label(), "error", err)
		return false, nil
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return false, nil
	}
	return body.Success, nil
}

// ValidateVerificationCode submits a two-step code received on device. A
// wrong code returns false; other rejections are errors. On success the
// session is trusted and capabilities are refreshed.
func (a *Authenticator) ValidateVerificationCode(ctx context.Context, device Device, code string) (bool, error) {
	if err := a.requireChallenge(); err != nil {
		return false, err
	}
	body := make(map[string]any, len(device)+2)
	for k, v := range device {
		body[k] = v
	}
	body["verificationCode"] = code
	body["trustBrowser"] = true

	_, err := a.transport.Do(ctx, &session.Request{
		Method:   http.MethodPost,
		URL:      a.endpoints.Setup + "/validateVerificationCode",
		Body:     body,
		NoReauth: true,
	})
	if err != nil {
		if session.IsIncorrectCode(err) {
			a.logger.Error("Code verification failed.")
			return false, nil
		}
		return false, err
	}
	return a.completeChallenge(ctx)
}

// ValidateSecondFactorCode submits a two-factor code. A wrong code returns
// false; other rejections are errors. On success the pending challenge is
// cleared and capabilities are refetched.
func (a *Authenticator) ValidateSecondFactorCode(ctx context.Context, code string) (bool, error) {
	if err := a.requireChallenge(); err != nil {
		return false, err
	}
	headers := a.authHeaders()
	headers.Set("Accept", "application/json")

	_, err := a.transport.Do(ctx, &session.Request{
		Method: http.MethodPost,
		URL:    a.endpoints.Auth + "/verify/trusteddevice/securitycode",
		Body: map[string]any{
			"securityCode": map[string]string{"code": code},
		},
		Header:   headers,
		NoReauth: true,
		NoParams: true,
	})
	if err != nil {
		if session.IsIncorrectCode(err) {
			a.logger.Error("Code verification failed.")
			return false, nil
		}
		return false, err
	}
	a.logger.Debug("Code verification successful.")
	return a.completeChallenge(ctx)
}

// completeChallenge trusts the session and makes sure the capabilities
// reflect the new trust level.
func (a *Authenticator) completeChallenge(ctx context.Context) (bool, error) {
	a.setPhase(PhaseTrusted)
	if !a.TrustSession(ctx) {
		caps, err := a.accountLogin(ctx)
		if err != nil {
			return false, err
		}
		a.adopt(caps)
	}
	return !a.RequiresTwoStep(), nil
}

// TrustSession requests a long-lived trust token so later logins skip the
// second factor, then refreshes the capabilities. Failures are logged and
// reported as false.
func (a *Authenticator) TrustSession(ctx context.Context) bool {
	_, err := a.transport.Do(ctx, &session.Request{
		Method:   http.MethodGet,
		URL:      a.endpoints.Auth + "/2sv/trust",
		Header:   a.authHeaders(),
		NoReauth: true,
		NoParams: true,
	})
	if err != nil {
		a.logger.Error("Session trust failed.", "error", err)
		return false
	}

	caps, err := a.accountLogin(ctx)
	if err != nil {
		a.logger.Error("Failed to refresh account after trust.", "error", err)
		return false
	}
	a.adopt(caps)
	return true
}
