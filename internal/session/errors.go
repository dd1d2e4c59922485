package session

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// CodeIncorrectVerificationCode is returned by the verification endpoints
	// when the user typed the wrong code.
	CodeIncorrectVerificationCode = "-21669"

	codeZoneNotFound         = "ZONE_NOT_FOUND"
	codeAuthenticationFailed = "AUTHENTICATION_FAILED"
	codeAccessDenied         = "ACCESS_DENIED"

	reasonMissingWebAuthToken = "Missing X-APPLE-WEBAUTH-TOKEN cookie"

	// ReasonAuthenticationRequired is reported when an expired session could
	// not be renewed.
	ReasonAuthenticationRequired = "Authentication required for Account."

	manualSetupGuidance = "Please log into https://icloud.com/ to manually finish setting up your iCloud service"
	throttleGuidance    = ". Please wait a few minutes then try again. The remote servers might be trying to throttle requests."
)

// APIResponseError is a rejection reported by the remote service.
type APIResponseError struct {
	Reason string
	// Code is the machine error code as a string. Numeric codes are rendered
	// in decimal.
	Code string
	// StatusCode is the HTTP status of the response, if any.
	StatusCode int
	// Retryable marks errors raised after the local retry budget was spent.
	Retryable bool
}

func (e *APIResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Reason, e.Code)
	}
	return e.Reason
}

// ServiceNotActivatedError reports a service that is absent, unprovisioned or
// not configured for the account.
type ServiceNotActivatedError struct {
	Reason  string
	Service string
	Code    string
}

func (e *ServiceNotActivatedError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s (%s)", e.Reason, e.Service)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Reason, e.Code)
	}
	return e.Reason
}

// TransientNetworkError is returned once the retry budget for timeouts,
// connection failures and overload responses has been spent.
type TransientNetworkError struct {
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: server overloaded (%d %s) after %d attempts",
			e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Attempts)
	}
	return fmt.Sprintf("%s %s: network error after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// SecondFactorRequiredError is returned for resource access while a second
// factor challenge is still outstanding.
type SecondFactorRequiredError struct {
	Reason string
}

func (e *SecondFactorRequiredError) Error() string {
	if e.Reason == "" {
		return "second factor authentication required"
	}
	return e.Reason
}

// LoginFailedError reports that the server rejected the credentials or the
// resulting session.
type LoginFailedError struct {
	Reason string
	Err    error
}

func (e *LoginFailedError) Error() string {
	return e.Reason
}

func (e *LoginFailedError) Unwrap() error {
	return e.Err
}

// IsServiceNotActivated reports whether err is a ServiceNotActivatedError.
func IsServiceNotActivated(err error) bool {
	var target *ServiceNotActivatedError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a TransientNetworkError.
func IsTransient(err error) bool {
	var target *TransientNetworkError
	return errors.As(err, &target)
}

// IsSecondFactorRequired reports whether err is a SecondFactorRequiredError.
func IsSecondFactorRequired(err error) bool {
	var target *SecondFactorRequiredError
	return errors.As(err, &target)
}

// IsLoginFailed reports whether err is a LoginFailedError.
func IsLoginFailed(err error) bool {
	var target *LoginFailedError
	return errors.As(err, &target)
}

// IsIncorrectCode reports whether err carries the wrong-verification-code
// error code.
func IsIncorrectCode(err error) bool {
	var target *APIResponseError
	return errors.As(err, &target) && target.Code == CodeIncorrectVerificationCode
}

// classifyError maps a server reason and code onto the error taxonomy.
func classifyError(status int, code, reason string, secondFactorPending bool) error {
	if secondFactorPending && reason == reasonMissingWebAuthToken {
		return &SecondFactorRequiredError{Reason: "Two-step authentication required for account."}
	}
	switch code {
	case codeZoneNotFound, codeAuthenticationFailed:
		return &ServiceNotActivatedError{Reason: manualSetupGuidance, Code: code}
	case codeAccessDenied:
		reason += throttleGuidance
	}
	return &APIResponseError{Reason: reason, Code: code, StatusCode: status}
}
