package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a refused or unreachable endpoint.
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError is a transport failure prepared for display.
type ConnectionError struct {
	Type   ConnectionErrorType
	Reason error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v\n\nCheck your network connection and try again.", e.Type, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps err in a ConnectionError of the matching
// type. A nil error yields nil.
func ClassifyConnectionError(err error) *ConnectionError {
	if err == nil {
		return nil
	}

	var (
		dnsErr     *net.DNSError
		netErr     net.Error
		certErr    *x509.CertificateInvalidError
		hostErr    *x509.HostnameError
		unknownErr *x509.UnknownAuthorityError
	)
	kind := ConnectionErrorUnknown
	switch {
	case errors.As(err, &certErr), errors.As(err, &hostErr), errors.As(err, &unknownErr),
		containsAny(err.Error(), "x509:", "tls:", "TLS handshake"):
		kind = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		kind = ConnectionErrorDNS
	case errors.As(err, &netErr) && netErr.Timeout(),
		containsAny(err.Error(), "timeout", "deadline exceeded"):
		kind = ConnectionErrorTimeout
	case containsAny(err.Error(), "connection refused", "connection reset", "network is unreachable", "no route to host"):
		kind = ConnectionErrorNetwork
	}
	return &ConnectionError{Type: kind, Reason: err}
}

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError indicates the command needs a login, or a second factor,
// before it can run.
type AuthRequiredError struct {
	// Identity is the account that needs to log in.
	Identity string
	// Reason is the underlying error, if any.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To authenticate, run:
  icloud auth login --username %s

To check current authentication status:
  icloud auth status`, e.Identity, e.Identity)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthFailedError indicates the credentials or the verification code were
// rejected.
type AuthFailedError struct {
	Identity string
	Reason   error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  icloud auth login --username %s`, e.Identity, e.Reason, e.Identity)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}
