// Package auth implements the login handshake.
//
// An Authenticator moves through the phases
//
//	Unauthenticated -> PasswordVerified -> (SecondFactorPending | Trusted) -> Authenticated
//
// with LoginFailed as a re-entrant failure phase. Passwords are verified with
// SRP-6a (see package srp); the resulting session token is exchanged for the
// account payload (Capabilities), which says whether a second factor is
// outstanding and which services the account has.
//
// Second factors come in two flavors. Two-step accounts pick a trusted device
// (TrustedDevices), have a code sent to it (SendVerificationCode) and type it
// back (ValidateVerificationCode). Two-factor accounts receive a pushed code
// and submit it with ValidateSecondFactorCode. Both end with TrustSession,
// which stores a trust token so later logins skip the challenge.
//
// A wrong code is not an error: the validation calls return false.
package auth
