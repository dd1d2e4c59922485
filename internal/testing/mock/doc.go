// Package mock provides a fake of the remote sign-in and setup endpoints for
// tests.
//
// The Server verifies real SRP proofs against per-account verifiers, issues
// session tokens and web-auth cookies, enforces the scnt and session id
// headers on challenge endpoints, and drives both two-step (device code) and
// two-factor (pushed code) flows including trust tokens.
//
// Usage:
//
//	server := mock.NewServer(mock.ServerConfig{
//		Accounts: []mock.Account{{AppleID: "2fa@example.com", Password: "correct", HSAVersion: 2}},
//	})
//	server.Start()
//	defer server.Close()
//
// Point clients at HomeURL, SetupURL and AuthURL. The service map handed out
// after login points back at the server, so resource handlers registered with
// Handle (for example "POST /findme/fmipservice/client/web/refreshClient")
// are reachable through the normal service lookup.
//
// Failure injection lives in ErrorSimulation; ExpireSessions, RevokeTrust and
// SetOverloaded change behavior mid-test, and Count reports per-endpoint
// request counts.
package mock
