// Package logging provides the structured logging used by icloudgo, built on
// Go's standard slog package.
//
// # Levels
//
//   - Debug: request/response tracing, retry decisions
//   - Info: authentication milestones, persisted state
//   - Warn: recoverable problems (corrupt state files, failed trust requests)
//   - Error: failures surfaced to the user
//
// # CLI usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Auth", "Authenticated %s", username)
//	logging.Error("Drive", err, "Failed to list folder %s", name)
//
// # Library usage
//
// Library packages accept a *slog.Logger through their options instead of
// calling the package-level helpers. The icloud client wraps whatever logger
// it is given in a RedactingHandler bound to the account password:
//
//	logger := logging.NewRedactingLogger(base, password)
//	logger.Info("signing in", "password", password) // password="" in the output
//
// The handler is attached to that one logger instance; other loggers in the
// process are unaffected.
package logging
