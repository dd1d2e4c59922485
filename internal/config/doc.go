// Package config loads icloudgo's configuration.
//
// Configuration lives in a single directory, ~/.config/icloudgo by default,
// overridable with the --config flag. The directory contains:
//   - config.yaml (optional; defaults apply when absent)
//   - session/ (per-account session and cookie files, unless cookieDirectory
//     points elsewhere)
//
// Example config.yaml:
//
//	username: someone@example.com
//	region: global
//	timeout: 30s
//	retry:
//	  maxAttempts: 3
//	  initialInterval: 500ms
//	  maxInterval: 10s
//	withFamily: true
//	logLevel: info
package config
