// Package cli provides the terminal presentation layer of the icloudgo
// command line.
//
// It holds the user facing error types that the commands map to exit codes,
// interactive prompts for passwords, verification codes and trusted device
// selection (backed by readline), table rendering for the resource clients
// (backed by go-pretty) and a progress spinner for remote calls.
//
// # Output
//
// Tables use the rounded box style. Prompts and spinners write to the
// command's error stream so that table output on stdout stays pipeable.
package cli
