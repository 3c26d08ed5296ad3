// Package logger provides structured logging setup for the application.
//
// It configures Go's log/slog package for JSON output at the level named in
// the configuration.
package logger
