// Package logging configures the process-wide structured logger. Every
// component logs through a *log.Logger from charmbracelet/log, the same
// library the ecosystem uses elsewhere, with key-value fields rather than
// formatted strings. Nothing in this package or any caller logs a secret
// key, a plaintext score, or a bearer token.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// New builds the root logger, writing structured key-value lines to stderr.
func New(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
	})
	logger.SetLevel(parseLevel(level))
	return logger
}

func parseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// RequestFields returns the standard key-value pairs attached to every
// access-log line, shared between transports so a log line from the RPC
// side and one from the tool-call side read the same way.
func RequestFields(op, transport, correlationID, status string) []any {
	return []any{
		"op", op,
		"transport", transport,
		"correlation_id", correlationID,
		"status", status,
	}
}
