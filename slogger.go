// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

// SLogger abstracts the [*slog.Logger] behavior.
//
// Two log levels are in use:
//   - Info for call-level notifications accepted by [*Checker], rejected
//     notifications, and the span events of [*Client] (connect, TLS
//     handshake, HTTP round trip, DNS exchange)
//   - Debug for request/response transfer notifications
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns a no-op [SLogger] that discards all output,
// so nothing is written to stdout/stderr unless explicitly configured.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {}
