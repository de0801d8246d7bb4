// SPDX-License-Identifier: GPL-3.0-or-later

// Package callcheck validates the ordering of HTTP call lifecycle notifications.
//
// # Automata
//
// A call emits a stream of notifications: callStart, dnsStart, connectStart,
// connectionAcquired, requestHeadersStart, and so forth, through callEnd or
// callFailed. The package models the valid orderings with three automata:
//
//   - the call automaton ([CallState]) tracks the connection lifecycle;
//   - the request and response automata ([MessageState]) track headers and
//     body transfer, and only advance while a connection is held.
//
// Each notification carries an allowed set of predecessor states. Releasing
// the connection resets both message automata, so that a call following a
// redirect or retrying on a new connection starts a new exchange.
//
// # Validation
//
// [*Validator] returns a [*StateError] wrapping [ErrInvalidTransition] for
// a notification arriving in a disallowed state and leaves the automata
// untouched. [*Checker] is a [Listener] built on a Validator: it logs every
// accepted transition and, by default, panics on the first violation.
//
// # Event source
//
// [*Client] performs calls over [net/http] transports bound to connections
// it dials itself, and delivers the notifications of each call to a fresh
// [Listener] created by a [Factory]. Use [NewCheckerFactory] to check every
// call the client performs.
//
// Domain names are resolved by a [Resolver]: [*NetResolver] uses the system
// resolver and [*DNSResolver] queries a DNS server over UDP, TCP, TLS, or
// HTTPS using [*DNSConn].
//
// # Observability
//
// All types log using [SLogger] (compatible with [log/slog]). By default,
// logging is disabled. Operations emit span events (*Start/*Done pairs with
// t0, t, err, and errClass) and wire observations (dnsQuery, dnsResponse).
// Every dialed connection is wrapped by [*ObserveConnFunc], which logs reads,
// writes, and deadlines at [slog.LevelDebug] and close at [slog.LevelInfo].
// The [*Checker] logs call transitions at [slog.LevelInfo] and request and
// response transitions at [slog.LevelDebug], with the automaton, the from and
// to states, and the span ID generated by [NewSpanID].
package callcheck
