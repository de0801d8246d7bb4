// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/bassosimone/safeconn"
)

// PanicOnViolation panics with err. It is the default [Checker.OnViolation].
func PanicOnViolation(err error) {
	panic(err)
}

// NewChecker returns a new [*Checker] in the NEW/READY/READY state.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewChecker(cfg *Config, logger SLogger) *Checker {
	return &Checker{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		OnViolation:   PanicOnViolation,
		SpanID:        "",
		TimeNow:       cfg.TimeNow,
		validator:     NewValidator(),
	}
}

// NewCheckerFactory returns a [Factory] creating a [*Checker] per call.
//
// Each checker gets a fresh span ID (see [NewSpanID]) so that the log
// entries of a call can be correlated.
func NewCheckerFactory(cfg *Config, logger SLogger) Factory {
	return FactoryFunc(func(req *http.Request) Listener {
		checker := NewChecker(cfg, logger)
		checker.SpanID = NewSpanID()
		return checker
	})
}

// Checker is a [Listener] enforcing valid notification ordering.
//
// Each notification is validated by a [*Validator]. Accepted notifications
// are logged; call-level transitions at Info and request/response transfer
// transitions at Debug. A rejected notification is logged as
// invalidTransition and then passed to OnViolation, which by default
// panics with the [*StateError].
//
// All fields are safe to modify after construction but before first use.
// A Checker is not safe for concurrent use: the event source must
// serialize the notifications of a call.
type Checker struct {
	// ErrClassifier classifies payload errors for structured logging.
	//
	// Set by [NewChecker] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewChecker] to the user-provided logger.
	Logger SLogger

	// OnViolation is invoked with the [*StateError] of a rejected notification.
	//
	// Set by [NewChecker] to [PanicOnViolation].
	OnViolation func(err error)

	// SpanID is attached to every log entry when not empty.
	//
	// Set by [NewChecker] to "" and by [NewCheckerFactory] to a new span ID.
	SpanID string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewChecker] from [Config.TimeNow].
	TimeNow func() time.Time

	// validator holds the automata.
	validator *Validator
}

var _ Listener = &Checker{}

// CallState returns the state of the call automaton.
func (c *Checker) CallState() CallState {
	return c.validator.CallState()
}

// RequestState returns the state of the request automaton.
func (c *Checker) RequestState() MessageState {
	return c.validator.RequestState()
}

// ResponseState returns the state of the response automaton.
func (c *Checker) ResponseState() MessageState {
	return c.validator.ResponseState()
}

// CallStart implements [Listener].
func (c *Checker) CallStart() {
	c.checkCall("callStart", c.validator.CallStart)
}

// DNSStart implements [Listener].
func (c *Checker) DNSStart(domain string) {
	c.checkCall("dnsStart", c.validator.DNSStart, slog.String("dnsDomain", domain))
}

// DNSEnd implements [Listener].
func (c *Checker) DNSEnd(domain string, addrs []netip.Addr) {
	c.checkCall("dnsEnd", c.validator.DNSEnd,
		slog.String("dnsDomain", domain), slog.Any("dnsAddrs", addrs))
}

// ConnectStart implements [Listener].
func (c *Checker) ConnectStart(addr netip.AddrPort, proxy *url.URL) {
	c.checkCall("connectStart", c.validator.ConnectStart,
		slog.String("remoteAddr", addr.String()), slog.String("proxy", proxyString(proxy)))
}

// SecureConnectStart implements [Listener].
func (c *Checker) SecureConnectStart() {
	c.checkCall("secureConnectStart", c.validator.SecureConnectStart)
}

// SecureConnectEnd implements [Listener].
func (c *Checker) SecureConnectEnd(state *tls.ConnectionState) {
	var version string
	if state != nil {
		version = tls.VersionName(state.Version)
	}
	c.checkCall("secureConnectEnd", c.validator.SecureConnectEnd, slog.String("tlsVersion", version))
}

// ConnectEnd implements [Listener].
func (c *Checker) ConnectEnd(addr netip.AddrPort, proxy *url.URL, protocol string) {
	c.checkCall("connectEnd", c.validator.ConnectEnd,
		slog.String("remoteAddr", addr.String()), slog.String("proxy", proxyString(proxy)),
		slog.String("alpn", protocol))
}

// ConnectFailed implements [Listener].
func (c *Checker) ConnectFailed(addr netip.AddrPort, proxy *url.URL, protocol string, err error) {
	c.checkCall("connectFailed", c.validator.ConnectFailed,
		slog.String("remoteAddr", addr.String()), slog.String("proxy", proxyString(proxy)),
		slog.String("alpn", protocol), slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)))
}

// ConnectionAcquired implements [Listener].
func (c *Checker) ConnectionAcquired(conn net.Conn) {
	c.checkCall("connectionAcquired", c.validator.ConnectionAcquired,
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)))
}

// ConnectionReleased implements [Listener].
func (c *Checker) ConnectionReleased(conn net.Conn) {
	c.checkCall("connectionReleased", c.validator.ConnectionReleased,
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)))
}

// RequestHeadersStart implements [Listener].
func (c *Checker) RequestHeadersStart() {
	c.checkMessage(AutomatonRequest, "requestHeadersStart", c.validator.RequestState, c.validator.RequestHeadersStart)
}

// RequestHeadersEnd implements [Listener].
func (c *Checker) RequestHeadersEnd(req *http.Request) {
	var method string
	if req != nil {
		method = req.Method
	}
	c.checkMessage(AutomatonRequest, "requestHeadersEnd", c.validator.RequestState, c.validator.RequestHeadersEnd,
		slog.String("httpMethod", method))
}

// RequestBodyStart implements [Listener].
func (c *Checker) RequestBodyStart() {
	c.checkMessage(AutomatonRequest, "requestBodyStart", c.validator.RequestState, c.validator.RequestBodyStart)
}

// RequestBodyEnd implements [Listener].
func (c *Checker) RequestBodyEnd(count int64) {
	c.checkMessage(AutomatonRequest, "requestBodyEnd", c.validator.RequestState, c.validator.RequestBodyEnd,
		slog.Int64("ioBytesCount", count))
}

// ResponseHeadersStart implements [Listener].
func (c *Checker) ResponseHeadersStart() {
	c.checkMessage(AutomatonResponse, "responseHeadersStart", c.validator.ResponseState, c.validator.ResponseHeadersStart)
}

// ResponseHeadersEnd implements [Listener].
func (c *Checker) ResponseHeadersEnd(resp *http.Response) {
	var statusCode int
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.checkMessage(AutomatonResponse, "responseHeadersEnd", c.validator.ResponseState, c.validator.ResponseHeadersEnd,
		slog.Int("httpResponseStatusCode", statusCode))
}

// ResponseBodyStart implements [Listener].
func (c *Checker) ResponseBodyStart() {
	c.checkMessage(AutomatonResponse, "responseBodyStart", c.validator.ResponseState, c.validator.ResponseBodyStart)
}

// ResponseBodyEnd implements [Listener].
func (c *Checker) ResponseBodyEnd(count int64) {
	c.checkMessage(AutomatonResponse, "responseBodyEnd", c.validator.ResponseState, c.validator.ResponseBodyEnd,
		slog.Int64("ioBytesCount", count))
}

// CallEnd implements [Listener].
func (c *Checker) CallEnd() {
	c.checkCall("callEnd", c.validator.CallEnd)
}

// CallFailed implements [Listener].
func (c *Checker) CallFailed(err error) {
	c.checkCall("callFailed", c.validator.CallFailed,
		slog.Any("err", err), slog.String("errClass", c.ErrClassifier.Classify(err)))
}

// checkCall validates a call automaton notification.
func (c *Checker) checkCall(event string, validate func() error, attrs ...slog.Attr) {
	from := c.validator.CallState()
	if err := validate(); err != nil {
		c.violation(event, err)
		return
	}
	c.Logger.Info(event, c.transitionArgs(AutomatonCall, from, c.validator.CallState(), attrs)...)
}

// checkMessage validates a request or response automaton notification.
func (c *Checker) checkMessage(automaton, event string,
	current func() MessageState, validate func() error, attrs ...slog.Attr) {
	from := current()
	if err := validate(); err != nil {
		c.violation(event, err)
		return
	}
	c.Logger.Debug(event, c.transitionArgs(automaton, from, current(), attrs)...)
}

func (c *Checker) transitionArgs(automaton string, from, to fmt.Stringer, attrs []slog.Attr) []any {
	args := []any{
		slog.String("automaton", automaton),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return c.withCommonArgs(args)
}

func (c *Checker) violation(event string, err error) {
	c.Logger.Info(
		"invalidTransition",
		c.withCommonArgs([]any{
			slog.Any("err", err),
			slog.String("event", event),
		})...,
	)
	c.OnViolation(err)
}

func (c *Checker) withCommonArgs(args []any) []any {
	if c.SpanID != "" {
		args = append(args, slog.String("spanID", c.SpanID))
	}
	return append(args, slog.Time("t", c.TimeNow()))
}

func proxyString(proxy *url.URL) string {
	if proxy == nil {
		return ""
	}
	return proxy.Redacted()
}
