// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// DefaultMaxRedirects is the [Client.MaxRedirects] set by [NewClient].
const DefaultMaxRedirects = 10

// redirectDrainLimit bounds the bytes read from a redirect response body.
const redirectDrainLimit = 4 << 10

// NewClient returns a new [*Client].
//
// The cfg argument contains the common configuration.
//
// The listeners argument creates the [Listener] of each call; use
// [NewCheckerFactory] to validate every call.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewClient(cfg *Config, listeners Factory, logger SLogger) *Client {
	return &Client{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Listeners:     listeners,
		Logger:        logger,
		MaxRedirects:  DefaultMaxRedirects,
		Resolver:      cfg.Resolver,
		TLSConfig:     &tls.Config{},
		TLSEngine:     TLSEngineStdlib{},
		TimeNow:       cfg.TimeNow,
	}
}

// Client is an HTTP client emitting [Listener] notifications.
//
// Each [Client.Do] is a call: the client resolves the host, dials each
// address until one succeeds, performs the TLS handshake for https,
// sends the request over the acquired connection and hands back a response
// whose body releases the connection and ends the call on Close.
// Redirects are followed on the same [Listener], releasing the previous
// connection and acquiring a new one.
//
// The notifications of a call are serialized even though [net/http] emits
// trace events from its own goroutines. Proxies are not supported: the
// proxy argument of the notifications is always nil.
//
// All fields are safe to modify after construction but before first use.
type Client struct {
	// Dialer dials TCP connections.
	//
	// Set by [NewClient] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewClient] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Listeners creates the [Listener] of each call.
	//
	// Set by [NewClient] to the user-provided factory.
	Listeners Factory

	// Logger is the [SLogger] to use.
	//
	// Set by [NewClient] to the user-provided logger.
	Logger SLogger

	// MaxRedirects is the maximum number of redirects to follow. With
	// zero, the first redirect fails the call with [ErrTooManyRedirects].
	//
	// Set by [NewClient] to [DefaultMaxRedirects].
	MaxRedirects int

	// Resolver resolves domain names.
	//
	// Set by [NewClient] from [Config.Resolver].
	Resolver Resolver

	// TLSConfig is the base TLS configuration. When ServerName is empty
	// the URL host is used; when NextProtos is empty, h2 and http/1.1
	// are offered.
	//
	// Set by [NewClient] to an empty [*tls.Config].
	TLSConfig *tls.Config

	// TLSEngine creates TLS client connections.
	//
	// Set by [NewClient] to [TLSEngineStdlib].
	TLSEngine TLSEngine

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewClient] from [Config.TimeNow].
	TimeNow func() time.Time
}

// Do performs the call starting with req.
//
// On success, the caller must close the response body, which emits
// connectionReleased and callEnd (or callFailed when reading the body failed).
// On failure, callFailed has already been emitted.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	cs := &callSession{client: c, listener: c.Listeners.New(req)}
	cs.emit(func(l Listener) { l.CallStart() })
	resp, err := cs.run(req)
	if err != nil {
		cs.emit(func(l Listener) { l.CallFailed(err) })
		return nil, err
	}
	return resp, nil
}

// Get issues a GET to the given URL.
func (c *Client) Get(ctx context.Context, URL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// config returns a [*Config] view of the client fields.
func (c *Client) config() *Config {
	return &Config{
		Dialer:        c.Dialer,
		ErrClassifier: c.ErrClassifier,
		Resolver:      c.Resolver,
		TimeNow:       c.TimeNow,
	}
}

// callSession is the state of a single [Client.Do].
type callSession struct {
	client   *Client
	listener Listener

	// mu serializes the notifications of the call.
	mu sync.Mutex
}

// emit delivers a notification while holding the call lock.
func (cs *callSession) emit(fn func(l Listener)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	fn(cs.listener)
}

// run performs the exchanges of a call, including redirects.
func (cs *callSession) run(req *http.Request) (*http.Response, error) {
	for redirects := 0; ; redirects++ {
		resp, body, err := cs.exchange(req)
		if err != nil {
			return nil, err
		}

		next, err := nextRedirect(req, resp)
		if err != nil {
			body.discard(redirectDrainLimit)
			return nil, err
		}
		if next == nil {
			body.finish = cs.finish
			return resp, nil
		}
		body.discard(redirectDrainLimit)
		if redirects >= cs.client.MaxRedirects {
			return nil, fmt.Errorf("callcheck: stopped after %d redirects: %w", redirects, ErrTooManyRedirects)
		}
		req = next
	}
}

// finish ends the call once the final response body is closed.
func (cs *callSession) finish(readErr error) {
	if readErr != nil {
		cs.emit(func(l Listener) { l.CallFailed(readErr) })
		return
	}
	cs.emit(func(l Listener) { l.CallEnd() })
}

// exchange sends req over a freshly acquired connection.
func (cs *callSession) exchange(req *http.Request) (*http.Response, *responseBody, error) {
	ctx := req.Context()

	var secure bool
	switch req.URL.Scheme {
	case "http":
	case "https":
		secure = true
	default:
		return nil, nil, fmt.Errorf("callcheck: unsupported URL scheme %q", req.URL.Scheme)
	}
	port, err := urlPort(req)
	if err != nil {
		return nil, nil, err
	}

	host := req.URL.Hostname()
	addrs, err := cs.resolve(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	hc, err := cs.connect(ctx, host, addrs, port, secure)
	if err != nil {
		return nil, nil, err
	}

	conn := hc.Conn()
	ex := &exchange{
		cs:    cs,
		conn:  conn,
		hc:    hc,
		laddr: safeconn.LocalAddr(conn),
		raddr: safeconn.RemoteAddr(conn),
	}
	cs.emit(func(l Listener) {
		ex.held = true
		l.ConnectionAcquired(conn)
	})
	return ex.roundTrip(req)
}

// resolve maps host to addresses, emitting DNS notifications unless
// host is an IP literal.
func (cs *callSession) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}
	cs.emit(func(l Listener) { l.DNSStart(host) })
	addrs, err := cs.client.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	cs.emit(func(l Listener) { l.DNSEnd(host, addrs) })
	if len(addrs) <= 0 {
		return nil, fmt.Errorf("callcheck: no addresses for %q", host)
	}
	return addrs, nil
}

// connect dials each address in turn and returns an [*HTTPConn] bound to the
// first usable connection. An address whose TLS handshake negotiates an
// unsupported application protocol counts as a failed connect.
func (cs *callSession) connect(ctx context.Context,
	host string, addrs []netip.Addr, port uint16, secure bool) (*HTTPConn, error) {
	cfg := cs.client.config()
	var errv []error
	for _, addr := range addrs {
		endpoint := netip.AddrPortFrom(addr, port)
		cs.emit(func(l Listener) { l.ConnectStart(endpoint, nil) })

		conn, err := NewConnectFunc(cfg, "tcp", cs.client.Logger).Call(ctx, endpoint)
		if err != nil {
			cs.emit(func(l Listener) { l.ConnectFailed(endpoint, nil, "", err) })
			errv = append(errv, err)
			continue
		}
		conn, _ = NewObserveConnFunc(cfg, cs.client.Logger).Call(ctx, conn)

		var state *tls.ConnectionState
		if secure {
			cs.emit(func(l Listener) { l.SecureConnectStart() })
			handshaker := NewTLSHandshakeFunc(cfg, cs.tlsConfig(host), cs.client.Logger)
			handshaker.Engine = cs.client.TLSEngine
			tconn, err := handshaker.Call(ctx, conn)
			if err != nil {
				cs.emit(func(l Listener) { l.ConnectFailed(endpoint, nil, "", err) })
				errv = append(errv, err)
				continue
			}
			cstate := tconn.ConnectionState()
			state = &cstate
			conn = tconn
		}

		// HTTPConnFunc closes conn when it fails.
		hc, err := NewHTTPConnFunc(cfg, cs.client.Logger).Call(ctx, conn)
		if err != nil {
			cs.emit(func(l Listener) { l.ConnectFailed(endpoint, nil, "", err) })
			errv = append(errv, err)
			continue
		}

		if state != nil {
			cs.emit(func(l Listener) { l.SecureConnectEnd(state) })
		}
		cs.emit(func(l Listener) { l.ConnectEnd(endpoint, nil, hc.Protocol()) })
		return hc, nil
	}
	return nil, errors.Join(errv...)
}

// tlsConfig returns the TLS configuration for host.
func (cs *callSession) tlsConfig(host string) *tls.Config {
	config := &tls.Config{}
	if cs.client.TLSConfig != nil {
		config = cs.client.TLSConfig.Clone()
	}
	if config.ServerName == "" {
		config.ServerName = host
	}
	if len(config.NextProtos) <= 0 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}
	return config
}

// urlPort returns the explicit URL port or the scheme default.
func urlPort(req *http.Request) (uint16, error) {
	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			return 443, nil
		}
		return 80, nil
	}
	value, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("callcheck: invalid URL port %q: %w", port, err)
	}
	return uint16(value), nil
}

// exchange is one request/response over one acquired connection.
//
// The fields below cs are written before the connection is acquired and
// then only read. The flags are protected by cs.mu.
type exchange struct {
	cs    *callSession
	conn  net.Conn
	hc    *HTTPConn
	laddr string
	raddr string

	// held is true between connectionAcquired and connectionReleased;
	// notifications from transport goroutines racing with release are dropped.
	held bool

	hasRequestBody         bool
	requestBodyCount       int64
	requestBodyEOF         bool
	requestBodyEnded       bool
	requestBodyStarted     bool
	requestHeadersEnded    bool
	responseHeadersStarted bool
}

// emitHeld delivers a notification only while the connection is held.
func (ex *exchange) emitHeld(fn func(l Listener)) {
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	if ex.held {
		fn(ex.cs.listener)
	}
}

// release closes the connection and emits connectionReleased once.
func (ex *exchange) release() {
	ex.hc.Close()
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	if ex.held {
		ex.held = false
		ex.cs.listener.ConnectionReleased(ex.conn)
	}
}

// roundTrip sends req and wraps the response body.
func (ex *exchange) roundTrip(req *http.Request) (*http.Response, *responseBody, error) {
	trace := &httptrace.ClientTrace{
		WroteHeaders:         func() { ex.wroteHeaders(req) },
		GotFirstResponseByte: ex.startResponseHeaders,
	}
	outreq := req.Clone(httptrace.WithClientTrace(req.Context(), trace))
	if outreq.Body != nil && outreq.Body != http.NoBody {
		ex.hasRequestBody = true
		outreq.Body = &requestBody{body: outreq.Body, ex: ex}
	}

	ex.emitHeld(func(l Listener) { l.RequestHeadersStart() })
	resp, err := ex.hc.RoundTrip(outreq)
	if err != nil {
		ex.release()
		return nil, nil, err
	}

	ex.startResponseHeaders()
	ex.emitHeld(func(l Listener) { l.ResponseHeadersEnd(resp) })
	body := &responseBody{body: resp.Body, ex: ex}
	resp.Body = body
	resp.Request = req
	return resp, body, nil
}

// wroteHeaders ends the request headers and starts the request body, if any.
func (ex *exchange) wroteHeaders(req *http.Request) {
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	if !ex.held || ex.requestHeadersEnded {
		return
	}
	ex.requestHeadersEnded = true
	ex.cs.listener.RequestHeadersEnd(req)
	if ex.hasRequestBody {
		ex.requestBodyStarted = true
		ex.cs.listener.RequestBodyStart()
		ex.maybeEndRequestBodyLocked()
	}
}

// requestBodyRead accounts for a read of the request body.
func (ex *exchange) requestBodyRead(count int, err error) {
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	ex.requestBodyCount += int64(count)
	if err != nil {
		ex.requestBodyEOF = true
		ex.maybeEndRequestBodyLocked()
	}
}

// requestBodyDone marks the request body as fully consumed.
func (ex *exchange) requestBodyDone() {
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	ex.requestBodyEOF = true
	ex.maybeEndRequestBodyLocked()
}

// maybeEndRequestBodyLocked emits requestBodyEnd once the body has
// started and was consumed. The caller holds cs.mu.
func (ex *exchange) maybeEndRequestBodyLocked() {
	if ex.held && ex.requestBodyStarted && ex.requestBodyEOF && !ex.requestBodyEnded {
		ex.requestBodyEnded = true
		ex.cs.listener.RequestBodyEnd(ex.requestBodyCount)
	}
}

// startResponseHeaders emits responseHeadersStart once.
func (ex *exchange) startResponseHeaders() {
	ex.cs.mu.Lock()
	defer ex.cs.mu.Unlock()
	if ex.held && !ex.responseHeadersStarted {
		ex.responseHeadersStarted = true
		ex.cs.listener.ResponseHeadersStart()
	}
}
