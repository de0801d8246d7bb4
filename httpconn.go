//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package callcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// HTTPConn is an HTTP transport bound to a single, already established connection.
//
// The caller is responsible for calling [HTTPConn.Close] when done.
//
// Each round trip is a span logged as httpRoundTripStart/httpRoundTripDone.
// Lifecycle notifications are not emitted here: [*Client] emits them using
// the [net/http/httptrace] hooks of the request context.
//
// Construct using [NewHTTPConnFunc].
type HTTPConn struct {
	// conn is the underlying connection.
	conn net.Conn

	// protocol is the application protocol ("h2" or "http/1.1").
	protocol string

	// txp is the HTTP transport.
	txp http.RoundTripper

	// closeIdleFunc closes idle connections in the transport.
	closeIdleFunc func()

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time
}

var _ http.RoundTripper = &HTTPConn{}

// RoundTrip implements [http.RoundTripper].
func (hc *HTTPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	t0 := hc.TimeNow()
	deadline, _ := req.Context().Deadline()
	hc.Logger.Info(
		"httpRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", hc.protocol),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t", t0),
	)

	resp, err := hc.txp.RoundTrip(req)

	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	hc.Logger.Info(
		"httpRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", hc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", hc.protocol),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
		slog.Time("t0", t0),
		slog.Time("t", hc.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close cleans up the transport and closes the underlying connection.
func (hc *HTTPConn) Close() error {
	hc.closeIdleFunc()
	return hc.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (hc *HTTPConn) Conn() net.Conn {
	return hc.conn
}

// Protocol returns "h2" when ALPN negotiated HTTP/2 and "http/1.1" otherwise.
func (hc *HTTPConn) Protocol() string {
	return hc.protocol
}

// HTTPConnFunc wraps a connection into an [*HTTPConn].
//
// The transport is chosen using ALPN: HTTP/2 when the connection is a TLS
// connection that negotiated "h2", HTTP/1.1 when it negotiated "http/1.1"
// or nothing, or when it is not a TLS connection. Any other negotiated
// protocol is an error and the connection is closed.
//
// The caller is responsible for closing the returned [*HTTPConn].
//
// All fields are safe to modify after construction but before first use.
type HTTPConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewHTTPConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewHTTPConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewHTTPConnFunc returns a new [*HTTPConnFunc].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPConnFunc(cfg *Config, logger SLogger) *HTTPConnFunc {
	return &HTTPConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

var _ Func[net.Conn, *HTTPConn] = &HTTPConnFunc{}

// Call implements [Func].
func (op *HTTPConnFunc) Call(ctx context.Context, conn net.Conn) (*HTTPConn, error) {
	protocol, err := negotiatedProtocol(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// The single-use dialer hands the connection to the transport once, so
	// the transport can neither dial nor retry on a fresh connection.
	dialer := sud.NewSingleUseDialer(conn)

	var txp http.RoundTripper
	var closeIdleFunc func()
	switch protocol {
	case "h2":
		h2txp := &http2.Transport{
			DialTLSContext:     dialer.DialTLSContext,
			DisableCompression: false,
		}
		txp = h2txp
		closeIdleFunc = h2txp.CloseIdleConnections

	default:
		h1txp := &http.Transport{
			DialContext:        dialer.DialContext,
			DialTLSContext:     dialer.DialContext,
			DisableKeepAlives:  true,
			DisableCompression: false,
		}
		txp = h1txp
		closeIdleFunc = h1txp.CloseIdleConnections
	}

	hc := &HTTPConn{
		conn:          conn,
		protocol:      protocol,
		txp:           txp,
		closeIdleFunc: closeIdleFunc,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
	return hc, nil
}

// negotiatedProtocol maps the ALPN of a TLS conn to "h2" or "http/1.1".
func negotiatedProtocol(conn net.Conn) (string, error) {
	type connectionStater interface {
		ConnectionState() tls.ConnectionState
	}
	csp, ok := conn.(connectionStater)
	if !ok {
		return "http/1.1", nil
	}
	switch alpn := csp.ConnectionState().NegotiatedProtocol; alpn {
	case "h2":
		return "h2", nil
	case "", "http/1.1":
		return "http/1.1", nil
	default:
		return "", fmt.Errorf("callcheck: unsupported ALPN protocol %q", alpn)
	}
}
