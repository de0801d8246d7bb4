// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverhttps"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
)

// DNS protocols understood by [*DNSConnFunc] and [*DNSResolver].
const (
	DNSProtocolUDP   = "udp"
	DNSProtocolTCP   = "tcp"
	DNSProtocolTLS   = "dot"
	DNSProtocolHTTPS = "doh"
)

// DNSConn performs DNS exchanges over an owned connection.
//
// The caller is responsible for calling [DNSConn.Close] when done.
//
// Construct using [NewDNSConnFunc].
type DNSConn struct {
	// conn is the owned connection.
	conn net.Conn

	// hc is the HTTP transport over conn for "doh", nil otherwise.
	hc *HTTPConn

	// protocol is one of the DNSProtocol constants.
	protocol string

	// url is the "doh" endpoint.
	url string

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time
}

// Close closes the underlying connection.
func (dc *DNSConn) Close() error {
	if dc.hc != nil {
		return dc.hc.Close()
	}
	return dc.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (dc *DNSConn) Conn() net.Conn {
	return dc.conn
}

// Protocol returns the DNS protocol of the connection.
func (dc *DNSConn) Protocol() string {
	return dc.protocol
}

// Exchange sends query and returns the response. It may be called
// multiple times on the same connection.
func (dc *DNSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	span := newDNSExchangeSpan(ctx, dc, dc.conn)
	resp, err := dc.exchange(ctx, span, query)
	span.done(err)
	return resp, err
}

func (dc *DNSConn) exchange(ctx context.Context,
	span *dnsExchangeSpan, query *dnscodec.Query) (*dnscodec.Response, error) {
	// The transports below never dial: the exchange uses dc.conn.
	unspecified := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

	switch dc.protocol {
	case DNSProtocolHTTPS:
		return dc.exchangeHTTPS(ctx, span, query)
	case DNSProtocolUDP:
		txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, unspecified)
		txp.ObserveRawQuery = span.observeQuery
		txp.ObserveRawResponse = span.observeResponse
		return txp.ExchangeWithConn(ctx, dc.conn, query)
	}

	txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), unspecified)
	txp.ObserveRawQuery = span.observeQuery
	txp.ObserveRawResponse = span.observeResponse
	if dc.protocol == DNSProtocolTLS {
		// The TLS stream opener turns on padding and DNSSEC.
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTLSStreamOpener(dc.conn.(TLSConn)), query)
	}
	return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(dc.conn), query)
}

// exchangeHTTPS performs a DNS-over-HTTPS round trip over dc.hc.
func (dc *DNSConn) exchangeHTTPS(ctx context.Context,
	span *dnsExchangeSpan, query *dnscodec.Query) (*dnscodec.Response, error) {
	req, queryMsg, err := dnsoverhttps.NewRequestWithHook(ctx, query, dc.url, span.observeQuery)
	if err != nil {
		return nil, err
	}
	resp, err := dc.hc.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return dnsoverhttps.ReadResponseWithHook(ctx, resp, queryMsg, span.observeResponse)
}

// DNSConnFunc wraps a connection into a [*DNSConn].
//
// The "dot" and "doh" protocols require the connection to be a [TLSConn].
// For "doh", the connection is further wrapped using [*HTTPConnFunc] and
// exchanges are POSTed to URL.
//
// All fields are safe to modify after construction but before first use.
type DNSConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDNSConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSConnFunc] to the user-provided logger.
	Logger SLogger

	// Protocol is the DNS protocol.
	//
	// Set by [NewDNSConnFunc] to the user-provided protocol.
	Protocol string

	// URL is the "doh" endpoint (e.g., "https://dns.google/dns-query").
	//
	// Set by [NewDNSConnFunc] to an empty string.
	URL string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewDNSConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewDNSConnFunc returns a new [*DNSConnFunc].
//
// The cfg argument contains the common configuration.
//
// The protocol argument is one of "udp", "tcp", "dot", and "doh".
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDNSConnFunc(cfg *Config, protocol string, logger SLogger) *DNSConnFunc {
	return &DNSConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Protocol:      protocol,
		TimeNow:       cfg.TimeNow,
	}
}

var _ Func[net.Conn, *DNSConn] = &DNSConnFunc{}

// Call implements [Func]. On error, conn is closed.
func (op *DNSConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSConn, error) {
	dc := &DNSConn{
		conn:          conn,
		protocol:      op.Protocol,
		url:           op.URL,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}

	switch op.Protocol {
	case DNSProtocolUDP, DNSProtocolTCP:
		return dc, nil

	case DNSProtocolTLS, DNSProtocolHTTPS:
		if _, ok := conn.(TLSConn); !ok {
			conn.Close()
			return nil, fmt.Errorf("callcheck: DNS protocol %q requires a TLS connection", op.Protocol)
		}
		if op.Protocol == DNSProtocolTLS {
			return dc, nil
		}
		if op.URL == "" {
			conn.Close()
			return nil, fmt.Errorf("callcheck: DNS protocol %q requires a URL", op.Protocol)
		}
		cfg := &Config{ErrClassifier: op.ErrClassifier, TimeNow: op.TimeNow}
		hc, err := NewHTTPConnFunc(cfg, op.Logger).Call(ctx, conn)
		if err != nil {
			return nil, err
		}
		dc.hc = hc
		return dc, nil

	default:
		conn.Close()
		return nil, fmt.Errorf("callcheck: unsupported DNS protocol %q", op.Protocol)
	}
}
