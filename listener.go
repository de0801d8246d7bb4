// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/netip"
	"net/url"
)

// Listener receives the lifecycle notifications of a single call.
//
// An event source calls one method per observed event, in the order in
// which the events occur. Calls for the same call must be serialized.
//
// The payloads describe the event; [*Checker] never inspects them.
type Listener interface {
	// CallStart is invoked once, when the call starts.
	CallStart()

	// DNSStart is invoked before resolving domain.
	DNSStart(domain string)

	// DNSEnd is invoked after successfully resolving domain.
	DNSEnd(domain string, addrs []netip.Addr)

	// ConnectStart is invoked before dialing addr. A nil proxy means
	// the connection is direct.
	ConnectStart(addr netip.AddrPort, proxy *url.URL)

	// SecureConnectStart is invoked before the TLS handshake.
	SecureConnectStart()

	// SecureConnectEnd is invoked after a successful TLS handshake.
	SecureConnectEnd(state *tls.ConnectionState)

	// ConnectEnd is invoked once the connection is usable. The protocol
	// is the negotiated ALPN, or "" when unknown.
	ConnectEnd(addr netip.AddrPort, proxy *url.URL, protocol string)

	// ConnectFailed is invoked when dialing or the handshake fails.
	ConnectFailed(addr netip.AddrPort, proxy *url.URL, protocol string, err error)

	// ConnectionAcquired is invoked when the call starts using conn.
	ConnectionAcquired(conn net.Conn)

	// ConnectionReleased is invoked when the call stops using conn.
	ConnectionReleased(conn net.Conn)

	// RequestHeadersStart is invoked before writing the request headers.
	RequestHeadersStart()

	// RequestHeadersEnd is invoked after writing the headers of req.
	RequestHeadersEnd(req *http.Request)

	// RequestBodyStart is invoked before writing the request body.
	RequestBodyStart()

	// RequestBodyEnd is invoked after writing count body bytes.
	RequestBodyEnd(count int64)

	// ResponseHeadersStart is invoked when the first response byte arrives.
	ResponseHeadersStart()

	// ResponseHeadersEnd is invoked after reading the headers of resp.
	ResponseHeadersEnd(resp *http.Response)

	// ResponseBodyStart is invoked before reading the response body.
	ResponseBodyStart()

	// ResponseBodyEnd is invoked after reading count body bytes.
	ResponseBodyEnd(count int64)

	// CallEnd is invoked when the call completes successfully.
	CallEnd()

	// CallFailed is invoked when the call fails.
	CallFailed(err error)
}

// NopListener is a [Listener] ignoring all notifications.
//
// The zero value is ready to use.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) CallStart()                                            {}
func (NopListener) DNSStart(string)                                       {}
func (NopListener) DNSEnd(string, []netip.Addr)                           {}
func (NopListener) ConnectStart(netip.AddrPort, *url.URL)                 {}
func (NopListener) SecureConnectStart()                                   {}
func (NopListener) SecureConnectEnd(*tls.ConnectionState)                 {}
func (NopListener) ConnectEnd(netip.AddrPort, *url.URL, string)           {}
func (NopListener) ConnectFailed(netip.AddrPort, *url.URL, string, error) {}
func (NopListener) ConnectionAcquired(net.Conn)                           {}
func (NopListener) ConnectionReleased(net.Conn)                           {}
func (NopListener) RequestHeadersStart()                                  {}
func (NopListener) RequestHeadersEnd(*http.Request)                       {}
func (NopListener) RequestBodyStart()                                     {}
func (NopListener) RequestBodyEnd(int64)                                  {}
func (NopListener) ResponseHeadersStart()                                 {}
func (NopListener) ResponseHeadersEnd(*http.Response)                     {}
func (NopListener) ResponseBodyStart()                                    {}
func (NopListener) ResponseBodyEnd(int64)                                 {}
func (NopListener) CallEnd()                                              {}
func (NopListener) CallFailed(error)                                      {}

// Factory creates one fresh [Listener] per call.
//
// The req argument identifies the call: it is the first request the
// call sends, before following any redirect.
type Factory interface {
	New(req *http.Request) Listener
}

// FactoryFunc adapts a function to the [Factory] interface.
type FactoryFunc func(req *http.Request) Listener

var _ Factory = FactoryFunc(nil)

// New implements [Factory].
func (f FactoryFunc) New(req *http.Request) Listener {
	return f(req)
}

// NopFactory is a [Factory] returning [NopListener].
var NopFactory = FactoryFunc(func(*http.Request) Listener { return NopListener{} })
