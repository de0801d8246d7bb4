// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordAttrs returns the attributes of a record keyed by name.
func recordAttrs(record slog.Record) map[string]any {
	attrs := make(map[string]any)
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.Any()
		return true
	})
	return attrs
}

// recordMessages returns the messages of the given records.
func recordMessages(records []slog.Record) []string {
	var messages []string
	for _, record := range records {
		messages = append(messages, record.Message)
	}
	return messages
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn, NameFunc returns
// "mock", and ParrotFunc returns "".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// recordingListener records the names of the notifications it receives
// and forwards them to the wrapped [Listener].
type recordingListener struct {
	next Listener

	mu         sync.Mutex
	events     []string
	violations []error
}

var _ Listener = &recordingListener{}

// newRecordingFactory returns a [Factory] creating a [*recordingListener]
// wrapping a [*Checker] per call, along with the created listeners. The
// checkers record violations instead of panicking.
func newRecordingFactory() (Factory, *[]*recordingListener) {
	var (
		mu        sync.Mutex
		listeners []*recordingListener
	)
	factory := FactoryFunc(func(req *http.Request) Listener {
		checker := NewChecker(NewConfig(), DefaultSLogger())
		rl := &recordingListener{next: checker}
		checker.OnViolation = rl.violation
		mu.Lock()
		listeners = append(listeners, rl)
		mu.Unlock()
		return rl
	})
	return factory, &listeners
}

// Events returns a copy of the recorded notification names.
func (rl *recordingListener) Events() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return append([]string{}, rl.events...)
}

// Violations returns a copy of the violations reported by the [*Checker].
func (rl *recordingListener) Violations() []error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return append([]error{}, rl.violations...)
}

func (rl *recordingListener) violation(err error) {
	rl.mu.Lock()
	rl.violations = append(rl.violations, err)
	rl.mu.Unlock()
}

// Checker returns the wrapped [*Checker].
func (rl *recordingListener) Checker() *Checker {
	return rl.next.(*Checker)
}

func (rl *recordingListener) record(event string) {
	rl.mu.Lock()
	rl.events = append(rl.events, event)
	rl.mu.Unlock()
}

func (rl *recordingListener) CallStart() {
	rl.record("callStart")
	rl.next.CallStart()
}

func (rl *recordingListener) DNSStart(domain string) {
	rl.record("dnsStart")
	rl.next.DNSStart(domain)
}

func (rl *recordingListener) DNSEnd(domain string, addrs []netip.Addr) {
	rl.record("dnsEnd")
	rl.next.DNSEnd(domain, addrs)
}

func (rl *recordingListener) ConnectStart(addr netip.AddrPort, proxy *url.URL) {
	rl.record("connectStart")
	rl.next.ConnectStart(addr, proxy)
}

func (rl *recordingListener) SecureConnectStart() {
	rl.record("secureConnectStart")
	rl.next.SecureConnectStart()
}

func (rl *recordingListener) SecureConnectEnd(state *tls.ConnectionState) {
	rl.record("secureConnectEnd")
	rl.next.SecureConnectEnd(state)
}

func (rl *recordingListener) ConnectEnd(addr netip.AddrPort, proxy *url.URL, protocol string) {
	rl.record("connectEnd")
	rl.next.ConnectEnd(addr, proxy, protocol)
}

func (rl *recordingListener) ConnectFailed(addr netip.AddrPort, proxy *url.URL, protocol string, err error) {
	rl.record("connectFailed")
	rl.next.ConnectFailed(addr, proxy, protocol, err)
}

func (rl *recordingListener) ConnectionAcquired(conn net.Conn) {
	rl.record("connectionAcquired")
	rl.next.ConnectionAcquired(conn)
}

func (rl *recordingListener) ConnectionReleased(conn net.Conn) {
	rl.record("connectionReleased")
	rl.next.ConnectionReleased(conn)
}

func (rl *recordingListener) RequestHeadersStart() {
	rl.record("requestHeadersStart")
	rl.next.RequestHeadersStart()
}

func (rl *recordingListener) RequestHeadersEnd(req *http.Request) {
	rl.record("requestHeadersEnd")
	rl.next.RequestHeadersEnd(req)
}

func (rl *recordingListener) RequestBodyStart() {
	rl.record("requestBodyStart")
	rl.next.RequestBodyStart()
}

func (rl *recordingListener) RequestBodyEnd(count int64) {
	rl.record("requestBodyEnd")
	rl.next.RequestBodyEnd(count)
}

func (rl *recordingListener) ResponseHeadersStart() {
	rl.record("responseHeadersStart")
	rl.next.ResponseHeadersStart()
}

func (rl *recordingListener) ResponseHeadersEnd(resp *http.Response) {
	rl.record("responseHeadersEnd")
	rl.next.ResponseHeadersEnd(resp)
}

func (rl *recordingListener) ResponseBodyStart() {
	rl.record("responseBodyStart")
	rl.next.ResponseBodyStart()
}

func (rl *recordingListener) ResponseBodyEnd(count int64) {
	rl.record("responseBodyEnd")
	rl.next.ResponseBodyEnd(count)
}

func (rl *recordingListener) CallEnd() {
	rl.record("callEnd")
	rl.next.CallEnd()
}

func (rl *recordingListener) CallFailed(err error) {
	rl.record("callFailed")
	rl.next.CallFailed(err)
}

// staticResolver is a [Resolver] returning fixed results.
type staticResolver struct {
	addrs []netip.Addr
	err   error
}

var _ Resolver = &staticResolver{}

func (r *staticResolver) LookupHost(ctx context.Context, domain string) ([]netip.Addr, error) {
	return r.addrs, r.err
}
