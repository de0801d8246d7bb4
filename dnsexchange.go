// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// dnsExchangeSpan logs a single DNS exchange over a [*DNSConn].
//
// An exchange logs dnsExchangeStart, then dnsQuery and dnsResponse as the
// transport observes the raw messages, then dnsExchangeDone.
type dnsExchangeSpan struct {
	deadline       time.Time
	errClassifier  ErrClassifier
	localAddr      string
	logger         SLogger
	protocol       string
	rawQuery       []byte
	remoteAddr     string
	serverProtocol string
	t0             time.Time
	timeNow        func() time.Time
}

// newDNSExchangeSpan starts the span for an exchange over conn.
func newDNSExchangeSpan(ctx context.Context, dc *DNSConn, conn net.Conn) *dnsExchangeSpan {
	deadline, _ := ctx.Deadline()
	span := &dnsExchangeSpan{
		deadline:       deadline,
		errClassifier:  dc.ErrClassifier,
		localAddr:      safeconn.LocalAddr(conn),
		logger:         dc.Logger,
		protocol:       safeconn.Network(conn),
		remoteAddr:     safeconn.RemoteAddr(conn),
		serverProtocol: dc.protocol,
		t0:             dc.TimeNow(),
		timeNow:        dc.TimeNow,
	}
	span.logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", span.deadline),
		slog.String("localAddr", span.localAddr),
		slog.String("protocol", span.protocol),
		slog.String("remoteAddr", span.remoteAddr),
		slog.String("serverProtocol", span.serverProtocol),
		slog.Time("t", span.t0),
	)
	return span
}

// observeQuery logs the raw query and keeps it for observeResponse.
func (span *dnsExchangeSpan) observeQuery(rawQuery []byte) {
	span.rawQuery = rawQuery
	span.logger.Info(
		"dnsQuery",
		slog.Any("dnsRawQuery", rawQuery),
		slog.String("localAddr", span.localAddr),
		slog.String("protocol", span.protocol),
		slog.String("remoteAddr", span.remoteAddr),
		slog.String("serverProtocol", span.serverProtocol),
		slog.Time("t", span.timeNow()),
	)
}

// observeResponse logs the raw response along with the raw query.
func (span *dnsExchangeSpan) observeResponse(rawResp []byte) {
	span.logger.Info(
		"dnsResponse",
		slog.Any("dnsRawQuery", span.rawQuery),
		slog.Any("dnsRawResponse", rawResp),
		slog.String("localAddr", span.localAddr),
		slog.String("protocol", span.protocol),
		slog.String("remoteAddr", span.remoteAddr),
		slog.String("serverProtocol", span.serverProtocol),
		slog.Time("t0", span.t0),
		slog.Time("t", span.timeNow()),
	)
}

// done ends the span.
func (span *dnsExchangeSpan) done(err error) {
	span.logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", span.deadline),
		slog.Any("err", err),
		slog.String("errClass", span.errClassifier.Classify(err)),
		slog.String("localAddr", span.localAddr),
		slog.String("protocol", span.protocol),
		slog.String("remoteAddr", span.remoteAddr),
		slog.String("serverProtocol", span.serverProtocol),
		slog.Time("t0", span.t0),
		slog.Time("t", span.timeNow()),
	)
}

// dnsUnusedDialer is a [Dialer] for DNS transports that only use
// pre-established connections. Dialing is a programming error.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("callcheck: DNS transport must not dial")
}
