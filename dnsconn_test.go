// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/tlsstub"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewDNSConnFunc populates all fields from Config and the provided arguments.
func TestNewDNSConnFunc(t *testing.T) {
	fn := NewDNSConnFunc(NewConfig(), DNSProtocolTCP, DefaultSLogger())

	require.NotNil(t, fn)
	assert.Equal(t, DNSProtocolTCP, fn.Protocol)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Call validates the protocol and the connection type. The connection
// is closed on failure, otherwise by Close.
func TestDNSConnFuncCall(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// protocol is the DNS protocol.
		protocol string

		// tls is whether to pass a TLS connection.
		tls bool

		// url is the DoH endpoint.
		url string

		// wantErr indicates whether we expect an error.
		wantErr bool
	}{
		{name: "udp", protocol: DNSProtocolUDP},
		{name: "tcp", protocol: DNSProtocolTCP},
		{name: "dot over TLS", protocol: DNSProtocolTLS, tls: true},
		{name: "dot without TLS", protocol: DNSProtocolTLS, wantErr: true},
		{name: "doh over TLS", protocol: DNSProtocolHTTPS, tls: true, url: "https://127.0.0.1/dns-query"},
		{name: "doh without TLS", protocol: DNSProtocolHTTPS, url: "https://127.0.0.1/dns-query", wantErr: true},
		{name: "doh without URL", protocol: DNSProtocolHTTPS, tls: true, wantErr: true},
		{name: "unknown protocol", protocol: "doq", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed := false
			conn := newMinimalConn()
			conn.CloseFunc = func() error {
				closed = true
				return nil
			}
			var input net.Conn = conn
			if tt.tls {
				input = &tlsstub.FuncTLSConn{
					FuncConn: conn,
					ConnectionStateFunc: func() tls.ConnectionState {
						return tls.ConnectionState{}
					},
				}
			}
			fn := NewDNSConnFunc(NewConfig(), tt.protocol, DefaultSLogger())
			fn.URL = tt.url

			dc, err := fn.Call(context.Background(), input)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, dc)
				assert.True(t, closed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.protocol, dc.Protocol())
			assert.NotNil(t, dc.Conn())
			assert.False(t, closed)
			require.NoError(t, dc.Close())
			assert.True(t, closed)
		})
	}
}

// Close delegates to the underlying connection.
func TestDNSConnClose(t *testing.T) {
	closeCalled := false
	conn := newMinimalConn()
	conn.CloseFunc = func() error {
		closeCalled = true
		return nil
	}

	dc, err := NewDNSConnFunc(NewConfig(), DNSProtocolUDP, DefaultSLogger()).Call(context.Background(), conn)
	require.NoError(t, err)

	require.NoError(t, dc.Close())
	assert.True(t, closeCalled)
}

// Exchange propagates write errors and logs the span.
func TestDNSConnExchangeWriteError(t *testing.T) {
	for _, protocol := range []string{DNSProtocolUDP, DNSProtocolTCP} {
		t.Run(protocol, func(t *testing.T) {
			wantErr := errors.New("write error")
			conn := newMinimalConn()
			conn.WriteFunc = func(b []byte) (int, error) {
				return 0, wantErr
			}
			logger, records := newCapturingLogger()

			dc, err := NewDNSConnFunc(NewConfig(), protocol, logger).Call(context.Background(), conn)
			require.NoError(t, err)

			resp, err := dc.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))

			require.Error(t, err)
			assert.Nil(t, resp)
			messages := recordMessages(*records)
			require.NotEmpty(t, messages)
			assert.Equal(t, "dnsExchangeStart", messages[0])
			assert.Equal(t, "dnsExchangeDone", messages[len(messages)-1])
			assert.Equal(t, protocol, recordAttrs((*records)[0])["serverProtocol"])
		})
	}
}
