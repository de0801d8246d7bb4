// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Resolver resolves a domain name to IP addresses.
type Resolver interface {
	LookupHost(ctx context.Context, domain string) ([]netip.Addr, error)
}

// NetResolver is a [Resolver] using a [*net.Resolver].
type NetResolver struct {
	// Resolver is the underlying resolver.
	Resolver *net.Resolver
}

var _ Resolver = &NetResolver{}

// LookupHost implements [Resolver].
func (r *NetResolver) LookupHost(ctx context.Context, domain string) ([]netip.Addr, error) {
	addrs, err := r.Resolver.LookupNetIP(ctx, "ip", domain)
	if err != nil {
		return nil, err
	}
	for idx := range addrs {
		addrs[idx] = addrs[idx].Unmap()
	}
	return addrs, nil
}

// NewDNSResolver returns a new [*DNSResolver].
//
// The cfg argument contains the common configuration.
//
// The protocol argument is one of "udp", "tcp", "dot", and "doh".
//
// The server argument is the address of the DNS server.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDNSResolver(cfg *Config, protocol string, server netip.AddrPort, logger SLogger) *DNSResolver {
	return &DNSResolver{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Protocol:      protocol,
		Server:        server,
		TLSConfig:     &tls.Config{},
		TLSEngine:     TLSEngineStdlib{},
		TimeNow:       cfg.TimeNow,
	}
}

// DNSResolver is a [Resolver] sending A queries to a single DNS server.
//
// Each lookup dials a new connection, wraps it into a [*DNSConn], performs
// one exchange, and closes the connection.
//
// All fields are safe to modify after construction but before first use.
type DNSResolver struct {
	// Dialer dials connections to the server.
	//
	// Set by [NewDNSResolver] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDNSResolver] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSResolver] to the user-provided logger.
	Logger SLogger

	// Protocol is the DNS protocol.
	//
	// Set by [NewDNSResolver] to the user-provided protocol.
	Protocol string

	// Server is the DNS server address.
	//
	// Set by [NewDNSResolver] to the user-provided server.
	Server netip.AddrPort

	// TLSConfig is the TLS configuration used by "dot" and "doh". When
	// NextProtos is empty, "dot" offers "dot" and "doh" offers "h2" and
	// "http/1.1". When ServerName is empty, the server IP address is used.
	//
	// Set by [NewDNSResolver] to an empty [*tls.Config].
	TLSConfig *tls.Config

	// TLSEngine creates TLS client connections for "dot" and "doh".
	//
	// Set by [NewDNSResolver] to [TLSEngineStdlib].
	TLSEngine TLSEngine

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewDNSResolver] from [Config.TimeNow].
	TimeNow func() time.Time

	// URL is the "doh" endpoint. When empty, "https://<Server>/dns-query" is used.
	//
	// Set by [NewDNSResolver] to an empty string.
	URL string
}

var _ Resolver = &DNSResolver{}

// LookupHost implements [Resolver].
func (r *DNSResolver) LookupHost(ctx context.Context, domain string) ([]netip.Addr, error) {
	dc, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer dc.Close()

	resp, err := dc.Exchange(ctx, dnscodec.NewQuery(domain, dns.TypeA))
	if err != nil {
		return nil, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return nil, err
	}

	addrs := make([]netip.Addr, 0, len(records))
	for _, record := range records {
		addr, err := netip.ParseAddr(record)
		if err != nil {
			return nil, fmt.Errorf("callcheck: invalid A record %q: %w", record, err)
		}
		addrs = append(addrs, addr.Unmap())
	}
	return addrs, nil
}

// dial establishes a [*DNSConn] with the server.
func (r *DNSResolver) dial(ctx context.Context) (*DNSConn, error) {
	cfg := &Config{
		Dialer:        r.Dialer,
		ErrClassifier: r.ErrClassifier,
		TimeNow:       r.TimeNow,
	}

	network := "tcp"
	if r.Protocol == DNSProtocolUDP {
		network = "udp"
	}
	conn, err := NewConnectFunc(cfg, network, r.Logger).Call(ctx, r.Server)
	if err != nil {
		return nil, err
	}
	conn, _ = NewObserveConnFunc(cfg, r.Logger).Call(ctx, conn)
	conn = watchCancel(ctx, conn)

	if r.Protocol == DNSProtocolTLS || r.Protocol == DNSProtocolHTTPS {
		tconn, err := r.handshake(ctx, cfg, conn)
		if err != nil {
			return nil, err
		}
		conn = tconn
	}

	dnsconn := NewDNSConnFunc(cfg, r.Protocol, r.Logger)
	dnsconn.URL = r.dohURL()
	return dnsconn.Call(ctx, conn)
}

// handshake performs the TLS handshake for "dot" and "doh".
func (r *DNSResolver) handshake(ctx context.Context, cfg *Config, conn net.Conn) (TLSConn, error) {
	config := &tls.Config{}
	if r.TLSConfig != nil {
		config = r.TLSConfig.Clone()
	}
	if config.ServerName == "" {
		config.ServerName = r.Server.Addr().String()
	}
	if len(config.NextProtos) <= 0 {
		config.NextProtos = []string{"dot"}
		if r.Protocol == DNSProtocolHTTPS {
			config.NextProtos = []string{"h2", "http/1.1"}
		}
	}
	handshaker := NewTLSHandshakeFunc(cfg, config, r.Logger)
	handshaker.Engine = r.TLSEngine
	return handshaker.Call(ctx, conn)
}

// dohURL returns the "doh" endpoint.
func (r *DNSResolver) dohURL() string {
	if r.URL != "" {
		return r.URL
	}
	return (&url.URL{Scheme: "https", Host: r.Server.String(), Path: "/dns-query"}).String()
}
