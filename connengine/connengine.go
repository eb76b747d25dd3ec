// Package connengine implements the DNS-resolve / TCP-connect /
// optional-TLS-handshake / keep-alive connection lifecycle each transaction
// drives before it can send a request (§4.4). Unlike the browser-fingerprint
// dialer this engine's TLS handshake shape was adapted from, connengine
// performs a standards-compliant handshake: it does not parrot a browser's
// ClientHello, it validates server certificates against the system trust
// store (or a caller-supplied CA), and it exists solely to move bytes
// reliably over the wire.
package connengine

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
)

// DNSResolver resolves a hostname to a rotating list of addresses and
// iterates IPv4/IPv6 candidates in the caller's preferred order (§4.4).
type DNSResolver struct {
	Servers      []string // optional explicit DNS servers; empty means system resolver
	PreferIPv6   bool
	Retries      int
	mu           sync.Mutex
	nextServerAt int
}

// NewDNSResolver returns a resolver using the system resolver unless servers
// are supplied.
func NewDNSResolver(servers []string, preferIPv6 bool, retries int) *DNSResolver {
	if retries < 1 {
		retries = 1
	}
	return &DNSResolver{Servers: servers, PreferIPv6: preferIPv6, Retries: retries}
}

// rotatingServer returns the next configured DNS server and advances the
// rotation, or "" if none are configured (use the system resolver).
func (d *DNSResolver) rotatingServer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Servers) == 0 {
		return ""
	}
	s := d.Servers[d.nextServerAt%len(d.Servers)]
	d.nextServerAt++
	return s
}

// Resolve returns host's addresses ordered per PreferIPv6, retrying against
// the next rotating DNS server (if configured) on failure.
func (d *DNSResolver) Resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}

	var lastErr error
	for attempt := 0; attempt < d.Retries; attempt++ {
		resolver := &net.Resolver{}
		if server := d.rotatingServer(); server != "" {
			resolver.PreferGo = true
			resolver.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, network, server)
			}
		}

		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err == nil {
			return orderAddrs(addrs, d.PreferIPv6), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connengine: resolve %q: %w", host, lastErr)
}

func orderAddrs(addrs []net.IPAddr, preferIPv6 bool) []net.IPAddr {
	ordered := make([]net.IPAddr, 0, len(addrs))
	var first, second []net.IPAddr
	for _, a := range addrs {
		isV4 := a.IP.To4() != nil
		if isV4 == !preferIPv6 {
			first = append(first, a)
		} else {
			second = append(second, a)
		}
	}
	ordered = append(ordered, first...)
	ordered = append(ordered, second...)
	return ordered
}

// KeepAliveBudget is the pool-of-one keep-alive policy for a connection:
// it may be reused until either timeout elapses since it went idle, or it
// has served maxOps requests (§4.4).
type KeepAliveBudget struct {
	Timeout time.Duration
	MaxOps  int
}

// Conn wraps a single live connection plus the bookkeeping needed to decide
// whether it is still eligible for reuse under its KeepAliveBudget.
type Conn struct {
	net.Conn
	Budget   KeepAliveBudget
	opsDone  int
	idleFrom time.Time
}

// NewConn wraps raw with the given keep-alive budget.
func NewConn(raw net.Conn, budget KeepAliveBudget) *Conn {
	return &Conn{Conn: raw, Budget: budget}
}

// MarkOpDone records that one request/response cycle completed on this
// connection and records the time it went idle (for Timeout expiry checks).
func (c *Conn) MarkOpDone(idleAt time.Time) {
	c.opsDone++
	c.idleFrom = idleAt
}

// Reusable reports whether the connection may carry another transaction,
// given "now" supplied by the caller (connengine never calls time.Now()
// itself so that callers can drive it deterministically in tests).
func (c *Conn) Reusable(now time.Time) bool {
	if c.Budget.MaxOps > 0 && c.opsDone >= c.Budget.MaxOps {
		return false
	}
	if c.Budget.Timeout > 0 && !c.idleFrom.IsZero() && now.Sub(c.idleFrom) > c.Budget.Timeout {
		return false
	}
	return true
}

// TLSOptions configures certificate validation for the TLS handshake
// (§4.7's use_ssl_options / ssl_verify_locations / ssl_use_system_certificate_store).
type TLSOptions struct {
	Enabled            bool
	ServerName         string
	InsecureSkipVerify bool
	UseSystemCertStore bool
	RootCAs            *x509.CertPool // nil means use the system trust store
}

// Dialer performs DNS resolution, TCP connect (honouring a wait_connect
// timer via ctx), and an optional TLS handshake, returning a keep-alive
// wrapped Conn.
type Dialer struct {
	Resolver        *DNSResolver
	WaitConnect     time.Duration
	KeepAlive       KeepAliveBudget
}

// NewDialer builds a Dialer with the given resolver, connect timeout and
// keep-alive budget.
func NewDialer(resolver *DNSResolver, waitConnect time.Duration, keepAlive KeepAliveBudget) *Dialer {
	return &Dialer{Resolver: resolver, WaitConnect: waitConnect, KeepAlive: keepAlive}
}

// Dial resolves host, attempts each candidate address in order until one
// connects (within WaitConnect), and wraps the winning connection.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (*Conn, error) {
	addrs, err := d.Resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("connengine: no addresses for %q", host)
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if d.WaitConnect > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, d.WaitConnect)
		defer cancel()
	}

	var lastErr error
	var netDialer net.Dialer
	for _, addr := range addrs {
		conn, err := netDialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr.IP.String(), fmt.Sprint(port)))
		if err == nil {
			return NewConn(conn, d.KeepAlive), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connengine: connect to %s:%d: %w", host, port, lastErr)
}

// DialTLS dials like Dial and then performs a standards-compliant TLS
// handshake over the resulting connection, validating the certificate chain
// against the system trust store (opts.UseSystemCertStore / default) or a
// caller-supplied pool (opts.RootCAs).
func (d *Dialer) DialTLS(ctx context.Context, host string, port int, opts TLSOptions) (*Conn, error) {
	plain, err := d.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}

	sni := opts.ServerName
	if sni == "" {
		sni = host
	}

	cfg := &utls.Config{
		ServerName:         sni,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		RootCAs:            opts.RootCAs,
	}

	// HelloGolang: a plain, standards-conformant ClientHello with no
	// fingerprint spoofing -- uTLS is used here only as a vetted TLS
	// implementation, not to impersonate a browser.
	uconn := utls.UClient(plain.Conn, cfg, utls.HelloGolang)
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = plain.Close()
		return nil, fmt.Errorf("connengine: TLS handshake with %s: %w", host, err)
	}

	plain.Conn = uconn
	return plain, nil
}
