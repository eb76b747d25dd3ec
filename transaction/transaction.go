// Package transaction implements the single-request state machine every
// PubNub-protocol operation rides on (§4.5): idle -> resolving -> connecting
// -> (tls_handshake)? -> send_headers -> send_body? -> read_status ->
// read_headers -> (proxy_auth_dialogue)? -> read_body -> done. Each call to
// Advance runs the machine forward and returns a pnerror.Result; InProgress
// means "call Advance again", any other value is terminal. The socket work
// is blocking: dialing, the TLS handshake, writes and each read wait on the
// network, and no read deadline is set.
package transaction

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pubnub-go/pncore/buffer"
	"github.com/pubnub-go/pncore/connengine"
	"github.com/pubnub-go/pncore/httpreader"
	"github.com/pubnub-go/pncore/pnerror"
	"github.com/pubnub-go/pncore/proxy"
	"github.com/pubnub-go/pncore/proxyauth"
)

// State names one step of the transaction state machine.
type State int

const (
	Idle State = iota
	Resolving
	Connecting
	TLSHandshake
	SendHeaders
	SendBody
	ReadStatus
	ReadHeaders
	ProxyAuthDialogue
	ReadBody
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case TLSHandshake:
		return "tls_handshake"
	case SendHeaders:
		return "send_headers"
	case SendBody:
		return "send_body"
	case ReadStatus:
		return "read_status"
	case ReadHeaders:
		return "read_headers"
	case ProxyAuthDialogue:
		return "proxy_auth_dialogue"
	case ReadBody:
		return "read_body"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Request describes the single HTTP request a Transaction will send. Path
// must already be fully assembled (by package urlbuilder) including its
// query string.
type Request struct {
	Method    string
	Host      string
	Port      int
	Path      string
	UseTLS    bool
	TLSOpts   connengine.TLSOptions
	UserAgent string
	Body      []byte
	Proxy     proxy.Descriptor
}

// Transaction drives one request/response cycle over a connengine.Conn,
// reusing the caller-owned TX/RX buffers across its whole lifetime (§3).
type Transaction struct {
	req    Request
	dialer *connengine.Dialer

	state State
	conn  *connengine.Conn
	tx    *buffer.TX
	rx    *buffer.RX
	rd    *httpreader.Reader

	sentHeaders bool
	sentBody    bool

	// proxyAuthRounds counts completed proxy_auth_dialogue round-trips
	// (§4.5: the hop limit is 3 dialogue rounds per transaction). ntlmStage
	// tracks where in the NTLM Type-1/Type-2/Type-3 handshake this
	// transaction is: 0 means the next 407 should be answered with a Type-1
	// Negotiate, 1 means a Type-1 was just sent and the next 407 carries the
	// Type-2 challenge to answer with Type-3 (§8 property 8).
	proxyAuthRounds int
	ntlmStage       int
	digestSession   proxyauth.DigestSession

	lastResult pnerror.Result
}

// maxProxyAuthRounds is the §4.5 dialogue hop limit: a transaction gives up
// and reports AuthenticationFailed after this many proxy_auth_dialogue
// round-trips without a non-407 response.
const maxProxyAuthRounds = 3

// New creates a Transaction ready to Advance, sharing tx/rx with whatever
// other transactions the owning Context serialises through them (§3: "at
// most one transaction at a time" per buffer pair).
func New(req Request, dialer *connengine.Dialer, tx *buffer.TX, rx *buffer.RX) *Transaction {
	return &Transaction{
		req:    req,
		dialer: dialer,
		state:  Idle,
		tx:     tx,
		rx:     rx,
		rd:     httpreader.NewReader(),
	}
}

// State reports which step of the machine the transaction is currently in.
func (t *Transaction) State() State { return t.state }

// Advance runs the machine until it needs more response bytes or reaches a
// terminal result, and returns the resulting pnerror.Result. It blocks on
// dialing, the TLS handshake, writes and one socket read per call; it
// returns InProgress when the bytes read so far do not yet complete the
// response, and the caller calls Advance again.
func (t *Transaction) Advance(ctx context.Context) pnerror.Result {
	for {
		switch t.state {
		case Idle:
			if err := t.assembleRequest(); err != nil {
				t.lastResult = pnerror.TxBuffTooSmall
				return t.lastResult
			}
			if t.rx.Filled() > 0 {
				t.lastResult = pnerror.RxBuffNotEmpty
				return t.lastResult
			}
			t.state = Resolving

		case Resolving, Connecting:
			target := t.req
			if !t.req.Proxy.Empty() {
				target.Host = t.req.Proxy.Host
				target.Port = t.req.Proxy.Port
			}
			conn, err := t.dialer.Dial(ctx, target.Host, target.Port)
			if err != nil {
				t.lastResult = classifyDialError(err)
				return t.lastResult
			}
			t.conn = conn
			if t.req.UseTLS && t.req.Proxy.Empty() {
				t.state = TLSHandshake
			} else {
				t.state = SendHeaders
			}

		case TLSHandshake:
			opts := t.req.TLSOpts
			if opts.ServerName == "" {
				opts.ServerName = t.req.Host
			}
			tlsConn, err := t.dialer.DialTLS(ctx, t.req.Host, t.req.Port, opts)
			if err != nil {
				t.lastResult = pnerror.IOError
				return t.lastResult
			}
			t.conn = tlsConn
			t.state = SendHeaders

		case SendHeaders, SendBody:
			if err := t.writeAll(t.tx.Bytes()); err != nil {
				t.lastResult = pnerror.IOError
				return t.lastResult
			}
			t.sentHeaders = true
			t.sentBody = true
			t.state = ReadStatus

		case ReadStatus, ReadHeaders, ReadBody:
			res, err := t.pump()
			if err != nil {
				t.lastResult = pnerror.IOError
				return t.lastResult
			}
			if res == pnerror.InProgress {
				t.lastResult = pnerror.InProgress
				return t.lastResult
			}
			if res != pnerror.Ok {
				t.lastResult = res
				return t.lastResult
			}
			status := t.rd.Response().StatusCode
			if status == 407 && !t.req.Proxy.Empty() {
				if t.proxyAuthRounds >= maxProxyAuthRounds {
					t.state = Done
					t.lastResult = pnerror.AuthenticationFailed
					return t.lastResult
				}
				t.state = ProxyAuthDialogue
				continue
			}
			t.state = Done
			t.lastResult = resultForStatus(status)
			return t.lastResult

		case ProxyAuthDialogue:
			if err := t.retryWithProxyAuth(); err != nil {
				t.lastResult = pnerror.AuthenticationFailed
				return t.lastResult
			}
			t.proxyAuthRounds++
			t.rx.Reset()
			t.rd.Reset()
			t.state = SendHeaders

		case Done:
			return t.lastResult
		}
	}
}

// Response returns the parsed HTTP response once Advance has reached Done
// with a non-error result.
func (t *Transaction) Response() *httpreader.Response { return t.rd.Response() }

func (t *Transaction) assembleRequest() error {
	t.tx.Reset()
	requestLine := fmt.Sprintf("%s %s HTTP/1.1", t.req.Method, t.req.Path)
	ua := t.req.UserAgent
	if ua == "" {
		ua = "pncore-go/1.0"
	}
	lines := []string{
		requestLine,
		"Host: " + t.req.Host,
		"User-Agent: " + ua,
		"Accept-Encoding: gzip",
		"Connection: keep-alive",
	}
	if len(t.req.Body) > 0 {
		lines = append(lines, fmt.Sprintf("Content-Length: %d", len(t.req.Body)))
	}
	head := strings.Join(lines, "\r\n") + "\r\n\r\n"

	if err := t.tx.AppendString(head); err != nil {
		return err
	}
	if len(t.req.Body) > 0 {
		if err := t.tx.Append(t.req.Body); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := t.conn.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// pump performs one read from the connection into rx, blocking until bytes
// arrive or the connection closes, and feeds whatever arrived to the
// httpreader.
func (t *Transaction) pump() (pnerror.Result, error) {
	if t.rx.Unread() == 0 {
		if t.rx.Growable() {
			t.rx.Compact()
			if t.rx.Unread() == 0 {
				t.rx.Grow()
			}
		} else {
			t.rx.Compact()
		}
	}

	n, err := t.conn.Read(t.rx.WriteSpace())
	if n > 0 {
		t.rx.Produce(n)
	}
	if err != nil {
		if err == io.EOF {
			t.rd.FinishCloseDelimited()
		} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return pnerror.InProgress, nil
		} else {
			return pnerror.IOError, err
		}
	}

	return t.rd.Feed(t.rx), nil
}

func classifyDialError(err error) pnerror.Result {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return pnerror.Timeout
	}
	return pnerror.IOError
}

func resultForStatus(code int) pnerror.Result {
	switch {
	case code >= 200 && code < 300:
		return pnerror.Ok
	case code >= 400:
		return pnerror.HTTPError
	default:
		return pnerror.Ok
	}
}

// retryWithProxyAuth inspects the 407 response just read, computes the
// Proxy-Authorization header for the configured scheme, and re-assembles
// the request with that header attached.
func (t *Transaction) retryWithProxyAuth() error {
	resp := t.rd.Response()
	challenge := resp.HeaderValue("proxy-authenticate")

	var authHeader string
	switch t.req.Proxy.AuthScheme {
	case proxy.AuthBasic:
		authHeader = proxyauth.Basic(t.req.Proxy.Username, t.req.Proxy.Password)

	case proxy.AuthDigest:
		c, err := proxyauth.ParseDigestChallenge(challenge)
		if err != nil {
			return err
		}
		nc := t.digestSession.NextNC(c.Realm, c.Nonce)
		authHeader, err = proxyauth.DigestResponse(c, t.req.Proxy.Username, t.req.Proxy.Password, t.req.Method, t.req.Path, t.req.Body, nc)
		if err != nil {
			return err
		}

	case proxy.AuthNTLM:
		// Round 1: the proxy's bare 407 carries no NTLM material yet, so the
		// client opens with Type-1 Negotiate. Only on the following round,
		// once the 407 actually carries a Type-2 challenge, is Type-3
		// Authenticate computed and sent (§8 property 8).
		if t.ntlmStage == 0 {
			authHeader = proxyauth.NTLMNegotiate()
			t.ntlmStage = 1
		} else {
			c, err := proxyauth.ParseNTLMChallenge(challenge)
			if err != nil {
				return err
			}
			authHeader, err = proxyauth.NTLMAuthenticate(c, "", t.req.Proxy.Username, t.req.Proxy.Password)
			if err != nil {
				return err
			}
			t.ntlmStage = 2
		}

	default:
		return fmt.Errorf("transaction: 407 received but no proxy auth scheme configured")
	}

	if err := t.assembleRequest(); err != nil {
		return err
	}
	// Splice the Proxy-Authorization header in just before the trailing
	// blank line written by assembleRequest.
	raw := t.tx.Bytes()
	idx := strings.Index(string(raw), "\r\n\r\n")
	if idx < 0 {
		return fmt.Errorf("transaction: malformed assembled request")
	}
	header := "\r\nProxy-Authorization: " + authHeader
	t.tx.Reset()
	if err := t.tx.Append(raw[:idx]); err != nil {
		return err
	}
	if err := t.tx.AppendString(header); err != nil {
		return err
	}
	if err := t.tx.Append(raw[idx:]); err != nil {
		return err
	}
	return nil
}
