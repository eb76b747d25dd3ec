// Package proxyauth implements the three proxy authentication dialogues a
// transaction may have to carry out against a CONNECT or forward proxy
// (§4.3): HTTP Basic, Digest (RFC 7616), and NTLM (the three-message
// Type-1/Type-2/Type-3 handshake). Each scheme is driven by feeding it the
// proxy's 407 challenge and getting back the Proxy-Authorization header
// value to retry the request with.
package proxyauth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/md4"
	"golang.org/x/text/encoding/unicode"
)

// Basic returns the "Basic <base64(user:pass)>" header value (§4.3).
func Basic(username, password string) string {
	raw := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// DigestChallenge holds the parsed fields of a WWW-Authenticate/
// Proxy-Authenticate: Digest challenge header.
type DigestChallenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string // "MD5", "SHA-256", "SHA-512-256" (default MD5)
	QOP       string // "auth", "auth-int", or "" if unsupported
	Stale     bool
}

// ParseDigestChallenge parses a Proxy-Authenticate header value beginning
// with "Digest ". It returns an error if the header is missing required
// realm/nonce fields.
func ParseDigestChallenge(header string) (DigestChallenge, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), "digest ") {
		return DigestChallenge{}, fmt.Errorf("proxyauth: not a Digest challenge: %q", header)
	}
	fields := parseAuthParams(header[len("digest "):])

	c := DigestChallenge{
		Realm:     fields["realm"],
		Nonce:     fields["nonce"],
		Opaque:    fields["opaque"],
		Algorithm: strings.ToUpper(fields["algorithm"]),
		QOP:       pickQOP(fields["qop"]),
	}
	if c.Algorithm == "" {
		c.Algorithm = "MD5"
	}
	if strings.EqualFold(fields["stale"], "true") {
		c.Stale = true
	}
	if c.Realm == "" || c.Nonce == "" {
		return DigestChallenge{}, fmt.Errorf("proxyauth: challenge missing realm/nonce")
	}
	return c, nil
}

// pickQOP chooses a quality-of-protection value from the challenge's
// comma-separated qop list, preferring auth-int over auth when the server
// offers both: auth-int also authenticates the request body, so it is the
// stronger guarantee and wins the negotiation (§4.3 scenario: a challenge
// advertising "auth,auth-int" must be answered with qop=auth-int).
func pickQOP(raw string) string {
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v == "auth-int" {
			return "auth-int"
		}
	}
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v == "auth" {
			return "auth"
		}
	}
	return ""
}

// parseAuthParams splits a comma-separated key=value (optionally quoted)
// list as used by both Digest and NTLM auth-param headers.
func parseAuthParams(s string) map[string]string {
	out := map[string]string{}
	for _, part := range splitParams(s) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = val
	}
	return out
}

// splitParams splits on commas that are not inside double quotes.
func splitParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// DigestSession tracks the monotonic nc (nonce-count) value for one
// (realm, nonce) pair. RFC 7616 §3.3 requires nc to strictly increase for
// every request reusing a given server nonce, and a fresh nonce (e.g. after
// a stale=true challenge) restarts the count at 1. DigestResponse stays a
// pure function of its arguments (§9 design note: auth state machines are
// pure functions of challenge/credentials/request-line); DigestSession is
// the caller-owned state a Transaction threads an nc value out of.
type DigestSession struct {
	realm string
	nonce string
	nc    uint64
}

// NextNC returns the next 8-hex-digit nc value for (realm, nonce), resetting
// to 1 whenever realm or nonce differs from the previous call.
func (s *DigestSession) NextNC(realm, nonce string) string {
	if s.realm != realm || s.nonce != nonce {
		s.realm, s.nonce, s.nc = realm, nonce, 0
	}
	s.nc++
	return fmt.Sprintf("%08x", s.nc)
}

// DigestResponse builds the Proxy-Authorization: Digest header value for
// one request, given the parsed challenge, request-line method/URI, the
// request body (only hashed into HA2 when the negotiated qop is
// "auth-int", per §4.3), and the nc value the caller obtained from its
// DigestSession. A fresh client nonce (cnonce) is generated per call.
func DigestResponse(c DigestChallenge, username, password, method, uri string, body []byte, nc string) (string, error) {
	h := digestHash(c.Algorithm)
	if h == nil {
		return "", fmt.Errorf("proxyauth: unsupported digest algorithm %q", c.Algorithm)
	}

	cnonce, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("proxyauth: generate cnonce: %w", err)
	}

	ha1 := hashHex(h, username+":"+c.Realm+":"+password)
	var ha2 string
	if c.QOP == "auth-int" {
		ha2 = hashHex(h, method+":"+uri+":"+hashHex(h, string(body)))
	} else {
		ha2 = hashHex(h, method+":"+uri)
	}

	var response string
	if c.QOP == "auth" || c.QOP == "auth-int" {
		response = hashHex(h, strings.Join([]string{ha1, c.Nonce, nc, cnonce, c.QOP, ha2}, ":"))
	} else {
		response = hashHex(h, ha1+":"+c.Nonce+":"+ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, c.Realm, c.Nonce, uri, response)
	if c.Algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, c.Algorithm)
	}
	if c.QOP != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, c.QOP, nc, cnonce)
	}
	if c.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.Opaque)
	}
	return b.String(), nil
}

func digestHash(alg string) func() hash.Hash {
	switch strings.ToUpper(alg) {
	case "", "MD5":
		return md5.New
	case "SHA-256":
		return sha256.New
	case "SHA-512-256":
		return sha512.New512_256
	default:
		return nil
	}
}

func hashHex(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NTLM message type-1/type-2/type-3 flags used by this client (§4.3).
const (
	ntlmNegotiateUnicode       = 0x00000001
	ntlmNegotiateOEM           = 0x00000002
	ntlmRequestTarget          = 0x00000004
	ntlmNegotiateNTLM          = 0x00000200
	ntlmNegotiateAlwaysSign    = 0x00008000
	ntlmNegotiateExtendedSec   = 0x00080000
	ntlmNegotiateTargetInfo    = 0x00800000
	ntlmNegotiate128           = 0x20000000
	ntlmNegotiate56            = 0x80000000
)

// NTLMNegotiate returns the base64-encoded Type-1 message that starts the
// NTLM handshake.
func NTLMNegotiate() string {
	flags := uint32(ntlmNegotiateUnicode | ntlmNegotiateOEM | ntlmRequestTarget |
		ntlmNegotiateNTLM | ntlmNegotiateAlwaysSign | ntlmNegotiateExtendedSec |
		ntlmNegotiate128 | ntlmNegotiate56)

	msg := make([]byte, 32)
	copy(msg[0:8], []byte("NTLMSSP\x00"))
	binary.LittleEndian.PutUint32(msg[8:12], 1) // message type
	binary.LittleEndian.PutUint32(msg[12:16], flags)
	return "NTLM " + base64.StdEncoding.EncodeToString(msg)
}

// NTLMChallenge holds the fields of a parsed Type-2 challenge message.
type NTLMChallenge struct {
	ServerChallenge [8]byte
	TargetInfo      []byte
	Flags           uint32
}

// ParseNTLMChallenge decodes the base64 Type-2 message from a
// "Proxy-Authenticate: NTLM <base64>" header.
func ParseNTLMChallenge(header string) (NTLMChallenge, error) {
	header = strings.TrimSpace(header)
	const prefix = "NTLM "
	if !strings.HasPrefix(header, prefix) {
		return NTLMChallenge{}, fmt.Errorf("proxyauth: not an NTLM challenge: %q", header)
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return NTLMChallenge{}, fmt.Errorf("proxyauth: decode NTLM message: %w", err)
	}
	if len(raw) < 32 || string(raw[0:8]) != "NTLMSSP\x00" {
		return NTLMChallenge{}, fmt.Errorf("proxyauth: malformed NTLM signature")
	}
	msgType := binary.LittleEndian.Uint32(raw[8:12])
	if msgType != 2 {
		return NTLMChallenge{}, fmt.Errorf("proxyauth: expected NTLM message type 2, got %d", msgType)
	}

	var c NTLMChallenge
	copy(c.ServerChallenge[:], raw[24:32])
	c.Flags = binary.LittleEndian.Uint32(raw[20:24])

	if c.Flags&ntlmNegotiateTargetInfo != 0 && len(raw) >= 48 {
		tiLen := binary.LittleEndian.Uint16(raw[40:42])
		tiOffset := binary.LittleEndian.Uint32(raw[44:48])
		if int(tiOffset)+int(tiLen) <= len(raw) {
			c.TargetInfo = raw[tiOffset : tiOffset+uint32(tiLen)]
		}
	}
	return c, nil
}

// NTLMAuthenticate computes the NTLMv2 Type-3 message for the given
// challenge, domain/username/password, and returns its base64 header value.
func NTLMAuthenticate(c NTLMChallenge, domain, username, password string) (string, error) {
	clientChallenge, err := randomBytes(8)
	if err != nil {
		return "", fmt.Errorf("proxyauth: generate client challenge: %w", err)
	}

	ntHash, err := ntowfv2(domain, username, password)
	if err != nil {
		return "", err
	}

	timestamp := ntlmTimestamp()
	blob := buildNTLMv2Blob(timestamp, clientChallenge, c.TargetInfo)

	ntProofInput := append(append([]byte{}, c.ServerChallenge[:]...), blob...)
	mac := hmac.New(md5.New, ntHash)
	mac.Write(ntProofInput)
	ntProofStr := mac.Sum(nil)

	ntChallengeResponse := append(ntProofStr, blob...)

	msg := buildNTLMv3Message(domain, username, ntChallengeResponse, c.Flags)
	return "NTLM " + base64.StdEncoding.EncodeToString(msg), nil
}

// ntowfv2 computes the NTLMv2 key: HMAC-MD5(MD4(UTF16LE(password)),
// UTF16LE(UPPER(username)+domain)).
func ntowfv2(domain, username, password string) ([]byte, error) {
	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

	passUTF16, err := utf16le.String(password)
	if err != nil {
		return nil, fmt.Errorf("proxyauth: encode password: %w", err)
	}
	md4Hash := md4.New()
	md4Hash.Write([]byte(passUTF16))
	ntHash := md4Hash.Sum(nil)

	identity := strings.ToUpper(username) + domain
	identityUTF16, err := utf16le.String(identity)
	if err != nil {
		return nil, fmt.Errorf("proxyauth: encode identity: %w", err)
	}

	mac := hmac.New(md5.New, ntHash)
	mac.Write([]byte(identityUTF16))
	return mac.Sum(nil), nil
}

// windowsEpochOffset is the number of 100ns intervals between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const windowsEpochOffset = 116444736000000000

func ntlmTimestamp() uint64 {
	return uint64(time.Now().UnixNano()/100) + windowsEpochOffset
}

func buildNTLMv2Blob(timestamp uint64, clientChallenge []byte, targetInfo []byte) []byte {
	blob := make([]byte, 0, 28+len(targetInfo)+4)
	blob = append(blob, 0x01, 0x01, 0x00, 0x00) // blob signature
	blob = append(blob, make([]byte, 4)...)     // reserved
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, timestamp)
	blob = append(blob, ts...)
	blob = append(blob, clientChallenge...)
	blob = append(blob, make([]byte, 4)...) // reserved
	blob = append(blob, targetInfo...)
	blob = append(blob, make([]byte, 4)...) // terminator
	return blob
}

func buildNTLMv3Message(domain, username string, ntResponse []byte, flags uint32) []byte {
	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	domainUTF16, _ := utf16le.String(domain)
	userUTF16, _ := utf16le.String(username)

	// Fixed header is 64 bytes (no LM response, no workstation, no session key).
	const headerLen = 64
	offset := headerLen

	msg := make([]byte, headerLen)
	copy(msg[0:8], []byte("NTLMSSP\x00"))
	binary.LittleEndian.PutUint32(msg[8:12], 3) // message type

	appendField := func(fieldOffsetPos int, data []byte) {
		binary.LittleEndian.PutUint16(msg[fieldOffsetPos:fieldOffsetPos+2], uint16(len(data)))
		binary.LittleEndian.PutUint16(msg[fieldOffsetPos+2:fieldOffsetPos+4], uint16(len(data)))
		binary.LittleEndian.PutUint32(msg[fieldOffsetPos+4:fieldOffsetPos+8], uint32(offset))
		msg = append(msg, data...)
		offset += len(data)
	}

	appendField(12, nil)             // LM response (empty)
	appendField(20, ntResponse)      // NT response
	appendField(28, []byte(domainUTF16))
	appendField(36, []byte(userUTF16))
	appendField(44, nil) // workstation (empty)
	appendField(52, nil) // session key (empty)

	binary.LittleEndian.PutUint32(msg[60:64], flags)
	return msg
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ParseRetryAfter extracts a numeric Retry-After header (seconds). The
// transaction's proxy dialogue does not call it; a retried request is sent
// without waiting.
func ParseRetryAfter(header string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return 0, false
	}
	return n, true
}
