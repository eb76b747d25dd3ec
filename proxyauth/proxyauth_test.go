package proxyauth_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/pubnub-go/pncore/proxyauth"
)

func TestBasic_EncodesUserPass(t *testing.T) {
	got := proxyauth.Basic("alice", "hunter2")
	const prefix = "Basic "
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("got %q", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(got[len(prefix):])
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "alice:hunter2" {
		t.Errorf("got %q", decoded)
	}
}

func TestParseDigestChallenge_ExtractsFields(t *testing.T) {
	header := `Digest realm="corp", nonce="abc123", qop="auth,auth-int", algorithm=SHA-256, opaque="xyz"`
	c, err := proxyauth.ParseDigestChallenge(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Realm != "corp" || c.Nonce != "abc123" || c.Algorithm != "SHA-256" || c.QOP != "auth-int" || c.Opaque != "xyz" {
		t.Errorf("got %+v, want QOP=auth-int (stronger of the two offered)", c)
	}
}

func TestParseDigestChallenge_RejectsMissingRealm(t *testing.T) {
	_, err := proxyauth.ParseDigestChallenge(`Digest nonce="abc"`)
	if err == nil {
		t.Error("expected error for missing realm")
	}
}

func TestParseDigestChallenge_DetectsStale(t *testing.T) {
	c, err := proxyauth.ParseDigestChallenge(`Digest realm="r", nonce="n", stale=true`)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Stale {
		t.Error("expected Stale=true")
	}
}

func TestDigestResponse_IncludesRequiredFields(t *testing.T) {
	c := proxyauth.DigestChallenge{Realm: "corp", Nonce: "n1", Algorithm: "MD5", QOP: "auth"}
	resp, err := proxyauth.DigestResponse(c, "alice", "pw", "CONNECT", "pubsub.pubnub.com:443", nil, "00000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Digest username=", `realm="corp"`, `nonce="n1"`, "qop=auth", "nc=00000001", "cnonce="} {
		if !strings.Contains(resp, want) {
			t.Errorf("response %q missing %q", resp, want)
		}
	}
}

func TestDigestResponse_RejectsUnknownAlgorithm(t *testing.T) {
	c := proxyauth.DigestChallenge{Realm: "r", Nonce: "n", Algorithm: "BOGUS"}
	if _, err := proxyauth.DigestResponse(c, "u", "p", "GET", "/", nil, "00000001"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestDigestResponse_AuthIntHashesBody(t *testing.T) {
	c := proxyauth.DigestChallenge{Realm: "corp", Nonce: "n1", Algorithm: "MD5", QOP: "auth-int"}
	resp1, err := proxyauth.DigestResponse(c, "alice", "pw", "POST", "/publish", []byte("body-one"), "00000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp2, err := proxyauth.DigestResponse(c, "alice", "pw", "POST", "/publish", []byte("body-two"), "00000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1 == resp2 {
		t.Error("expected different response digests for different bodies under qop=auth-int")
	}
	if !strings.Contains(resp1, "qop=auth-int") {
		t.Errorf("response %q missing qop=auth-int", resp1)
	}
}

func TestDigestSession_NextNC(t *testing.T) {
	var s proxyauth.DigestSession
	if got := s.NextNC("corp", "n1"); got != "00000001" {
		t.Errorf("first NextNC = %q, want 00000001", got)
	}
	if got := s.NextNC("corp", "n1"); got != "00000002" {
		t.Errorf("second NextNC for same nonce = %q, want 00000002", got)
	}
	if got := s.NextNC("corp", "n2"); got != "00000001" {
		t.Errorf("NextNC after new nonce = %q, want reset to 00000001", got)
	}
}

func TestNTLMNegotiate_HasCorrectSignatureAndType(t *testing.T) {
	msg := proxyauth.NTLMNegotiate()
	const prefix = "NTLM "
	if !strings.HasPrefix(msg, prefix) {
		t.Fatalf("got %q", msg)
	}
	raw, err := base64.StdEncoding.DecodeString(msg[len(prefix):])
	if err != nil {
		t.Fatal(err)
	}
	if string(raw[0:8]) != "NTLMSSP\x00" {
		t.Error("bad signature")
	}
	if raw[8] != 1 {
		t.Error("expected message type 1")
	}
}

func TestParseNTLMChallenge_RejectsNonNTLM(t *testing.T) {
	_, err := proxyauth.ParseNTLMChallenge("Basic realm=x")
	if err == nil {
		t.Error("expected error for non-NTLM header")
	}
}

func TestNTLMAuthenticate_ProducesType3Message(t *testing.T) {
	var c proxyauth.NTLMChallenge
	copy(c.ServerChallenge[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	out, err := proxyauth.NTLMAuthenticate(c, "CORP", "alice", "hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	const prefix = "NTLM "
	if !strings.HasPrefix(out, prefix) {
		t.Fatalf("got %q", out)
	}
	raw, err := base64.StdEncoding.DecodeString(out[len(prefix):])
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 64 {
		t.Fatalf("type-3 message too short: %d bytes", len(raw))
	}
	if string(raw[0:8]) != "NTLMSSP\x00" {
		t.Error("bad signature")
	}
	if raw[8] != 3 {
		t.Error("expected message type 3")
	}
}

func TestParseRetryAfter(t *testing.T) {
	n, ok := proxyauth.ParseRetryAfter("30")
	if !ok || n != 30 {
		t.Errorf("got n=%d ok=%v", n, ok)
	}
	if _, ok := proxyauth.ParseRetryAfter("not-a-number"); ok {
		t.Error("expected ok=false for non-numeric header")
	}
}
