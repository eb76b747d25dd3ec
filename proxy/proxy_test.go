package proxy_test

import (
	"os"
	"testing"

	"github.com/pubnub-go/pncore/proxy"
)

func writeProxyFile(t *testing.T, lines string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "proxies*.txt")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(lines)
	f.Close()
	return f.Name()
}

func TestLoadFromFile_Count(t *testing.T) {
	path := writeProxyFile(t, "http://proxy1:8080\nhttps://proxy2:8443\n# comment\n\nsocks5://proxy3:1080\n")
	m := &proxy.Manager{}
	if err := m.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if m.Count() != 3 {
		t.Errorf("expected 3 proxies, got %d", m.Count())
	}
}

func TestNext_Rotation(t *testing.T) {
	path := writeProxyFile(t, "a:1\nb:2\nc:3\n")
	m := &proxy.Manager{}
	if err := m.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}

	got := []string{m.Next().Host, m.Next().Host, m.Next().Host, m.Next().Host}
	want := []string{"a", "b", "c", "a"}
	for i, v := range got {
		if v != want[i] {
			t.Errorf("index %d: got %q, want %q", i, v, want[i])
		}
	}
}

func TestNext_EmptyReturnsZeroDescriptor(t *testing.T) {
	m := &proxy.Manager{}
	if got := m.Next(); !got.Empty() {
		t.Errorf("expected empty descriptor, got %+v", got)
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	m := &proxy.Manager{}
	if err := m.LoadFromFile("/nonexistent.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSetManual_ReplacesRotation(t *testing.T) {
	m := &proxy.Manager{}
	m.SetManual(proxy.Descriptor{Protocol: proxy.HTTP, Host: "10.0.0.1", Port: 3128})
	if m.Count() != 1 {
		t.Fatalf("expected 1 descriptor, got %d", m.Count())
	}
	d := m.Next()
	if d.Host != "10.0.0.1" || d.Port != 3128 {
		t.Errorf("got %+v", d)
	}
}

func TestSetAuthentication_AppliesToAllDescriptors(t *testing.T) {
	m := &proxy.Manager{}
	m.SetManual(proxy.Descriptor{Host: "p1", Port: 8080})
	m.SetAuthentication(proxy.AuthDigest, "corp-realm", "alice", "hunter2")

	d := m.Next()
	if d.AuthScheme != proxy.AuthDigest || d.Realm != "corp-realm" || d.Username != "alice" {
		t.Errorf("got %+v", d)
	}
}

func TestDescriptor_Address(t *testing.T) {
	d := proxy.Descriptor{Host: "proxy.example.com", Port: 8080}
	if got := d.Address(); got != "proxy.example.com:8080" {
		t.Errorf("got %q", got)
	}
}
