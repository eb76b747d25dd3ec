package httpreader_test

import (
	"bytes"
	"compress/gzip"
	"strconv"
	"testing"

	"github.com/pubnub-go/pncore/buffer"
	"github.com/pubnub-go/pncore/httpreader"
	"github.com/pubnub-go/pncore/pnerror"
)

func feedAll(t *testing.T, r *httpreader.Reader, rx *buffer.RX, raw []byte) pnerror.Result {
	t.Helper()
	var res pnerror.Result
	for i := 0; i < len(raw); {
		n := copy(rx.WriteSpace(), raw[i:])
		if n == 0 {
			t.Fatal("rx buffer too small for test fixture")
		}
		rx.Produce(n)
		i += n
		res = r.Feed(rx)
		if res != pnerror.InProgress {
			break
		}
		rx.Compact()
	}
	return res
}

func TestReader_ContentLengthBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	rx := buffer.NewGrowableRX(256)
	r := httpreader.NewReader()

	res := feedAll(t, r, rx, raw)
	if res != pnerror.Ok {
		t.Fatalf("got %v, want Ok", res)
	}
	resp := r.Response()
	if resp.StatusCode != 200 {
		t.Errorf("got status %d", resp.StatusCode)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("got body %q", resp.Body)
	}
}

func TestReader_ChunkedBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	rx := buffer.NewGrowableRX(256)
	r := httpreader.NewReader()

	res := feedAll(t, r, rx, raw)
	if res != pnerror.Ok {
		t.Fatalf("got %v, want Ok", res)
	}
	if string(r.Response().Body) != "Wikipedia" {
		t.Errorf("got body %q", r.Response().Body)
	}
}

func TestReader_GzipBody(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("compressed payload"))
	gz.Close()

	raw := []byte("HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nContent-Length: ")
	raw = append(raw, []byte(strconv.Itoa(buf.Len()))...)
	raw = append(raw, []byte("\r\n\r\n")...)
	raw = append(raw, buf.Bytes()...)

	rx := buffer.NewGrowableRX(512)
	r := httpreader.NewReader()
	res := feedAll(t, r, rx, raw)
	if res != pnerror.Ok {
		t.Fatalf("got %v, want Ok", res)
	}
	if string(r.Response().Body) != "compressed payload" {
		t.Errorf("got body %q", r.Response().Body)
	}
}

func TestReader_IncompleteStatusLineIsInProgress(t *testing.T) {
	rx := buffer.NewGrowableRX(64)
	r := httpreader.NewReader()
	n := copy(rx.WriteSpace(), []byte("HTTP/1.1 200"))
	rx.Produce(n)
	if res := r.Feed(rx); res != pnerror.InProgress {
		t.Errorf("got %v, want InProgress", res)
	}
}

func TestReader_MalformedStatusLineIsIOError(t *testing.T) {
	rx := buffer.NewGrowableRX(64)
	r := httpreader.NewReader()
	n := copy(rx.WriteSpace(), []byte("not a status line\r\n"))
	rx.Produce(n)
	if res := r.Feed(rx); res != pnerror.IOError {
		t.Errorf("got %v, want IOError", res)
	}
}

func TestReader_HeaderLookupCaseInsensitive(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	rx := buffer.NewGrowableRX(128)
	r := httpreader.NewReader()
	if res := feedAll(t, r, rx, raw); res != pnerror.Ok {
		t.Fatalf("got %v", res)
	}
	if r.Response().HeaderValue("CONTENT-LENGTH") != "0" {
		t.Error("header lookup should be case-insensitive")
	}
}

func TestReader_ResetAllowsReuse(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")
	rx := buffer.NewGrowableRX(128)
	r := httpreader.NewReader()
	feedAll(t, r, rx, raw)

	r.Reset()
	rx.Reset()
	if res := feedAll(t, r, rx, raw); res != pnerror.Ok {
		t.Fatalf("got %v after reuse", res)
	}
}
