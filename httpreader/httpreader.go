// Package httpreader parses an HTTP/1.1 response incrementally out of a
// buffer.RX, per §4.2. Every parsing step is non-blocking: it consumes
// whatever bytes are already in the RX buffer and reports pnerror.InProgress
// when a complete status-line, header block, or body has not yet arrived,
// rather than blocking on the socket itself (socket reads are the caller's,
// i.e. connengine's, job).
package httpreader

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/pubnub-go/pncore/buffer"
	"github.com/pubnub-go/pncore/pnerror"
)

// Phase identifies which framing step a Reader is currently in.
type Phase int

const (
	PhaseStatusLine Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseDone
)

// BodyFraming describes how the response body's end is determined (§4.2).
type BodyFraming int

const (
	FramingUnknown BodyFraming = iota
	FramingContentLength
	FramingChunked
	FramingCloseDelimited
)

// Response accumulates the parsed status, headers and (once complete) body
// of a single HTTP/1.1 response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    map[string]string

	Framing       BodyFraming
	ContentLength int64

	Body []byte
}

// HeaderValue returns a header value, matching case-insensitively per RFC
// 7230, or "" if absent.
func (r *Response) HeaderValue(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// Reader drives the read_status -> read_headers -> read_body framing state
// machine described in §4.2, consuming bytes from a shared buffer.RX as the
// connection engine delivers them.
type Reader struct {
	phase Phase
	resp  Response

	headerBuf bytes.Buffer

	chunkState   chunkState
	rawBody      bytes.Buffer
	wantLength   int64
	bodyComplete bool
}

type chunkState int

const (
	chunkAwaitingSize chunkState = iota
	chunkAwaitingData
	chunkAwaitingDataCRLF
	chunkAwaitingTrailerCRLF
	chunkDone
)

// NewReader returns a Reader positioned at the start of a fresh response.
func NewReader() *Reader {
	return &Reader{phase: PhaseStatusLine, resp: Response{Headers: map[string]string{}}}
}

// Reset returns the Reader to its initial state so the same instance can be
// reused for the next transaction on a keep-alive connection (§4.4).
func (r *Reader) Reset() {
	*r = Reader{phase: PhaseStatusLine, resp: Response{Headers: map[string]string{}}}
}

// Phase reports which framing step the reader is in.
func (r *Reader) Phase() Phase { return r.phase }

// Feed advances parsing using whatever unconsumed bytes are currently in rx,
// consuming what it can use. It returns pnerror.InProgress if rx does not
// yet hold a complete status-line / header-block / body, pnerror.Ok once the
// full response (after any Content-Encoding has been inflated) is available
// via Response(), or an error Result on malformed framing.
func (r *Reader) Feed(rx *buffer.RX) pnerror.Result {
	for {
		switch r.phase {
		case PhaseStatusLine:
			line, ok := takeLine(rx)
			if !ok {
				return pnerror.InProgress
			}
			if err := r.parseStatusLine(line); err != nil {
				return pnerror.IOError
			}
			r.phase = PhaseHeaders

		case PhaseHeaders:
			for {
				line, ok := takeLine(rx)
				if !ok {
					return pnerror.InProgress
				}
				if len(line) == 0 {
					if err := r.finishHeaders(); err != nil {
						return pnerror.IOError
					}
					r.phase = PhaseBody
					break
				}
				if err := r.addHeaderLine(line); err != nil {
					return pnerror.IOError
				}
			}

		case PhaseBody:
			res := r.feedBody(rx)
			if res != pnerror.Ok {
				return res
			}
			if err := r.inflateBody(); err != nil {
				return pnerror.BadCompressionFormat
			}
			r.phase = PhaseDone
			return pnerror.Ok

		case PhaseDone:
			return pnerror.Ok
		}
	}
}

// Response returns the parsed response. Only meaningful once Feed has
// returned pnerror.Ok.
func (r *Reader) Response() *Response { return &r.resp }

// takeLine extracts one CRLF-terminated line (without the CRLF) from rx,
// consuming it. Returns ok=false (and consumes nothing) if no full line is
// buffered yet.
func takeLine(rx *buffer.RX) (line []byte, ok bool) {
	data := rx.Peek()
	idx := bytes.Index(data, []byte("\r\n"))
	if idx < 0 {
		// Tolerate bare LF from lax servers.
		idx = bytes.IndexByte(data, '\n')
		if idx < 0 {
			return nil, false
		}
		out := make([]byte, idx)
		copy(out, data[:idx])
		rx.Consume(idx + 1)
		return bytes.TrimRight(out, "\r"), true
	}
	out := make([]byte, idx)
	copy(out, data[:idx])
	rx.Consume(idx + 2)
	return out, true
}

func (r *Reader) parseStatusLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return fmt.Errorf("httpreader: malformed status line %q", line)
	}
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return fmt.Errorf("httpreader: bad status code %q: %w", parts[1], err)
	}
	r.resp.StatusCode = code
	if len(parts) == 3 {
		r.resp.Reason = string(parts[2])
	}
	return nil
}

func (r *Reader) addHeaderLine(line []byte) error {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return fmt.Errorf("httpreader: malformed header line %q", line)
	}
	name := strings.ToLower(strings.TrimSpace(string(line[:idx])))
	value := strings.TrimSpace(string(line[idx+1:]))
	r.resp.Headers[name] = value
	return nil
}

func (r *Reader) finishHeaders() error {
	if te := r.resp.HeaderValue("transfer-encoding"); strings.Contains(strings.ToLower(te), "chunked") {
		r.resp.Framing = FramingChunked
		r.chunkState = chunkAwaitingSize
		return nil
	}
	if cl := r.resp.HeaderValue("content-length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("httpreader: bad content-length %q", cl)
		}
		r.resp.Framing = FramingContentLength
		r.resp.ContentLength = n
		r.wantLength = n
		return nil
	}
	r.resp.Framing = FramingCloseDelimited
	return nil
}

// feedBody consumes as much body data as is currently available in rx,
// returning pnerror.InProgress until framing says the body is complete.
func (r *Reader) feedBody(rx *buffer.RX) pnerror.Result {
	switch r.resp.Framing {
	case FramingContentLength:
		need := r.wantLength - int64(r.rawBody.Len())
		if need > 0 {
			avail := rx.Peek()
			n := int64(len(avail))
			if n > need {
				n = need
			}
			if n > 0 {
				r.rawBody.Write(avail[:n])
				rx.Consume(int(n))
			}
		}
		if int64(r.rawBody.Len()) >= r.wantLength {
			return pnerror.Ok
		}
		return pnerror.InProgress

	case FramingChunked:
		return r.feedChunked(rx)

	case FramingCloseDelimited:
		avail := rx.Peek()
		if len(avail) > 0 {
			r.rawBody.Write(avail)
			rx.Consume(len(avail))
		}
		// Close-delimited framing only completes when the connection engine
		// observes EOF; the caller signals that via FinishCloseDelimited.
		if r.bodyComplete {
			return pnerror.Ok
		}
		return pnerror.InProgress

	default:
		return pnerror.FormatError
	}
}

// FinishCloseDelimited tells the reader that the connection reached EOF,
// completing a close-delimited body (HTTP/1.0-style responses with neither
// Content-Length nor chunked framing).
func (r *Reader) FinishCloseDelimited() {
	r.bodyComplete = true
}

func (r *Reader) feedChunked(rx *buffer.RX) pnerror.Result {
	for {
		switch r.chunkState {
		case chunkAwaitingSize:
			line, ok := takeLine(rx)
			if !ok {
				return pnerror.InProgress
			}
			sizeStr := string(bytes.SplitN(line, []byte(";"), 2)[0])
			size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
			if err != nil {
				return pnerror.IOError
			}
			if size == 0 {
				r.chunkState = chunkAwaitingTrailerCRLF
				continue
			}
			r.wantLength = size
			r.chunkState = chunkAwaitingData

		case chunkAwaitingData:
			avail := rx.Peek()
			n := int64(len(avail))
			if n > r.wantLength {
				n = r.wantLength
			}
			if n > 0 {
				r.rawBody.Write(avail[:n])
				rx.Consume(int(n))
				r.wantLength -= n
			}
			if r.wantLength > 0 {
				return pnerror.InProgress
			}
			r.chunkState = chunkAwaitingDataCRLF

		case chunkAwaitingDataCRLF:
			if _, ok := takeLine(rx); !ok {
				return pnerror.InProgress
			}
			r.chunkState = chunkAwaitingSize

		case chunkAwaitingTrailerCRLF:
			line, ok := takeLine(rx)
			if !ok {
				return pnerror.InProgress
			}
			if len(line) == 0 {
				r.chunkState = chunkDone
				return pnerror.Ok
			}
			// Trailer header; ignored but consumed.

		case chunkDone:
			return pnerror.Ok
		}
	}
}

// inflateBody decodes Content-Encoding: gzip or br, leaving r.resp.Body set
// to the decoded payload. Responses with no recognised Content-Encoding are
// passed through unchanged.
func (r *Reader) inflateBody() error {
	enc := strings.ToLower(r.resp.HeaderValue("content-encoding"))
	raw := r.rawBody.Bytes()

	switch enc {
	case "", "identity":
		r.resp.Body = append([]byte(nil), raw...)
		return nil

	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("httpreader: gzip header: %w", err)
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return fmt.Errorf("httpreader: gzip inflate: %w", err)
		}
		r.resp.Body = out
		return nil

	case "br":
		br := brotli.NewReader(bytes.NewReader(raw))
		out, err := io.ReadAll(br)
		if err != nil {
			return fmt.Errorf("httpreader: brotli inflate: %w", err)
		}
		r.resp.Body = out
		return nil

	default:
		return fmt.Errorf("httpreader: unsupported content-encoding %q", enc)
	}
}

// ParseStatusLineForTest exposes status-line parsing to tests without
// requiring a populated buffer.RX.
func ParseStatusLineForTest(line string) (code int, reason string, err error) {
	r := NewReader()
	if err := r.parseStatusLine([]byte(line)); err != nil {
		return 0, "", err
	}
	return r.resp.StatusCode, r.resp.Reason, nil
}
