package httpsclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
)

const (
	// maxEmptyReads is how many consecutive EOF reads are tolerated before
	// the connection is treated as closed. Some servers close lazily after
	// sending the last bytes.
	maxEmptyReads    = 3
	emptyReadBackoff = 10 * time.Millisecond

	// maxResponseBytes caps how much is buffered for one response. Payloads
	// are small JSON documents.
	maxResponseBytes = 8 * 1024 * 1024
)

var (
	crlf       = []byte("\r\n")
	headerTerm = []byte("\r\n\r\n")
)

// Header maps canonicalized header names to values. Duplicate headers
// keep the last value seen.
type Header map[string]string

// Get returns the value for key, matched case-insensitively.
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Response is one decoded HTTP response. A StatusCode of 0 means no
// response was received at all.
type Response struct {
	StatusCode int
	Header     Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ReadResponse reads from conn until a full response has arrived: the
// header block plus Content-Length body bytes, or everything up to EOF
// when no length is given.
func ReadResponse(conn Conn, timeout time.Duration) ([]byte, error) {
	var (
		data          []byte
		headerEnd     = -1
		contentLength = -1
		emptyReads    int
	)

	for {
		chunk, err := conn.Read(timeout)
		if len(chunk) > 0 {
			emptyReads = 0
			data = append(data, chunk...)

			if len(data) > maxResponseBytes {
				return nil, fmt.Errorf("%w: response exceeds %d bytes", cserrors.ErrProtocolParse, maxResponseBytes)
			}

			if headerEnd < 0 {
				if i := bytes.Index(data, headerTerm); i >= 0 {
					headerEnd = i
					contentLength = contentLengthOf(data[:i])
				}
			}

			if headerEnd >= 0 && contentLength >= 0 && len(data) >= headerEnd+len(headerTerm)+contentLength {
				return data, nil
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			emptyReads++
			if emptyReads >= maxEmptyReads {
				return finishRead(data)
			}
			time.Sleep(emptyReadBackoff)
		case len(data) > 0:
			// The peer already sent something; a timeout or reset now
			// ends the response rather than failing it.
			return data, nil
		default:
			return nil, fmt.Errorf("%w: reading response: %w", cserrors.ErrConnection, err)
		}
	}
}

func finishRead(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response from server", cserrors.ErrConnection)
	}

	return data, nil
}

// contentLengthOf pulls Content-Length out of a raw header block without
// a full parse. Returns -1 when absent or unparseable.
func contentLengthOf(headers []byte) int {
	for _, line := range bytes.Split(headers, crlf)[1:] {
		key, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !strings.EqualFold(string(bytes.TrimSpace(key)), "Content-Length") {
			continue
		}

		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return -1
		}

		return n
	}

	return -1
}

// ParseResponse decodes a raw response: status line, headers, and a
// body framed by chunked encoding or Content-Length.
func ParseResponse(raw []byte) (*Response, error) {
	end := bytes.Index(raw, headerTerm)
	if end < 0 {
		return nil, fmt.Errorf("%w: header block not terminated", cserrors.ErrProtocolParse)
	}

	lines := bytes.Split(raw[:end], crlf)

	code, err := ParseStatusLine(string(lines[0]))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: code,
		Header:     ParseHeaders(lines[1:]),
	}

	body := raw[end+len(headerTerm):]

	if isChunked(resp.Header.Get("Transfer-Encoding")) {
		resp.Body = DecodeChunked(body)
		return resp, nil
	}

	if cl, err := strconv.Atoi(resp.Header.Get("Content-Length")); err == nil && cl >= 0 && len(body) > cl {
		body = body[:cl]
	}

	resp.Body = append([]byte(nil), body...)

	return resp, nil
}

// ParseStatusLine extracts the status code from lines such as
// "HTTP/1.1 200 OK" or "HTTP/2 204" (no reason phrase).
func ParseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return 0, fmt.Errorf("%w: bad status line %q", cserrors.ErrProtocolParse, line)
	}

	codeStr, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")

	code, err := strconv.Atoi(codeStr)
	if err != nil || len(codeStr) != 3 || code < 100 {
		return 0, fmt.Errorf("%w: bad status code in %q", cserrors.ErrProtocolParse, line)
	}

	return code, nil
}

// ParseHeaders splits each line on its first colon and trims both sides.
// Lines without a colon are ignored.
func ParseHeaders(lines [][]byte) Header {
	h := make(Header, len(lines))

	for _, line := range lines {
		key, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}

		k := strings.TrimSpace(string(key))
		if k == "" {
			continue
		}

		h[textproto.CanonicalMIMEHeaderKey(k)] = strings.TrimSpace(string(value))
	}

	return h
}

func isChunked(te string) bool {
	for _, part := range strings.Split(te, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "chunked") {
			return true
		}
	}

	return false
}

// DecodeChunked reassembles a chunked body. Extensions after ';' on a
// size line are ignored. A malformed size or truncated chunk stops
// decoding and returns what was decoded so far.
func DecodeChunked(raw []byte) []byte {
	out := make([]byte, 0, len(raw))

	for len(raw) > 0 {
		i := bytes.Index(raw, crlf)
		if i < 0 {
			break
		}

		sizeField := raw[:i]
		if j := bytes.IndexByte(sizeField, ';'); j >= 0 {
			sizeField = sizeField[:j]
		}

		size, err := strconv.ParseUint(string(bytes.TrimSpace(sizeField)), 16, 32)
		if err != nil || size == 0 {
			break
		}

		raw = raw[i+len(crlf):]
		if uint64(len(raw)) < size {
			break
		}

		out = append(out, raw[:size]...)
		raw = bytes.TrimPrefix(raw[size:], crlf)
	}

	return out
}
