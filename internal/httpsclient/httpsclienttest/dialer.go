// Package httpsclienttest provides an in-memory document-store peer for
// exercising httpsclient.Session without sockets.
package httpsclienttest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/httpsclient"
)

// Request is what the peer received on one connection.
type Request struct {
	Host   string
	Method string
	Path   string
	Header map[string]string
	Body   []byte
	Raw    []byte
}

// Handler produces the raw response bytes for a request.
type Handler func(req Request) string

// Dialer hands out in-memory connections served by a Handler.
type Dialer struct {
	handler Handler

	// SegmentSize splits responses into reads of at most this many bytes.
	// Zero sends the whole response in one read.
	SegmentSize int

	mu       sync.Mutex
	requests []Request
	dialErr  error
}

// NewDialer returns a Dialer that answers every request with h.
func NewDialer(h Handler) *Dialer {
	return &Dialer{handler: h}
}

// FailDials makes every subsequent Dial return err.
func (d *Dialer) FailDials(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// Requests returns a copy of every request received so far.
func (d *Dialer) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Request, len(d.requests))
	copy(out, d.requests)

	return out
}

func (d *Dialer) Dial(_ context.Context, host string) (httpsclient.Conn, error) {
	d.mu.Lock()
	err := d.dialErr
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &conn{dialer: d, host: host}, nil
}

func (d *Dialer) record(req Request) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
}

type conn struct {
	dialer  *Dialer
	host    string
	pending []byte
	closed  bool
}

func (c *conn) Write(p []byte) error {
	if c.closed {
		return fmt.Errorf("write on closed conn")
	}

	req, err := parseRequest(p)
	if err != nil {
		return err
	}
	req.Host = c.host

	c.dialer.record(req)
	c.pending = append(c.pending, c.dialer.handler(req)...)

	return nil
}

func (c *conn) Read(time.Duration) ([]byte, error) {
	if len(c.pending) == 0 {
		return nil, io.EOF
	}

	n := len(c.pending)
	if c.dialer.SegmentSize > 0 && n > c.dialer.SegmentSize {
		n = c.dialer.SegmentSize
	}

	out := c.pending[:n]
	c.pending = c.pending[n:]

	return out, nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}

func parseRequest(raw []byte) (Request, error) {
	head, body, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok {
		return Request{}, fmt.Errorf("request has no header terminator")
	}

	lines := strings.Split(string(head), "\r\n")

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return Request{}, fmt.Errorf("bad request line %q", lines[0])
	}

	req := Request{
		Method: parts[0],
		Path:   parts[1],
		Header: make(map[string]string),
		Body:   append([]byte(nil), body...),
		Raw:    append([]byte(nil), raw...),
	}

	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if ok {
			req.Header[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	return req, nil
}

// Respond formats a Content-Length framed response.
func Respond(code int, body string) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		code, reason(code), len(body), body)
}

// Redirect formats a redirect response pointing at location.
func Redirect(code int, location string) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nLocation: %s\r\nContent-Length: 0\r\n\r\n", code, reason(code), location)
}

func reason(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	}

	return "Status"
}
