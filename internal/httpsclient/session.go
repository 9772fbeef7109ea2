package httpsclient

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
)

// MaxRedirects is how many redirects Get follows before giving up.
const MaxRedirects = 5

// Session issues one request per connection, one request at a time.
// Every verb opens a fresh Conn, sends, decodes, and closes it.
type Session struct {
	dialer      Dialer
	insecure    bool
	readTimeout time.Duration
	logger      *slog.Logger

	// mu serializes network operations. The engine's worker and manual
	// push/pull callers share one Session.
	mu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

// Options configures a Session.
type Options struct {
	// TrustStore enables chain verification. Nil or empty means insecure.
	TrustStore *TrustStore

	// Port overrides 443. Only tests set this.
	Port int

	// Dialer replaces the TLS dialer entirely. Only tests set this.
	Dialer Dialer
}

// NewSession builds a Session. It fails only when the platform cannot
// supply the randomness TLS needs, since no request could succeed.
func NewSession(opts Options, logger *slog.Logger) (*Session, error) {
	if _, err := rand.Read(make([]byte, 1)); err != nil {
		return nil, fmt.Errorf("initializing crypto: %w", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewTLSDialer(opts.TrustStore, opts.Port, logger)
	}

	s := &Session{
		dialer:      dialer,
		insecure:    opts.TrustStore.Empty(),
		readTimeout: ReadTimeout,
		logger:      logger,
	}

	if s.insecure {
		logger.Warn("no trust store loaded, server certificates will not be verified")
	} else {
		logger.Info("trust store loaded", slog.Int("certificates", opts.TrustStore.Len()))
	}

	return s, nil
}

// Insecure reports whether this session skips certificate validation.
func (s *Session) Insecure() bool {
	return s.insecure
}

// LastError returns the failure reason of the most recent call, or nil.
func (s *Session) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.lastErr
}

func (s *Session) setLastError(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// Get fetches rawURL, following up to MaxRedirects redirects.
func (s *Session) Get(ctx context.Context, rawURL string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.get(ctx, rawURL)
	s.setLastError(err)

	return resp, err
}

// Post sends body to rawURL. Redirects are returned, not followed.
func (s *Session) Post(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return s.send(ctx, "POST", rawURL, body)
}

// Put sends body to rawURL with PUT.
func (s *Session) Put(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return s.send(ctx, "PUT", rawURL, body)
}

// Patch sends body to rawURL with PATCH.
func (s *Session) Patch(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return s.send(ctx, "PATCH", rawURL, body)
}

func (s *Session) send(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.roundTrip(ctx, method, rawURL, body)
	s.setLastError(err)

	return resp, err
}

func (s *Session) get(ctx context.Context, rawURL string) (*Response, error) {
	current := rawURL

	for followed := 0; ; followed++ {
		resp, err := s.roundTrip(ctx, "GET", current, nil)
		if err != nil {
			return resp, err
		}

		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			s.logger.Warn("redirect without Location header",
				slog.Int("status", resp.StatusCode),
				slog.String("url", current),
			)
			return resp, nil
		}

		if followed >= MaxRedirects {
			s.logger.Error("too many redirects", slog.String("url", current))
			return &Response{}, fmt.Errorf("%w (max %d), stopped at %s", cserrors.ErrTooManyRedirects, MaxRedirects, current)
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			return &Response{}, err
		}

		s.logger.Debug("following redirect",
			slog.Int("status", resp.StatusCode),
			slog.String("from", current),
			slog.String("to", next),
		)
		current = next
	}
}

func (s *Session) roundTrip(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return &Response{}, err
	}

	s.logger.Debug("sending request",
		slog.String("method", method),
		slog.String("host", target.host),
		slog.String("path", target.path),
		slog.Int("body_bytes", len(body)),
	)

	conn, err := s.dialer.Dial(ctx, target.hostname)
	if err != nil {
		return &Response{}, err
	}
	defer conn.Close()

	if err := conn.Write(BuildRequest(method, target.path, target.host, body)); err != nil {
		return &Response{}, fmt.Errorf("%w: sending request: %w", cserrors.ErrConnection, err)
	}

	raw, err := ReadResponse(conn, s.readTimeout)
	if err != nil {
		return &Response{}, err
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return &Response{}, err
	}

	s.logger.Debug("received response",
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Int("body_bytes", len(resp.Body)),
	)

	return resp, nil
}

type target struct {
	host     string // as written in the URL, used for the Host header
	hostname string // without port, used for dialing and SNI
	path     string
}

func parseTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("%w: %w", cserrors.ErrInvalidURL, err)
	}

	if u.Scheme != "https" {
		return target{}, fmt.Errorf("%w: %q", cserrors.ErrUnsupportedScheme, rawURL)
	}

	if u.Hostname() == "" {
		return target{}, fmt.Errorf("%w: missing host in %q", cserrors.ErrInvalidURL, rawURL)
	}

	if p := u.Port(); p != "" && p != "443" {
		return target{}, fmt.Errorf("%w: port %s not allowed in %q", cserrors.ErrInvalidURL, p, rawURL)
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	return target{host: u.Host, hostname: u.Hostname(), path: path}, nil
}

// resolveLocation resolves a Location value against the URL that
// produced it. Relative paths resolve against that URL's directory.
func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: %w", cserrors.ErrInvalidURL, err)
	}

	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: bad Location %q: %w", cserrors.ErrProtocolParse, location, err)
	}

	return base.ResolveReference(ref).String(), nil
}

func isRedirect(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}

	return false
}
