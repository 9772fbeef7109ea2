package httpsclient

//go:generate mockgen -source=transport.go -destination=mock_transport_test.go -package=httpsclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
)

const (
	// DefaultPort is the only port the document store is reached on.
	DefaultPort = 443

	// ReadTimeout bounds every single read from the peer.
	ReadTimeout = 5 * time.Second

	connectTimeout   = 5 * time.Second
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second

	// handshakeAttempts bounds how often a connect+handshake is retried
	// when it fails with a timeout. Any other failure is final.
	handshakeAttempts   = 3
	handshakeRetryDelay = 10 * time.Millisecond

	readBufferSize = 4096
)

// Conn is a blocking byte channel to one peer.
type Conn interface {
	// Read returns whatever bytes arrive before timeout elapses. io.EOF
	// signals the peer closed its side.
	Read(timeout time.Duration) ([]byte, error)
	Write(p []byte) error
	Close() error
}

// Dialer opens a Conn to host.
type Dialer interface {
	Dial(ctx context.Context, host string) (Conn, error)
}

// TLSDialer connects over TCP and performs a TLS handshake with SNI set
// to the target host. With a non-empty trust store the full chain and
// hostname are verified; without one, verification is skipped.
type TLSDialer struct {
	trust  *TrustStore
	port   int
	logger *slog.Logger
}

// NewTLSDialer returns a dialer for port 443. A port of 0 means the
// default; any other value is only used by tests against a local listener.
func NewTLSDialer(trust *TrustStore, port int, logger *slog.Logger) *TLSDialer {
	if port == 0 {
		port = DefaultPort
	}

	return &TLSDialer{trust: trust, port: port, logger: logger}
}

// Insecure reports whether peers are accepted without chain validation.
func (d *TLSDialer) Insecure() bool {
	return d.trust.Empty()
}

func (d *TLSDialer) Dial(ctx context.Context, host string) (Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		conn, err := d.dialOnce(ctx, host)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		if !isTimeout(err) || errors.Is(err, cserrors.ErrCertificate) {
			return nil, err
		}

		d.logger.Debug("handshake timed out, retrying",
			slog.String("host", host),
			slog.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", cserrors.ErrConnection, ctx.Err())
		case <-time.After(handshakeRetryDelay):
		}
	}

	return nil, lastErr
}

func (d *TLSDialer) dialOnce(ctx context.Context, host string) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(d.port))

	nd := &net.Dialer{Timeout: connectTimeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", cserrors.ErrConnection, addr, err)
	}

	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
	if d.trust.Empty() {
		cfg.InsecureSkipVerify = true
	} else {
		cfg.RootCAs = d.trust.Pool()
	}

	tc := tls.Client(raw, cfg)

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := tc.HandshakeContext(hctx); err != nil {
		raw.Close()
		return nil, classifyHandshakeError(host, err)
	}

	return &tlsConn{conn: tc, buf: make([]byte, readBufferSize)}, nil
}

// classifyHandshakeError separates chain and hostname failures from
// generic handshake failures.
func classifyHandshakeError(host string, err error) error {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)

	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return fmt.Errorf("%w for %s: %w", cserrors.ErrCertificate, host, err)
	}

	return fmt.Errorf("%w with %s: %w", cserrors.ErrTLSHandshake, host, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded)
}

type tlsConn struct {
	conn *tls.Conn
	buf  []byte
}

func (c *tlsConn) Read(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	n, err := c.conn.Read(c.buf)
	if n == 0 {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, c.buf[:n])

	return out, err
}

func (c *tlsConn) Write(p []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	_, err := c.conn.Write(p)

	return err
}

func (c *tlsConn) Close() error {
	return c.conn.Close()
}
