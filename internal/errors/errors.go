package errors

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrConnection        = errors.New("connection failed")
	ErrTLSHandshake      = errors.New("TLS handshake failed")
	ErrCertificate       = errors.New("certificate verification failed")
	ErrUnsupportedScheme = errors.New("only https URLs are supported")
	ErrInvalidURL        = errors.New("invalid URL")
)

// Protocol errors.
var (
	ErrProtocolParse    = errors.New("malformed HTTP response")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrHTTPStatus       = errors.New("unexpected HTTP status")
	ErrProviderResponse = errors.New("could not extract endpoint id from provider response")
	ErrSerialization    = errors.New("encoding local collection failed")
)

// Engine errors.
var (
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
	ErrSyncDisabled          = errors.New("cloud sync is disabled")
	ErrEngineStopped         = errors.New("sync engine stopped")
)

// HTTPStatusError is returned when a request completed but the server
// answered with a status the caller does not accept.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error { return ErrHTTPStatus }
