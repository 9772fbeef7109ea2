package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func allSentinels() []error {
	return []error{
		ErrConnection,
		ErrTLSHandshake,
		ErrCertificate,
		ErrUnsupportedScheme,
		ErrInvalidURL,
		ErrProtocolParse,
		ErrTooManyRedirects,
		ErrHTTPStatus,
		ErrProviderResponse,
		ErrSerialization,
		ErrEndpointNotConfigured,
		ErrSyncDisabled,
		ErrEngineStopped,
	}
}

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	for _, err := range allSentinels() {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := allSentinels()
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestHTTPStatusError_MessageCarriesCodeAndBody(t *testing.T) {
	err := &HTTPStatusError{StatusCode: 500, Body: "server error"}
	assert.Equal(t, "HTTP 500: server error", err.Error())
}

func TestHTTPStatusError_UnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("uploading ratings: %w", &HTTPStatusError{StatusCode: 404, Body: "missing"})
	assert.True(t, errors.Is(err, ErrHTTPStatus))

	var se *HTTPStatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.StatusCode)
}
