package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/httpsclient"
	"github.com/tidwall/gjson"
)

// Poster is the subset of httpsclient.Session needed to create documents.
type Poster interface {
	Post(ctx context.Context, rawURL string, body []byte) (*httpsclient.Response, error)
}

// Provisioner creates new documents on the provider and returns their
// endpoint URLs.
type Provisioner struct {
	session Poster
	baseURL string
	logger  *slog.Logger
}

// NewProvisioner returns a Provisioner that creates documents under
// baseURL. An empty baseURL uses DefaultProviderBaseURL.
func NewProvisioner(session Poster, baseURL string, logger *slog.Logger) *Provisioner {
	if baseURL == "" {
		baseURL = DefaultProviderBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Provisioner{session: session, baseURL: baseURL, logger: logger}
}

// Create posts initialBody to the provider and returns the URL of the new
// document.
func (p *Provisioner) Create(ctx context.Context, initialBody []byte) (string, error) {
	resp, err := p.session.Post(ctx, p.baseURL, initialBody)
	if err != nil {
		return "", fmt.Errorf("creating document: %w", err)
	}

	p.logger.Debug("provider response",
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(resp.Body)),
	)

	if !resp.OK() {
		return "", fmt.Errorf("creating document: %w",
			&cserrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)})
	}

	id, ok := ExtractDocumentID(string(resp.Body), p.baseURL)
	if !ok {
		return "", fmt.Errorf("%w: response body: %s", cserrors.ErrProviderResponse, resp.Body)
	}

	endpoint := p.baseURL + id
	p.logger.Info("created document", slog.String("endpoint", endpoint))

	return endpoint, nil
}

// ExtractDocumentID finds the document id in a creation response. It
// tries, in order: a URL under baseURL embedded anywhere in the body, a
// "name" field of a JSON object, and the whole body with quotes and
// braces removed. The first candidate that looks like an id wins.
func ExtractDocumentID(body, baseURL string) (string, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}

	if baseURL != "" {
		if _, rest, found := strings.Cut(body, baseURL); found {
			if end := strings.IndexAny(rest, "\"}\n\r"); end >= 0 {
				rest = rest[:end]
			}
			if isDocumentID(rest) {
				return rest, true
			}
		}
	}

	if gjson.Valid(body) {
		if name := gjson.Get(body, "name"); name.Type == gjson.String && isDocumentID(name.Str) {
			return name.Str, true
		}
	}

	stripped := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '"', '{', '}':
			return -1
		}
		return r
	}, body))

	if isDocumentID(stripped) {
		return stripped, true
	}

	return "", false
}

func isDocumentID(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}
