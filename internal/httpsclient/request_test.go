package httpsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildRequest_NoBody(t *testing.T) {
	got := BuildRequest("GET", "/abc123", "api.npoint.io", nil)

	want := "GET /abc123 HTTP/1.1\r\n" +
		"Host: api.npoint.io\r\n" +
		"User-Agent: " + UserAgent + "\r\n" +
		"Accept: application/json\r\n" +
		"Connection: close\r\n" +
		"\r\n"
	assert.Equal(t, want, string(got))
}

func TestBuildRequest_WithBody(t *testing.T) {
	body := []byte(`{"ratings":[]}`)
	got := BuildRequest("POST", "/doc", "example.com", body)

	want := "POST /doc HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: " + UserAgent + "\r\n" +
		"Accept: application/json\r\n" +
		"Connection: close\r\n" +
		"Content-Type: application/json; charset=utf-8\r\n" +
		"Content-Length: 14\r\n" +
		"\r\n" +
		`{"ratings":[]}`
	assert.Equal(t, want, string(got))
}

func TestBuildRequest_ContentLengthCountsBytesNotRunes(t *testing.T) {
	body := []byte(`{"title":"Éclair"}`)
	got := string(BuildRequest("PUT", "/", "h", body))
	assert.Contains(t, got, "Content-Length: 19\r\n")
}

func TestBuildRequest_EmptyBodyOmitsContentHeaders(t *testing.T) {
	got := string(BuildRequest("PATCH", "/", "h", []byte{}))
	assert.NotContains(t, got, "Content-Type")
	assert.NotContains(t, got, "Content-Length")
}
