package httpsclient

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"testing"
	"time"

	cserrors "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// --- DecodeChunked ---

func encodeChunks(chunks [][]byte) []byte {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "%x\r\n%s\r\n", len(c), c)
	}
	b.WriteString("0\r\n")
	return []byte(b.String())
}

func TestDecodeChunked_RandomChunkSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 200; round++ {
		var (
			chunks [][]byte
			want   []byte
		)
		for n := rng.IntN(8); n > 0; n-- {
			c := make([]byte, 1+rng.IntN(300))
			for i := range c {
				c[i] = byte(rng.IntN(256))
			}
			chunks = append(chunks, c)
			want = append(want, c...)
		}

		got := DecodeChunked(encodeChunks(chunks))
		if len(want) == 0 {
			assert.Empty(t, got, "round %d", round)
			continue
		}
		assert.Equal(t, want, got, "round %d", round)
	}
}

func TestDecodeChunked_IgnoresExtensions(t *testing.T) {
	raw := "5;name=value\r\nhello\r\n6 ; x\r\n world\r\n0\r\n\r\n"
	assert.Equal(t, "hello world", string(DecodeChunked([]byte(raw))))
}

func TestDecodeChunked_UppercaseHex(t *testing.T) {
	payload := strings.Repeat("a", 26)
	raw := "1A\r\n" + payload + "\r\n0\r\n"
	assert.Equal(t, payload, string(DecodeChunked([]byte(raw))))
}

func TestDecodeChunked_MalformedSizeReturnsPrefix(t *testing.T) {
	raw := "3\r\nabc\r\nzz\r\ndef\r\n0\r\n"
	assert.Equal(t, "abc", string(DecodeChunked([]byte(raw))))
}

func TestDecodeChunked_TruncatedChunkReturnsPrefix(t *testing.T) {
	raw := "3\r\nabc\r\n10\r\nshort"
	assert.Equal(t, "abc", string(DecodeChunked([]byte(raw))))
}

func TestDecodeChunked_MissingTerminator(t *testing.T) {
	raw := "3\r\nabc\r\n2\r\nde\r\n"
	assert.Equal(t, "abcde", string(DecodeChunked([]byte(raw))))
}

// --- ParseStatusLine ---

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		line    string
		want    int
		wantErr bool
	}{
		{"HTTP/1.1 200 OK", 200, false},
		{"HTTP/1.1 404 Not Found", 404, false},
		{"HTTP/2 204", 204, false},
		{"HTTP/1.0 301 Moved Permanently", 301, false},
		{"HTTP/1.1  500  Internal Server Error", 500, false},
		{"garbage", 0, true},
		{"HTTP/1.1 abc OK", 0, true},
		{"HTTP/1.1", 0, true},
		{"FTP/1.0 200 OK", 0, true},
		{"HTTP/1.1 20 OK", 0, true},
	}
	for _, tt := range tests {
		code, err := ParseStatusLine(tt.line)
		if tt.wantErr {
			assert.ErrorIs(t, err, cserrors.ErrProtocolParse, tt.line)
			continue
		}
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, code, tt.line)
	}
}

// --- ParseHeaders ---

func TestParseHeaders_TrimsAndCanonicalizes(t *testing.T) {
	h := ParseHeaders([][]byte{
		[]byte("content-type :  application/json "),
		[]byte("X-Custom:a:b"),
		[]byte("no colon here"),
	})

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.Equal(t, "a:b", h.Get("x-custom"))
	assert.Len(t, h, 2)
}

func TestParseHeaders_LastDuplicateWins(t *testing.T) {
	h := ParseHeaders([][]byte{
		[]byte("Location: /first"),
		[]byte("location: /second"),
	})
	assert.Equal(t, "/second", h.Get("Location"))
}

// --- ParseResponse ---

func TestParseResponse_ContentLengthTruncatesTrailingBytes(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhelloGARBAGE"
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestParseResponse_ShortBodyKeptAsIs(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 50\r\n\r\npartial"
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "partial", string(resp.Body))
}

func TestParseResponse_Chunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia", string(resp.Body))
}

func TestParseResponse_NoHeaderTerminator(t *testing.T) {
	_, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n"))
	assert.ErrorIs(t, err, cserrors.ErrProtocolParse)
}

func TestParseResponse_BadStatusLine(t *testing.T) {
	_, err := ParseResponse([]byte("nonsense\r\n\r\nbody"))
	assert.ErrorIs(t, err, cserrors.ErrProtocolParse)
}

func TestResponse_OK(t *testing.T) {
	assert.True(t, (&Response{StatusCode: 200}).OK())
	assert.True(t, (&Response{StatusCode: 201}).OK())
	assert.False(t, (&Response{StatusCode: 0}).OK())
	assert.False(t, (&Response{StatusCode: 302}).OK())
	assert.False(t, (*Response)(nil).OK())
}

// --- ReadResponse ---

func TestReadResponse_StopsAtContentLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	gomock.InOrder(
		conn.EXPECT().Read(ReadTimeout).Return([]byte("HTTP/1.1 200 OK\r\nContent-"), nil),
		conn.EXPECT().Read(ReadTimeout).Return([]byte("Length: 4\r\n\r\nab"), nil),
		conn.EXPECT().Read(ReadTimeout).Return([]byte("cd"), nil),
	)

	raw, err := ReadResponse(conn, ReadTimeout)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\r\n\r\nabcd"))
}

func TestReadResponse_ZeroContentLengthReturnsAtHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	conn.EXPECT().Read(gomock.Any()).Return([]byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"), nil)

	raw, err := ReadResponse(conn, ReadTimeout)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "204")
}

func TestReadResponse_ReadsUntilEOFWithoutLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	gomock.InOrder(
		conn.EXPECT().Read(gomock.Any()).Return([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"), nil),
		conn.EXPECT().Read(gomock.Any()).Return([]byte("3\r\nabc\r\n0\r\n\r\n"), nil),
		conn.EXPECT().Read(gomock.Any()).Return(nil, io.EOF).Times(maxEmptyReads),
	)

	raw, err := ReadResponse(conn, ReadTimeout)
	require.NoError(t, err)

	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(resp.Body))
}

func TestReadResponse_ToleratesLazyClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	// An EOF followed by more data resets the counter.
	gomock.InOrder(
		conn.EXPECT().Read(gomock.Any()).Return([]byte("HTTP/1.1 200 OK\r\n"), nil),
		conn.EXPECT().Read(gomock.Any()).Return(nil, io.EOF),
		conn.EXPECT().Read(gomock.Any()).Return([]byte("Content-Length: 2\r\n\r\nok"), nil),
	)

	raw, err := ReadResponse(conn, ReadTimeout)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "ok"))
}

func TestReadResponse_EmptyResponseIsConnectionError(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	conn.EXPECT().Read(gomock.Any()).Return(nil, io.EOF).Times(maxEmptyReads)

	_, err := ReadResponse(conn, ReadTimeout)
	assert.ErrorIs(t, err, cserrors.ErrConnection)
	assert.Contains(t, err.Error(), "empty response")
}

func TestReadResponse_TimeoutBeforeDataFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	conn.EXPECT().Read(gomock.Any()).Return(nil, os.ErrDeadlineExceeded)

	_, err := ReadResponse(conn, 10*time.Millisecond)
	assert.ErrorIs(t, err, cserrors.ErrConnection)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestReadResponse_TimeoutAfterDataReturnsWhatArrived(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockConn(ctrl)

	gomock.InOrder(
		conn.EXPECT().Read(gomock.Any()).Return([]byte("HTTP/1.1 200 OK\r\n\r\n{}"), nil),
		conn.EXPECT().Read(gomock.Any()).Return(nil, os.ErrDeadlineExceeded),
	)

	raw, err := ReadResponse(conn, ReadTimeout)
	require.NoError(t, err)

	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(resp.Body))
}
