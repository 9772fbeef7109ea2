package httpsclient

import (
	"bytes"
	"strconv"
)

// UserAgent identifies this client to the document store.
const UserAgent = "cloudsync/1.0"

// BuildRequest serializes an HTTP/1.1 request. The header set is fixed:
// Host, User-Agent, Accept and Connection: close, plus Content-Type and
// Content-Length only when body is non-empty. The body is appended
// verbatim.
func BuildRequest(method, path, host string, body []byte) []byte {
	var b bytes.Buffer

	b.Grow(160 + len(path) + len(host) + len(body))

	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")

	writeHeader(&b, "Host", host)
	writeHeader(&b, "User-Agent", UserAgent)
	writeHeader(&b, "Accept", "application/json")
	writeHeader(&b, "Connection", "close")

	if len(body) > 0 {
		writeHeader(&b, "Content-Type", "application/json; charset=utf-8")
		writeHeader(&b, "Content-Length", strconv.Itoa(len(body)))
	}

	b.WriteString("\r\n")
	b.Write(body)

	return b.Bytes()
}

func writeHeader(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}
