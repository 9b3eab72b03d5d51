package httpmsg

import (
	"bytes"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// Response is a mutable, builder-style HTTP response.
type Response struct {
	Version Version
	Status  StatusCode
	Headers Headers
	Body    Body
}

// NewResponse returns a Response with an empty body and headers.
func NewResponse(version Version, status StatusCode) Response {
	return Response{Version: version, Status: status, Headers: NewHeaders()}
}

// WithHeader sets a response header and returns the receiver for chaining.
func (r *Response) WithHeader(key, value string) *Response {
	r.Headers.WithHeaderLine(key, value)
	return r
}

// WithHeaderLine is an alias for WithHeader matching the original's
// Message::with_header naming; kept for the accessor pair called out
// in the request/response symmetry.
func (r *Response) WithHeaderLine(key, value string) *Response {
	return r.WithHeader(key, value)
}

// HeaderLine reads a previously set response header.
func (r *Response) HeaderLine(key string) (string, bool) {
	return r.Headers.HeaderLine(key)
}

// WithBody sets the response body and updates Content-Length to match.
func (r *Response) WithBody(body []byte) *Response {
	r.Body = Body(body)
	r.Headers.ContentLength = len(body)
	return r
}

// Serialize writes "VERSION SP STATUS CRLF", then headers (with an
// enforced Content-Length if a body is present), then CRLF, then the
// body bytes, as one contiguous blob.
func (r *Response) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(r.Version.Raw())
	buf.WriteByte(' ')
	buf.Write(r.Status.Raw())
	buf.WriteString("\r\n")

	headers := r.Headers
	if len(r.Body) > 0 {
		headers.ContentLength = len(r.Body)
	}
	_ = headers.WriteAll(&buf)

	if len(r.Body) > 0 {
		buf.Write(r.Body)
	}
	return buf.Bytes()
}

// ParseResponse parses a serialized response back into a Response. It
// exists to support round-trip testing of Serialize and is not used by
// the server's own request-handling path.
func ParseResponse(buf []byte) (Response, error) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return Response{}, httperr.NewParseError("status-line", "missing CRLF")
	}
	line := buf[:lineEnd]
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return Response{}, httperr.NewParseError("status-line", "missing separator")
	}
	version, err := ParseVersion(line[:sp])
	if err != nil {
		return Response{}, err
	}
	status, err := ParseStatusCode(line[sp+1:])
	if err != nil {
		return Response{}, err
	}

	headersEnd := bytes.Index(buf[lineEnd:], []byte("\r\n\r\n"))
	if headersEnd < 0 {
		return Response{}, httperr.NewParseError("headers", "missing terminating CRLFCRLF")
	}

	resp := NewResponse(version, status)
	if headersEnd > 0 {
		headerBlock := buf[lineEnd+2 : lineEnd+headersEnd]
		headers, err := ParseHeaders(headerBlock)
		if err != nil {
			return Response{}, err
		}
		resp.Headers = headers
	}

	bodyStart := lineEnd + headersEnd + 4
	if resp.Headers.ContentLength > 0 {
		resp.Body = Body(append([]byte(nil), buf[bodyStart:bodyStart+resp.Headers.ContentLength]...))
	}
	return resp, nil
}
