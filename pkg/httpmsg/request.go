package httpmsg

import (
	"bytes"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// Request is an immutable parsed HTTP request.
type Request struct {
	Method  Method
	URI     URI
	Version Version
	Headers Headers
	Body    Body
}

// HeaderLine reads a header from the parsed request (case-insensitive).
func (r *Request) HeaderLine(key string) (string, bool) {
	return r.Headers.HeaderLine(key)
}

// minRequestLineLen is the minimum length of a valid request line: the
// shortest method ("GET"), a separator, a one-character URI, a second
// separator, and the shortest version string ("HTTP/1.0"). This counts
// requestLine as sliced in parseOneRequest, which already excludes the trailing
// CRLF find() matched; spec.md's literal formula counts the CRLF as
// part of the line and so reads two bytes higher. parseRequestLine
// independently validates each part, so this is only a cheap
// pre-filter either way.
const minRequestLineLen = len("GET") + 1 + 1 + 1 + len("HTTP/1.0")

// find returns the index of the first occurrence of sep in b, or -1.
func find(b, sep []byte) int {
	return bytes.Index(b, sep)
}

// ParseResult describes the outcome of feeding bytes to the parser.
type ParseResult struct {
	// Requests is zero or more fully parsed requests, in arrival order.
	Requests []Request
	// Consumed is how many leading bytes of the input were accepted;
	// the caller must retain buf[Consumed:] for the next call.
	Consumed int
}

// ParseRequests is restartable: it consumes as many complete requests
// as the buffer holds and reports how many leading bytes they took via
// Consumed. Partial input at the tail is not an error — it simply
// yields no further Request and reports it as unconsumed.
func ParseRequests(buf []byte) (ParseResult, error) {
	var result ParseResult
	offset := 0
	for {
		req, consumed, err := parseOneRequest(buf[offset:])
		if err != nil {
			return result, err
		}
		if consumed == 0 {
			break
		}
		result.Requests = append(result.Requests, req)
		offset += consumed
	}
	result.Consumed = offset
	return result, nil
}

// parseOneRequest attempts to parse a single request from the front of
// buf. It returns consumed == 0 (and a zero Request, nil error) when buf
// does not yet hold a complete request.
func parseOneRequest(buf []byte) (Request, int, error) {
	lineEnd := find(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return Request{}, 0, nil
	}
	requestLine := buf[:lineEnd]
	if len(requestLine) < minRequestLineLen {
		return Request{}, 0, httperr.NewParseError("request-line", "request line too short")
	}

	method, uri, version, err := parseRequestLine(requestLine)
	if err != nil {
		return Request{}, 0, err
	}

	// Find the CRLFCRLF that terminates the header block, searching
	// from the end of the request line (inclusive of its own CRLF).
	headersEnd := find(buf[lineEnd:], []byte("\r\n\r\n"))
	if headersEnd < 0 {
		return Request{}, 0, nil
	}

	if headersEnd == 0 {
		// No headers at all: request line CRLF immediately followed by CRLF.
		return Request{
			Method:  method,
			URI:     uri,
			Version: version,
			Headers: NewHeaders(),
		}, lineEnd + 4, nil
	}

	headerBlock := buf[lineEnd+2 : lineEnd+headersEnd]
	headers, err := ParseHeaders(headerBlock)
	if err != nil {
		return Request{}, 0, err
	}

	bodyStart := lineEnd + headersEnd + 4
	if headers.ContentLength == 0 {
		return Request{
			Method:  method,
			URI:     uri,
			Version: version,
			Headers: headers,
		}, bodyStart, nil
	}

	available := len(buf) - bodyStart
	if available < headers.ContentLength {
		// Not a complete request yet; wait for more bytes.
		return Request{}, 0, nil
	}

	body := Body(append([]byte(nil), buf[bodyStart:bodyStart+headers.ContentLength]...))
	return Request{
		Method:  method,
		URI:     uri,
		Version: version,
		Headers: headers,
		Body:    body,
	}, bodyStart + headers.ContentLength, nil
}

// PeekExpectContinue reports whether buf begins with a complete request
// line and header block carrying "Expect: 100-continue" whose body has
// not fully arrived yet. It never consumes buf — the connection layer
// uses it to synthesize the 100 Continue response the instant headers
// are in hand, without waiting for parseOneRequest to have a complete
// Request to hand back. Once the body does arrive in full, the normal
// ParseRequests path yields the Request (and, redundantly but
// harmlessly, would re-signal Expect if asked here — callers only call
// this when ParseRequests yielded nothing).
func PeekExpectContinue(buf []byte) (Version, bool) {
	lineEnd := find(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return 0, false
	}
	requestLine := buf[:lineEnd]
	if len(requestLine) < minRequestLineLen {
		return 0, false
	}
	_, _, version, err := parseRequestLine(requestLine)
	if err != nil {
		return 0, false
	}

	headersEnd := find(buf[lineEnd:], []byte("\r\n\r\n"))
	if headersEnd <= 0 {
		return 0, false
	}

	headerBlock := buf[lineEnd+2 : lineEnd+headersEnd]
	headers, err := ParseHeaders(headerBlock)
	if err != nil {
		return 0, false
	}
	v, ok := headers.HeaderLine("Expect")
	if !ok || v != "100-continue" {
		return 0, false
	}

	bodyStart := lineEnd + headersEnd + 4
	available := len(buf) - bodyStart
	if available >= headers.ContentLength {
		return 0, false
	}
	return version, true
}

// parseRequestLine splits "METHOD SP URI SP VERSION" and parses each part.
func parseRequestLine(line []byte) (Method, URI, Version, error) {
	firstSP := bytes.IndexByte(line, ' ')
	if firstSP < 0 {
		return 0, "", 0, httperr.NewParseError("request-line", "missing method separator")
	}
	methodBytes := line[:firstSP]
	rest := line[firstSP+1:]

	secondSP := bytes.IndexByte(rest, ' ')
	if secondSP < 0 {
		return 0, "", 0, httperr.NewParseError("request-line", "missing URI separator")
	}
	uriBytes := rest[:secondSP]
	versionBytes := rest[secondSP+1:]

	method, err := ParseMethod(methodBytes)
	if err != nil {
		return 0, "", 0, err
	}
	uri, err := ParseURI(uriBytes)
	if err != nil {
		return 0, "", 0, err
	}
	version, err := ParseVersion(versionBytes)
	if err != nil {
		return 0, "", 0, err
	}
	return method, uri, version, nil
}
