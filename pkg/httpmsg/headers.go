package httpmsg

import (
	"io"
	"strconv"
	"strings"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// MediaType is an advisory enumeration of the Content-Type values this
// server's callers are expected to use. It never gates parsing; it is
// a convenience for application code building a Response.
type MediaType int

const (
	MediaTypePlainText MediaType = iota
	MediaTypeApplicationJSON
)

func (m MediaType) String() string {
	switch m {
	case MediaTypePlainText:
		return "text/plain"
	case MediaTypeApplicationJSON:
		return "application/json"
	default:
		return "application/json"
	}
}

// ParseMediaType parses an advisory Content-Type string.
func ParseMediaType(s string) (MediaType, error) {
	switch strings.TrimSpace(s) {
	case "text/plain":
		return MediaTypePlainText, nil
	case "application/json":
		return MediaTypeApplicationJSON, nil
	default:
		return 0, httperr.NewParseError("media-type", "unsupported media type")
	}
}

// Headers is a case-insensitive name->value mapping with a distinguished
// Content-Length field tracked separately from the map, per the wire
// model: exactly one value per name, content length fast-pathed.
type Headers struct {
	ContentLength int
	values        map[string]string // lower-cased key -> original value
	keys          map[string]string // lower-cased key -> original-case key, for every stored header
}

// NewHeaders returns an empty Headers value, ready to use.
func NewHeaders() Headers {
	return Headers{values: make(map[string]string), keys: make(map[string]string)}
}

// HeaderLine returns the value stored for key (case-insensitive lookup),
// and whether it was present.
func (h *Headers) HeaderLine(key string) (string, bool) {
	if h.values == nil {
		return "", false
	}
	v, ok := h.values[strings.ToLower(key)]
	return v, ok
}

// WithHeaderLine stores key/value verbatim (unknown headers are stored
// as-is; Content-Length is tracked in the ContentLength field, which
// this method does not update). Returns the receiver for chaining, matching the original's
// Message::with_header builder style.
func (h *Headers) WithHeaderLine(key, value string) *Headers {
	if h.values == nil {
		h.values = make(map[string]string)
		h.keys = make(map[string]string)
	}
	lower := strings.ToLower(key)
	h.values[lower] = value
	h.keys[lower] = key
	return h
}

// parseHeaderLine parses one "Name: Value" line (ASCII colon-space
// separated), updating ContentLength or storing an unknown header.
//
// Returns httperr.ErrUnsupportedHeader for a recognized-but-rejected
// header (Transfer-Encoding, any Expect other than 100-continue); the
// caller skips these silently. Returns httperr.ErrInvalidHeader for a
// malformed line or a bad Content-Length.
func (h *Headers) parseHeaderLine(line []byte) error {
	s := string(line)
	// Splitting on ": " must yield exactly two parts: a second
	// occurrence anywhere in the value invalidates the line.
	parts := strings.Split(s, ": ")
	if len(parts) != 2 {
		return httperr.NewHeaderError("header-line", "expected exactly one colon-space separator")
	}
	name, value := parts[0], parts[1]
	lower := strings.ToLower(name)

	switch lower {
	case "content-length":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil || n < 0 {
			return httperr.NewHeaderError("header-line", "Content-Length is not a valid non-negative 32-bit integer")
		}
		h.ContentLength = int(n)
		return nil
	case "transfer-encoding":
		return httperr.ErrUnsupportedHeader
	case "expect":
		if strings.TrimSpace(value) != "100-continue" {
			return httperr.ErrUnsupportedHeader
		}
		h.WithHeaderLine(name, value)
		return nil
	default:
		h.WithHeaderLine(name, value)
		return nil
	}
}

// ParseHeaders parses the full header block (the bytes between the
// request-line CRLF and the terminating CRLFCRLF, exclusive of both).
// UnsupportedHeader lines are skipped silently; any other error aborts.
func ParseHeaders(block []byte) (Headers, error) {
	h := NewHeaders()
	if len(block) == 0 {
		return h, nil
	}
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		if err := h.parseHeaderLine([]byte(line)); err != nil {
			if err == httperr.ErrUnsupportedHeader {
				continue
			}
			return h, err
		}
	}
	return h, nil
}

// WriteAll serializes the headers: unknown entries first (order is not
// observable by HTTP/1 clients), then Content-Length if > 0, then the
// terminating empty line.
func (h *Headers) WriteAll(w io.Writer) error {
	for lower, value := range h.values {
		name := h.keys[lower]
		if name == "" {
			name = lower
		}
		if _, err := io.WriteString(w, name+": "+value+"\r\n"); err != nil {
			return err
		}
	}
	if h.ContentLength > 0 {
		if _, err := io.WriteString(w, "Content-Length: "+strconv.Itoa(h.ContentLength)+"\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
