package httpmsg

import (
	"strings"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// ParseURI validates a raw request-target byte slice. An empty URI is
// rejected; anything else is accepted as-is (interpretation is
// deferred to AbsPath).
func ParseURI(b []byte) (URI, error) {
	if len(b) == 0 {
		return "", httperr.NewParseError("uri", "empty URI not allowed")
	}
	return URI(b), nil
}

// URI wraps the raw request-target string from a request line. It is
// only ever meaningful in the context of a parsed Request.
type URI string

const httpSchemePrefix = "http://"

// AbsPath returns the absolute path component of the URI.
//
// If the URI begins with "http://", the result is the substring from
// the first '/' after the authority (empty if there is no such '/',
// including the case of an authority with no trailing slash at all).
// Otherwise the result is the URI itself if it begins with '/', or
// empty otherwise.
func (u URI) AbsPath() string {
	s := string(u)
	if strings.HasPrefix(s, httpSchemePrefix) {
		withoutScheme := s[len(httpSchemePrefix):]
		if withoutScheme == "" {
			return ""
		}
		idx := strings.IndexByte(withoutScheme, '/')
		if idx < 0 {
			return ""
		}
		return withoutScheme[idx:]
	}
	if strings.HasPrefix(s, "/") {
		return s
	}
	return ""
}
