package httpmsg

import "github.com/ctrlplane/apihttp/pkg/httperr"

// Version is the closed set of HTTP versions this server understands.
type Version int

const (
	VersionHTTP10 Version = iota
	VersionHTTP11
)

// DefaultVersion is used whenever a Version is constructed without an
// explicit wire value, e.g. for synthesized responses.
const DefaultVersion = VersionHTTP11

var versionBytes = [...][]byte{
	VersionHTTP10: []byte("HTTP/1.0"),
	VersionHTTP11: []byte("HTTP/1.1"),
}

// Raw returns the wire representation of the version.
func (v Version) Raw() []byte {
	return versionBytes[v]
}

func (v Version) String() string {
	return string(v.Raw())
}

// ParseVersion parses a byte slice into a Version.
func ParseVersion(b []byte) (Version, error) {
	switch string(b) {
	case "HTTP/1.0":
		return VersionHTTP10, nil
	case "HTTP/1.1":
		return VersionHTTP11, nil
	default:
		return 0, httperr.NewParseError("version", "unsupported HTTP version")
	}
}
