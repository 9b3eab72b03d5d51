package httpmsg

import "github.com/ctrlplane/apihttp/pkg/httperr"

// Method is the closed set of HTTP methods this server understands.
type Method int

const (
	MethodGet Method = iota
	MethodPut
	MethodPatch
)

var methodBytes = [...][]byte{
	MethodGet:   []byte("GET"),
	MethodPut:   []byte("PUT"),
	MethodPatch: []byte("PATCH"),
}

// Raw returns the wire representation of the method.
func (m Method) Raw() []byte {
	return methodBytes[m]
}

func (m Method) String() string {
	return string(m.Raw())
}

// ParseMethod parses a byte slice into a Method. Matching is exact and
// case-sensitive: "get" is rejected even though "GET" is accepted.
func ParseMethod(b []byte) (Method, error) {
	switch string(b) {
	case "GET":
		return MethodGet, nil
	case "PUT":
		return MethodPut, nil
	case "PATCH":
		return MethodPatch, nil
	default:
		return 0, httperr.NewParseError("method", "unsupported HTTP method")
	}
}
