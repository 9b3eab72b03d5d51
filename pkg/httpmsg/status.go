package httpmsg

import "github.com/ctrlplane/apihttp/pkg/httperr"

// StatusCode is the closed set of status codes this server emits.
type StatusCode int

const (
	StatusContinue            StatusCode = 100
	StatusOK                   StatusCode = 200
	StatusNoContent            StatusCode = 204
	StatusBadRequest           StatusCode = 400
	StatusNotFound             StatusCode = 404
	StatusInternalServerError  StatusCode = 500
	StatusNotImplemented       StatusCode = 501
)

var statusBytes = map[StatusCode][]byte{
	StatusContinue:            []byte("100"),
	StatusOK:                  []byte("200"),
	StatusNoContent:           []byte("204"),
	StatusBadRequest:          []byte("400"),
	StatusNotFound:            []byte("404"),
	StatusInternalServerError: []byte("500"),
	StatusNotImplemented:      []byte("501"),
}

// Raw returns the fixed three-digit wire representation of the status code.
func (s StatusCode) Raw() []byte {
	b, ok := statusBytes[s]
	if !ok {
		// Every StatusCode value in this closed set has a table entry;
		// this only triggers if a caller fabricates an out-of-set value.
		return []byte("500")
	}
	return b
}

func (s StatusCode) String() string {
	return string(s.Raw())
}

// ParseStatusCode parses a three-digit byte slice into a StatusCode.
func ParseStatusCode(b []byte) (StatusCode, error) {
	for code, raw := range statusBytes {
		if string(raw) == string(b) {
			return code, nil
		}
	}
	return 0, httperr.NewParseError("status", "unsupported status code")
}
