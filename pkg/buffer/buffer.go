// Package buffer provides the bounded, append-only byte accumulator
// used by a connection's read side: track size, enforce a ceiling,
// reject growth past it. Unlike a disk-spilling buffer, there is no
// fallback — a control-plane request body that would spill to disk is
// simply too large and is rejected instead.
package buffer

import "github.com/ctrlplane/apihttp/pkg/httperr"

// Ring is an append-only buffer bounded by a fixed ceiling. It is not
// safe for concurrent use; the server's event loop is single-threaded
// and owns every Ring exclusively.
type Ring struct {
	data    []byte
	ceiling int
}

// New returns a Ring that rejects growth past ceiling bytes.
func New(ceiling int) *Ring {
	return &Ring{ceiling: ceiling}
}

// Append adds p to the buffer.
//
// Returns httperr.ErrInvalidRequest if doing so would grow the buffer
// past its ceiling — the caller (HttpConnection) treats this the same
// as a malformed request.
func (r *Ring) Append(p []byte) error {
	if len(r.data)+len(p) > r.ceiling {
		return httperr.NewParseError("request-body", "request exceeds read buffer ceiling")
	}
	r.data = append(r.data, p...)
	return nil
}

// Bytes returns the unconsumed contents.
func (r *Ring) Bytes() []byte {
	return r.data
}

// Len returns the number of unconsumed bytes.
func (r *Ring) Len() int {
	return len(r.data)
}

// Consume discards the first n bytes, which the parser has accepted.
func (r *Ring) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(r.data) {
		r.data = r.data[:0]
		return
	}
	// Compact rather than re-slice so the backing array doesn't grow
	// without bound across many small pipelined requests.
	copy(r.data, r.data[n:])
	r.data = r.data[:len(r.data)-n]
}
