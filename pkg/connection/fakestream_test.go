package connection

import (
	"bytes"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// fakeStream is an in-memory transport.Stream used to drive
// HttpConnection/ClientConnection without a real socket. Each Read call
// consumes one queued chunk; once exhausted it returns finalErr
// (defaulting to httperr.ErrConnectionClosed, matching a real EOF).
type fakeStream struct {
	fd       int
	chunks   [][]byte
	idx      int
	finalErr error
	written  bytes.Buffer
	writeErr error
	closed   bool
}

func newFakeStream(fd int, chunks ...[]byte) *fakeStream {
	return &fakeStream{fd: fd, chunks: chunks, finalErr: httperr.ErrConnectionClosed}
}

func (f *fakeStream) FD() int { return f.fd }

func (f *fakeStream) Read(p []byte) (int, error) {
	if f.idx >= len(f.chunks) {
		return 0, f.finalErr
	}
	chunk := f.chunks[f.idx]
	f.idx++
	n := copy(p, chunk)
	return n, nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}
