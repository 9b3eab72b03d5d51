// Package connection implements the per-stream I/O state machine: an
// append-only read buffer feeding an incremental parser, and a FIFO of
// serialized response blobs drained by non-blocking writes. This is
// HttpConnection (spec component D).
package connection

import (
	"errors"

	"github.com/ctrlplane/apihttp/pkg/buffer"
	"github.com/ctrlplane/apihttp/pkg/httperr"
	"github.com/ctrlplane/apihttp/pkg/httpmsg"
	"github.com/ctrlplane/apihttp/pkg/transport"
)

// readChunkSize is how much is drained from the stream per TryRead call.
const readChunkSize = 16 * 1024

// HttpConnection owns one stream and drives its read/parse/write cycle.
type HttpConnection struct {
	stream  transport.Stream
	readBuf *buffer.Ring

	parsedQueue []httpmsg.Request

	// continuePending is set once a 100 Continue has been synthesized
	// for the request currently accumulating at the front of readBuf,
	// so a body arriving across several TryRead calls doesn't trigger a
	// second one. It is cleared as soon as that request is fully parsed.
	continuePending bool

	pendingResponses [][]byte
	writeCursor      int
}

// New wraps stream in an HttpConnection with the given read-buffer ceiling.
func New(stream transport.Stream, readBufferCeiling int) *HttpConnection {
	return &HttpConnection{
		stream:  stream,
		readBuf: buffer.New(readBufferCeiling),
	}
}

// FD returns the underlying stream's file descriptor.
func (c *HttpConnection) FD() int {
	return c.stream.FD()
}

// Close releases the underlying stream.
func (c *HttpConnection) Close() error {
	return c.stream.Close()
}

// TryRead drains the stream into the read buffer once, then feeds the
// buffer to the parser, appending zero or more complete Requests to the
// parsed queue. A request carrying "Expect: 100-continue" additionally
// gets a synthesized 100 Continue response enqueued ahead of whatever
// the application eventually responds with — as soon as its headers are
// in hand, even if its body is still in flight, so the peer can see the
// 100 Continue and start writing the body it was withholding.
//
// Returns httperr.ErrConnectionClosed on a clean EOF with no partial
// request pending, a parse-typed *httperr.Error (wrapping
// httperr.ErrInvalidRequest) if EOF arrives while a request is still
// waiting on body bytes, an IO-typed *httperr.Error on a genuine
// syscall failure, or a parse/header-typed *httperr.Error if the bytes
// read do not form a valid request.
func (c *HttpConnection) TryRead() error {
	chunk := make([]byte, readChunkSize)
	n, err := c.stream.Read(chunk)
	if err != nil {
		if transport.IsWouldBlock(err) {
			return nil
		}
		if errors.Is(err, httperr.ErrConnectionClosed) {
			if c.readBuf.Len() > 0 {
				return httperr.NewParseError("request-body", "connection closed before full body received")
			}
			return httperr.ErrConnectionClosed
		}
		return httperr.NewIOError("read", err)
	}

	if err := c.readBuf.Append(chunk[:n]); err != nil {
		return err
	}

	result, err := httpmsg.ParseRequests(c.readBuf.Bytes())
	if err != nil {
		return err
	}
	c.readBuf.Consume(result.Consumed)

	// If a 100 Continue was already synthesized for the request that was
	// sitting incomplete at the front of the buffer, its eventual full
	// parse (the first entry below, if any) must not trigger a second one.
	alreadyContinued := c.continuePending
	for i, req := range result.Requests {
		c.parsedQueue = append(c.parsedQueue, req)
		c.continuePending = false
		if i == 0 && alreadyContinued {
			continue
		}
		if v, ok := req.HeaderLine("Expect"); ok && v == "100-continue" {
			c.EnqueueResponse(httpmsg.NewResponse(req.Version, httpmsg.StatusContinue))
		}
	}

	// No request finished parsing this round; check whether what's
	// sitting at the front of the buffer is a complete header block
	// still waiting on its body, with Expect: 100-continue attached.
	if len(result.Requests) == 0 && !c.continuePending {
		if version, ok := httpmsg.PeekExpectContinue(c.readBuf.Bytes()); ok {
			c.EnqueueResponse(httpmsg.NewResponse(version, httpmsg.StatusContinue))
			c.continuePending = true
		}
	}
	return nil
}

// TryWrite writes as many bytes as the stream accepts from the head of
// the pending-response FIFO, advancing the cursor and popping the head
// once fully drained.
//
// Returns httperr.ErrInvalidWrite if called with nothing pending,
// httperr.ErrConnectionClosed or an IO-typed error on failure.
func (c *HttpConnection) TryWrite() error {
	if !c.PendingWrite() {
		return httperr.ErrInvalidWrite
	}
	head := c.pendingResponses[0]
	n, err := c.stream.Write(head[c.writeCursor:])
	if err != nil {
		if transport.IsWouldBlock(err) {
			return nil
		}
		if errors.Is(err, httperr.ErrConnectionClosed) {
			return httperr.ErrConnectionClosed
		}
		return httperr.NewIOError("write", err)
	}
	c.writeCursor += n
	if c.writeCursor >= len(head) {
		c.pendingResponses = c.pendingResponses[1:]
		c.writeCursor = 0
	}
	return nil
}

// EnqueueResponse serializes r and appends it to the pending-write FIFO.
func (c *HttpConnection) EnqueueResponse(r httpmsg.Response) {
	c.pendingResponses = append(c.pendingResponses, r.Serialize())
}

// PopParsedRequest dequeues one parsed request, if any.
func (c *HttpConnection) PopParsedRequest() (httpmsg.Request, bool) {
	if len(c.parsedQueue) == 0 {
		return httpmsg.Request{}, false
	}
	req := c.parsedQueue[0]
	c.parsedQueue = c.parsedQueue[1:]
	return req, true
}

// DiscardParsedRequests drops every request still queued but not yet
// delivered to the application, used when a parse error invalidates
// the rest of the stream.
func (c *HttpConnection) DiscardParsedRequests() {
	c.parsedQueue = nil
}

// PendingWrite reports whether the FIFO has bytes left to write.
func (c *HttpConnection) PendingWrite() bool {
	return len(c.pendingResponses) > 0
}
