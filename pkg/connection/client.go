package connection

import (
	"errors"
	"fmt"

	"github.com/ctrlplane/apihttp/pkg/httperr"
	"github.com/ctrlplane/apihttp/pkg/httpmsg"
)

// State is the lifecycle of a ClientConnection as far as data exchange
// on the stream is concerned.
type State int

const (
	AwaitingIncoming State = iota
	AwaitingOutgoing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingIncoming:
		return "AwaitingIncoming"
	case AwaitingOutgoing:
		return "AwaitingOutgoing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ClientConnection wraps an HttpConnection with lifecycle state and an
// in-flight counter: the number of requests yielded to the application
// minus the number of responses enqueued for this connection so far.
// This is spec component E.
type ClientConnection struct {
	conn     *HttpConnection
	state    State
	inFlight uint32
}

// NewClientConnection wraps conn, starting in AwaitingIncoming.
func NewClientConnection(conn *HttpConnection) *ClientConnection {
	return &ClientConnection{conn: conn, state: AwaitingIncoming}
}

// FD returns the underlying stream's file descriptor.
func (c *ClientConnection) FD() int {
	return c.conn.FD()
}

// State returns the current lifecycle state.
func (c *ClientConnection) State() State {
	return c.state
}

// Close releases the underlying stream.
func (c *ClientConnection) Close() error {
	return c.conn.Close()
}

// Read drives one TryRead cycle and returns the newly parsed requests.
//
// A clean peer disconnect (ConnectionClosed) transitions the connection
// to Closed and is not surfaced as an error — any responses still owed
// may still be pending. A stream I/O failure enqueues a synthesized 500
// with the error text as its body. A parse failure discards any
// requests parsed-but-not-yet-delivered for this connection and
// enqueues a synthesized 400 whose JSON body names the error and warns
// that previously unanswered requests are being dropped.
func (c *ClientConnection) Read() ([]httpmsg.Request, error) {
	var newRequests []httpmsg.Request

	err := c.conn.TryRead()
	switch {
	case err == nil:
		for {
			req, ok := c.conn.PopParsedRequest()
			if !ok {
				break
			}
			newRequests = append(newRequests, req)
		}

	case errors.Is(err, httperr.ErrConnectionClosed):
		c.state = Closed
		return nil, nil

	default:
		herr, ok := err.(*httperr.Error)
		if !ok {
			return nil, err
		}
		switch herr.Type {
		case httperr.ErrorTypeIO:
			resp := httpmsg.NewResponse(httpmsg.DefaultVersion, httpmsg.StatusInternalServerError)
			resp.WithBody([]byte(herr.Error()))
			c.conn.EnqueueResponse(resp)
		case httperr.ErrorTypeParse, httperr.ErrorTypeHeader:
			c.conn.DiscardParsedRequests()
			kind := "Invalid request."
			if herr.Type == httperr.ErrorTypeHeader {
				kind = "Invalid header."
			}
			body := fmt.Sprintf(
				"{ \"error\": \"%s\nAll previous unanswered requests will be dropped.\" }",
				kind,
			)
			resp := httpmsg.NewResponse(httpmsg.DefaultVersion, httpmsg.StatusBadRequest)
			resp.WithBody([]byte(body))
			c.conn.EnqueueResponse(resp)
		default:
			return nil, err
		}
	}

	c.inFlight += uint32(len(newRequests))
	if c.conn.PendingWrite() {
		c.state = AwaitingOutgoing
	}
	return newRequests, nil
}

// Write drives one TryWrite cycle.
//
// A stream failure transitions the connection to Closed and discards
// the responses still queued for it, since they can no longer be
// delivered. InvalidWrite (called with nothing pending) is a programmer
// error and is returned as-is for the server to surface to the
// application.
func (c *ClientConnection) Write() error {
	err := c.conn.TryWrite()
	switch {
	case err == nil:
		if !c.conn.PendingWrite() {
			c.state = AwaitingIncoming
		}
		return nil
	case errors.Is(err, httperr.ErrInvalidWrite):
		return err
	case errors.Is(err, httperr.ErrConnectionClosed):
		c.state = Closed
		c.conn.pendingResponses = nil
		c.conn.writeCursor = 0
		return nil
	default:
		herr, ok := err.(*httperr.Error)
		if ok && herr.Type == httperr.ErrorTypeIO {
			c.state = Closed
			c.conn.pendingResponses = nil
			c.conn.writeCursor = 0
			return nil
		}
		return err
	}
}

// EnqueueResponse enqueues r for writing unless the connection is
// already Closed, in which case r is silently dropped — the server has
// still honored its obligation to the application, so in-flight is
// decremented either way. A defensive floor at zero guards against a
// double-respond for the same request underflowing the counter; see
// DESIGN.md for why the original has no such guard and this one does.
func (c *ClientConnection) EnqueueResponse(r httpmsg.Response) {
	if c.state != Closed {
		c.conn.EnqueueResponse(r)
		if c.state == AwaitingIncoming {
			c.state = AwaitingOutgoing
		}
	}
	if c.inFlight > 0 {
		c.inFlight--
	}
}

// IsDone reports whether the connection is safe to reap: Closed, with
// nothing left to write, and no in-flight obligations outstanding.
func (c *ClientConnection) IsDone() bool {
	return c.state == Closed && !c.conn.PendingWrite() && c.inFlight == 0
}
