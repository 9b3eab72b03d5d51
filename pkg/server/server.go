// Package server wires together the transport, readiness, and
// connection layers into the public HttpServer contract: accept,
// dispatch, respond, reap. This is spec component G, the one place an
// embedding application ever touches.
package server

import (
	"net"
	"os"

	"github.com/ctrlplane/apihttp/internal/applog"
	"github.com/ctrlplane/apihttp/pkg/connection"
	"github.com/ctrlplane/apihttp/pkg/constants"
	"github.com/ctrlplane/apihttp/pkg/httperr"
	"github.com/ctrlplane/apihttp/pkg/httpmsg"
	"github.com/ctrlplane/apihttp/pkg/readiness"
	"github.com/ctrlplane/apihttp/pkg/transport"
)

// StreamId identifies a connection while it is open; it is the OS file
// descriptor of the accepted stream (which the OS may reuse once the
// connection is reaped and closed), doubling as the
// token a ServerRequest/ServerResponse carries back to the
// application.
type StreamId = int

// ServerRequest is the sole bridge to the embedding application: a
// parsed Request plus enough identity to route a Response back to the
// right connection.
type ServerRequest struct {
	request httpmsg.Request
	id      StreamId
}

// Inner returns the read-only parsed request.
func (sr ServerRequest) Inner() *httpmsg.Request {
	return &sr.request
}

// Process invokes callback with the request and wraps its Response
// with this request's connection id, ready to pass to Respond.
func (sr ServerRequest) Process(callback func(*httpmsg.Request) httpmsg.Response) ServerResponse {
	resp := callback(&sr.request)
	return ServerResponse{response: resp, id: sr.id}
}

// ServerResponse pairs an application-produced Response with the
// connection id of the request it answers.
type ServerResponse struct {
	response httpmsg.Response
	id       StreamId
}

// HttpServer owns the listener, the readiness notifier, and the set of
// live connections. It is single-threaded: Requests and Respond must
// never be called concurrently with each other or with themselves.
type HttpServer struct {
	listener    transport.Listener
	notifier    *readiness.Notifier
	connections map[StreamId]*connection.ClientConnection

	maxConnections    int
	readBufferCeiling int

	log *applog.Logger
}

// Option customizes an HttpServer at construction time.
type Option func(*HttpServer)

// WithMaxConnections overrides constants.MaxConnections.
func WithMaxConnections(n int) Option {
	return func(s *HttpServer) { s.maxConnections = n }
}

// WithReadBufferCeiling overrides constants.DefaultReadBufferCeiling.
func WithReadBufferCeiling(n int) Option {
	return func(s *HttpServer) { s.readBufferCeiling = n }
}

// WithLogger overrides the default stderr applog.Logger.
func WithLogger(l *applog.Logger) Option {
	return func(s *HttpServer) { s.log = l }
}

func newServer(l transport.Listener, opts ...Option) (*HttpServer, error) {
	n, err := readiness.New()
	if err != nil {
		return nil, err
	}
	s := &HttpServer{
		listener:          l,
		notifier:          n,
		connections:       make(map[StreamId]*connection.ClientConnection),
		maxConnections:    constants.MaxConnections,
		readBufferCeiling: constants.DefaultReadBufferCeiling,
		log:               applog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewTCP constructs a server bound to a non-blocking TCP listener on
// addr. The listener is not yet registered with the notifier; call
// Start for that.
func NewTCP(addr string, opts ...Option) (*HttpServer, error) {
	l, err := transport.BindTCP(addr)
	if err != nil {
		return nil, err
	}
	return newServer(l, opts...)
}

// NewUDS constructs a server bound to a non-blocking Unix domain
// socket listener at path. Any stale socket file at path is removed
// first.
func NewUDS(path string, opts ...Option) (*HttpServer, error) {
	if _, err := os.Stat(path); err == nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, httperr.NewIOError("remove-stale-socket", rmErr)
		}
	}
	l, err := transport.BindUDS(path)
	if err != nil {
		return nil, err
	}
	return newServer(l, opts...)
}

// Start registers the listener for readability. Requests must not be
// called before Start.
func (s *HttpServer) Start() error {
	return s.notifier.Add(s.listener.FD(), readiness.Readable)
}

// Notifier exposes the readiness notifier so a host application can
// fold this server's readiness fd into a larger event loop of its own.
func (s *HttpServer) Notifier() *readiness.Notifier {
	return s.notifier
}

// Close tears down the listener and notifier. Live connections are not
// individually closed; the caller is expected to have drained them.
func (s *HttpServer) Close() error {
	_ = s.notifier.Close()
	return s.listener.Close()
}

// Requests blocks on the readiness notifier, dispatches every ready
// event, and returns the ServerRequests newly available for
// processing. After dispatch, connections that are fully done
// (Closed, nothing pending, nothing in flight) are reaped.
func (s *HttpServer) Requests() ([]ServerRequest, error) {
	events, err := s.notifier.Wait(constants.MaxEpollEvents)
	if err != nil {
		return nil, httperr.NewServerError("requests", err)
	}

	var out []ServerRequest
	for _, ev := range events {
		if ev.FD == s.listener.FD() {
			s.acceptOne()
			continue
		}

		conn, ok := s.connections[ev.FD]
		if !ok {
			continue
		}

		if ev.Ready&readiness.Readable != 0 {
			requests, err := conn.Read()
			if err != nil {
				s.log.WithStream(ev.FD).Printf("read failed: %v", err)
				return out, httperr.NewServerError("connection-read", err)
			}
			for _, req := range requests {
				out = append(out, ServerRequest{request: req, id: ev.FD})
			}
			if conn.State() == connection.AwaitingOutgoing {
				if err := s.notifier.Modify(ev.FD, readiness.Writable); err != nil {
					s.log.WithStream(ev.FD).Printf("switch to writable failed: %v", err)
					return out, httperr.NewServerError("notifier-modify", err)
				}
			}
		}

		if ev.Ready&readiness.Writable != 0 {
			if err := conn.Write(); err != nil {
				s.log.WithStream(ev.FD).Printf("write failed: %v", err)
				return out, httperr.NewServerError("connection-write", err)
			}
			if conn.State() == connection.AwaitingIncoming {
				if err := s.notifier.Modify(ev.FD, readiness.Readable); err != nil {
					s.log.WithStream(ev.FD).Printf("switch to readable failed: %v", err)
					return out, httperr.NewServerError("notifier-modify", err)
				}
			}
		}
	}

	s.reap()
	return out, nil
}

// acceptOne accepts a single pending connection off the listener,
// applying admission control before registering it with the notifier.
func (s *HttpServer) acceptOne() {
	stream, err := s.listener.Accept()
	if err != nil {
		if transport.IsWouldBlock(err) {
			return
		}
		s.log.Printf("accept failed: %v", err)
		return
	}

	if len(s.connections) >= s.maxConnections {
		s.rejectFull(stream)
		return
	}

	fd := stream.FD()
	conn := connection.NewClientConnection(connection.New(stream, s.readBufferCeiling))
	if err := s.notifier.Add(fd, readiness.Readable); err != nil {
		s.log.Printf("failed to register fd %d: %v", fd, err)
		_ = stream.Close()
		return
	}
	s.connections[fd] = conn
}

// rejectFull writes the byte-exact admission-control payload to a
// stream accepted past maxConnections, then drops it. The write is
// best-effort: the stream is closing either way.
func (s *HttpServer) rejectFull(stream transport.Stream) {
	_, _ = stream.Write(constants.ServerFullErrorMessage)
	if err := stream.Close(); err != nil {
		s.log.WithStream(stream.FD()).Printf("error closing rejected stream: %v", err)
	}
}

// reap removes every connection whose ClientConnection.IsDone is true.
func (s *HttpServer) reap() {
	for fd, conn := range s.connections {
		if !conn.IsDone() {
			continue
		}
		_ = s.notifier.Remove(fd)
		_ = conn.Close()
		delete(s.connections, fd)
	}
}

// Respond routes a ServerResponse back to the connection it answers.
// If the connection is gone (peer disconnected before the response was
// ready), the response is silently dropped; the application's
// obligation is considered discharged.
func (s *HttpServer) Respond(sr ServerResponse) error {
	conn, ok := s.connections[sr.id]
	if !ok {
		return nil
	}

	wasIncoming := conn.State() == connection.AwaitingIncoming
	conn.EnqueueResponse(sr.response)
	if wasIncoming && conn.State() == connection.AwaitingOutgoing {
		if err := s.notifier.Modify(sr.id, readiness.Writable); err != nil {
			return httperr.NewServerError("notifier-modify", err)
		}
	}
	return nil
}

// EnqueueResponses folds Respond over every element of rs, in order,
// returning the first error encountered.
func (s *HttpServer) EnqueueResponses(rs []ServerResponse) error {
	for _, r := range rs {
		if err := s.Respond(r); err != nil {
			return err
		}
	}
	return nil
}

// LocalAddr returns the listener's bound address when the listener has
// an Addr() net.Addr method. The TCP and UDS listeners from
// pkg/transport have no such method, so for them it returns nil.
func (s *HttpServer) LocalAddr() net.Addr {
	type addrer interface{ Addr() net.Addr }
	if a, ok := s.listener.(addrer); ok {
		return a.Addr()
	}
	return nil
}
