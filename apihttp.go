// Package apihttp provides an embeddable, single-threaded,
// readiness-driven HTTP/1.x server aimed at control-plane and admin
// APIs: a compact connection multiplexer, a per-connection I/O state
// machine, and a small HTTP/1 codec, with no chunked encoding,
// compression, HTTP/2, or routing.
package apihttp

import (
	"github.com/ctrlplane/apihttp/pkg/httpmsg"
	"github.com/ctrlplane/apihttp/pkg/server"
)

// Version is the current version of this module.
const Version = "0.1.0"

// Re-export the types an embedding application needs day to day, so
// callers only need to import this root package for the common path.
type (
	// Server is the public connection multiplexer. See pkg/server.HttpServer.
	Server = server.HttpServer

	// ServerOption customizes a Server at construction time.
	ServerOption = server.Option

	// Request is an immutable parsed HTTP request.
	Request = httpmsg.Request

	// Response is a mutable, builder-style HTTP response.
	Response = httpmsg.Response

	// ServerRequest bridges a parsed Request back to its connection.
	ServerRequest = server.ServerRequest

	// ServerResponse bridges a built Response back to its connection.
	ServerResponse = server.ServerResponse

	// StatusCode is the closed set of status codes this server emits.
	StatusCode = httpmsg.StatusCode

	// Method is the closed set of methods this server accepts.
	Method = httpmsg.Method
)

// Re-export the status codes and methods an application callback needs
// to build a Response, so callers rarely need pkg/httpmsg directly.
const (
	StatusContinue            = httpmsg.StatusContinue
	StatusOK                  = httpmsg.StatusOK
	StatusNoContent           = httpmsg.StatusNoContent
	StatusBadRequest          = httpmsg.StatusBadRequest
	StatusNotFound            = httpmsg.StatusNotFound
	StatusInternalServerError = httpmsg.StatusInternalServerError
	StatusNotImplemented      = httpmsg.StatusNotImplemented

	MethodGet   = httpmsg.MethodGet
	MethodPut   = httpmsg.MethodPut
	MethodPatch = httpmsg.MethodPatch
)

// NewTCPServer constructs a Server bound to a non-blocking TCP
// listener on addr ("host:port" or ":port"). Call Start before the
// first call to Requests.
func NewTCPServer(addr string, opts ...ServerOption) (*Server, error) {
	return server.NewTCP(addr, opts...)
}

// NewUDSServer constructs a Server bound to a non-blocking Unix domain
// socket listener at path, removing any stale socket file first. Call
// Start before the first call to Requests.
func NewUDSServer(path string, opts ...ServerOption) (*Server, error) {
	return server.NewUDS(path, opts...)
}

// WithMaxConnections overrides the default admission ceiling.
func WithMaxConnections(n int) ServerOption {
	return server.WithMaxConnections(n)
}

// WithReadBufferCeiling overrides the default per-connection read
// buffer ceiling.
func WithReadBufferCeiling(n int) ServerOption {
	return server.WithReadBufferCeiling(n)
}

// NewResponse returns a Response with an empty body and headers,
// ready for WithHeader/WithBody.
func NewResponse(version httpmsg.Version, status StatusCode) Response {
	return httpmsg.NewResponse(version, status)
}
