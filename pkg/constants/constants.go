// Package constants defines magic numbers and default values used throughout apihttp.
package constants

// Connection admission limits.
const (
	// MaxConnections is the hard ceiling on concurrently open client
	// connections. The 11th concurrent accept is rejected with
	// ServerFullErrorMessage.
	MaxConnections = 10
)

// Buffer limits.
const (
	// DefaultReadBufferCeiling bounds how large a connection's
	// accumulated-but-unparsed read buffer is allowed to grow before a
	// request is considered InvalidRequest. Chosen generously enough for
	// control-plane payloads without letting one peer exhaust memory.
	DefaultReadBufferCeiling = 512 * 1024 // 512KB

	// MaxEpollEvents bounds how many readiness events are drained in a
	// single Wait call; MaxConnections+1 covers every client plus the
	// listener itself.
	MaxEpollEvents = MaxConnections + 1
)

// ServerFullErrorMessage is the byte-exact payload written to a stream
// rejected by admission control, then the stream is closed.
var ServerFullErrorMessage = []byte("HTTP/1.1 503\r\n" +
	"Server: Firecracker API\r\n" +
	"Connection: close\r\n" +
	"Content-Length: 40\r\n\r\n" +
	"{ \"error\": \"Too many open connections\" }")
