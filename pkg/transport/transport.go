// Package transport provides the listener/stream abstraction the
// server is generic over: a small tagged interface pair covering the
// two transports a control-plane server needs, TCP and Unix domain
// sockets.
//
// Sockets are created directly through golang.org/x/sys/unix rather
// than through net.Listener/net.Conn: the server's event loop needs
// the raw, non-blocking file descriptor for epoll registration, and
// extracting one back out of the stdlib's net types requires a dup()
// round-trip for no benefit here.
package transport

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ctrlplane/apihttp/pkg/httperr"
)

// Stream is a non-blocking, fd-identified connection.
// HttpConnection is generic over this interface rather than
// inheritance: the concrete transport (TCP or UDS) is injected, not
// inherited.
type Stream interface {
	// FD returns the raw file descriptor, used as the server's StreamId
	// and registered with the readiness notifier.
	FD() int
	// Read performs a single non-blocking read: (0,
	// httperr.ErrConnectionClosed) on orderly shutdown, (n, nil) for n>0
	// bytes, (0, unix.EAGAIN) when nothing is available yet.
	Read(p []byte) (int, error)
	// Write performs a single non-blocking write.
	Write(p []byte) (int, error)
	Close() error
}

// Listener accepts new Streams.
type Listener interface {
	// FD returns the raw file descriptor of the listening socket.
	FD() int
	// Accept accepts one pending connection as non-blocking.
	Accept() (Stream, error)
	Close() error
}

// fdConn is a non-blocking stream backed directly by a socket fd.
type fdConn struct {
	fd int
}

func (c *fdConn) FD() int { return c.fd }

func (c *fdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, mapSyscallErr("read", err)
	}
	if n == 0 {
		return 0, httperr.ErrConnectionClosed
	}
	return n, nil
}

func (c *fdConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return 0, mapSyscallErr("write", err)
	}
	return n, nil
}

func (c *fdConn) Close() error {
	return unix.Close(c.fd)
}

// mapSyscallErr wraps a raw syscall error, preserving EAGAIN/EWOULDBLOCK
// so callers can distinguish "nothing ready yet" from a real failure.
func mapSyscallErr(op string, err error) error {
	if err == unix.EAGAIN {
		return err
	}
	return httperr.NewIOError(op, err)
}

// IsWouldBlock reports whether err indicates a non-blocking operation
// had nothing to do yet (as opposed to a genuine failure).
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

type fdListener struct {
	fd     int
	family int
}

// BindTCP creates a non-blocking, listening TCP socket on addr
// ("host:port" or ":port").
func BindTCP(addr string) (Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, httperr.NewIOError("resolve-tcp-addr", err)
	}

	family := unix.AF_INET
	sockAddr, err := tcpSockaddr(tcpAddr)
	if err != nil {
		return nil, err
	}
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, httperr.NewIOError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, httperr.NewIOError("setsockopt", err)
	}
	if err := unix.Bind(fd, sockAddr); err != nil {
		unix.Close(fd)
		return nil, httperr.NewIOError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, httperr.NewIOError("listen", err)
	}
	return &fdListener{fd: fd, family: family}, nil
}

// BindUDS creates a non-blocking, listening Unix domain socket at path.
// The caller is responsible for removing any stale socket file first.
func BindUDS(path string) (Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, httperr.NewIOError("socket", err)
	}
	sockAddr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sockAddr); err != nil {
		unix.Close(fd)
		return nil, httperr.NewIOError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, httperr.NewIOError("listen", err)
	}
	return &fdListener{fd: fd, family: unix.AF_UNIX}, nil
}

func (l *fdListener) FD() int { return l.fd }

func (l *fdListener) Accept() (Stream, error) {
	connFD, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, err
		}
		return nil, httperr.NewIOError("accept", err)
	}
	return &fdConn{fd: connFD}, nil
}

func (l *fdListener) Close() error {
	return unix.Close(l.fd)
}

func tcpSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	port := addr.Port
	if addr.IP == nil || addr.IP.IsUnspecified() || addr.IP.To4() != nil {
		var ip4 [4]byte
		if ip := addr.IP.To4(); ip != nil {
			copy(ip4[:], ip)
		}
		return &unix.SockaddrInet4{Port: port, Addr: ip4}, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, httperr.NewIOError("resolve-tcp-addr", os.ErrInvalid)
	}
	var ip6 [16]byte
	copy(ip6[:], ip16)
	return &unix.SockaddrInet6{Port: port, Addr: ip6}, nil
}
