package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctrlplane/apihttp/pkg/connection"
	"github.com/ctrlplane/apihttp/pkg/httpmsg"
)

func newTestServer(t *testing.T, opts ...Option) (*HttpServer, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "apihttp-test.sock")
	srv, err := NewUDS(sockPath, opts...)
	if err != nil {
		t.Fatalf("NewUDS failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, sockPath
}

// waitForServerRequests drives Requests() until at least one
// ServerRequest is produced or maxRounds event-loop turns elapse.
func waitForServerRequests(t *testing.T, srv *HttpServer, maxRounds int) []ServerRequest {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		reqs, err := srv.Requests()
		if err != nil {
			t.Fatalf("Requests failed: %v", err)
		}
		if len(reqs) > 0 {
			return reqs
		}
	}
	t.Fatalf("no requests produced after %d rounds", maxRounds)
	return nil
}

func TestServerSinglePatchWithBodyAndReply(t *testing.T) {
	srv, sockPath := newTestServer(t)

	client, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	raw := "PATCH /machine-config HTTP/1.1\r\nContent-Length: 13\r\nContent-Type: application/json\r\n\r\nwhatever body"
	if _, err := client.Write([]byte(raw)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	reqs := waitForServerRequests(t, srv, 8)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	inner := reqs[0].Inner()
	if inner.Method != httpmsg.MethodPatch {
		t.Fatalf("expected PATCH, got %v", inner.Method)
	}
	if inner.URI.AbsPath() != "/machine-config" {
		t.Fatalf("expected /machine-config, got %q", inner.URI.AbsPath())
	}
	if inner.Headers.ContentLength != 13 {
		t.Fatalf("expected content-length 13, got %d", inner.Headers.ContentLength)
	}
	if string(inner.Body) != "whatever body" {
		t.Fatalf("unexpected body %q", inner.Body)
	}

	resp := reqs[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		out := httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
		out.WithBody([]byte("response body"))
		return out
	})
	if err := srv.Respond(resp); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	// Drive one loop turn, which writes the response, then read the
	// client side. Requests blocks without a timeout, so a further turn
	// with no pending event would never return.
	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (drain write) failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected at least one byte in response")
	}
	got, err := httpmsg.ParseResponse(buf[:n])
	if err != nil {
		t.Fatalf("parsing echoed response failed: %v", err)
	}
	if got.Status != httpmsg.StatusOK {
		t.Fatalf("expected 200, got %v", got.Status)
	}
	if string(got.Body) != "response body" {
		t.Fatalf("unexpected response body %q", got.Body)
	}
}

func TestServerAdmissionControlRejectsPastCeiling(t *testing.T) {
	srv, sockPath := newTestServer(t, WithMaxConnections(1))

	first, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 1 failed: %v", err)
	}
	defer first.Close()

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept 1) failed: %v", err)
	}

	second, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 2 failed: %v", err)
	}
	defer second.Close()

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept 2 / reject) failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := second.Read(buf)
	if err != nil {
		t.Fatalf("expected rejection payload, read failed: %v", err)
	}
	want := "HTTP/1.1 503\r\n" +
		"Server: Firecracker API\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 40\r\n\r\n" +
		"{ \"error\": \"Too many open connections\" }"
	if string(buf[:n]) != want {
		t.Fatalf("unexpected rejection payload:\n got: %q\nwant: %q", buf[:n], want)
	}
}

func TestServerRespondToGoneConnectionIsNoop(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := ServerResponse{response: httpmsg.NewResponse(httpmsg.VersionHTTP11, httpmsg.StatusOK), id: 999999}
	if err := srv.Respond(resp); err != nil {
		t.Fatalf("Respond to a gone connection should be a no-op, got: %v", err)
	}
}

// TestServerTwoConcurrentConnectionsInterleaved realizes S2: a second
// connection is accepted while the first still has an unanswered
// request, and both round-trip independently.
func TestServerTwoConcurrentConnectionsInterleaved(t *testing.T) {
	srv, sockPath := newTestServer(t)

	first, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 1 failed: %v", err)
	}
	defer first.Close()

	raw := "PATCH /machine-config HTTP/1.1\r\nContent-Length: 13\r\nContent-Type: application/json\r\n\r\nwhatever body"
	if _, err := first.Write([]byte(raw)); err != nil {
		t.Fatalf("client 1 write failed: %v", err)
	}

	reqs1 := waitForServerRequests(t, srv, 8)
	if len(reqs1) != 1 {
		t.Fatalf("expected 1 request from connection 1, got %d", len(reqs1))
	}

	second, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 2 failed: %v", err)
	}
	defer second.Close()

	// Accepting the second connection must not itself yield a request.
	if reqs, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept 2) failed: %v", err)
	} else if len(reqs) != 0 {
		t.Fatalf("expected no requests on accepting connection 2, got %d", len(reqs))
	}

	resp1 := reqs1[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		out := httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
		out.WithBody([]byte("response body"))
		return out
	})
	if err := srv.Respond(resp1); err != nil {
		t.Fatalf("Respond to connection 1 failed: %v", err)
	}

	raw2 := "GET /machine-config HTTP/1.1\r\nContent-Length: 20\r\n\r\nwhatever second body"
	if _, err := second.Write([]byte(raw2)); err != nil {
		t.Fatalf("client 2 write failed: %v", err)
	}

	reqs2 := waitForServerRequests(t, srv, 8)
	if len(reqs2) != 1 {
		t.Fatalf("expected 1 request from connection 2, got %d", len(reqs2))
	}
	if string(reqs2[0].Inner().Body) != "whatever second body" {
		t.Fatalf("unexpected body on connection 2: %q", reqs2[0].Inner().Body)
	}

	resp2 := reqs2[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		out := httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
		out.WithBody([]byte("second response"))
		return out
	})
	if err := srv.Respond(resp2); err != nil {
		t.Fatalf("Respond to connection 2 failed: %v", err)
	}

	// Connection 1 was written during the turn that read connection 2's
	// request; one more turn writes connection 2's response.
	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (drain writes) failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := first.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("client 1 read failed: n=%d err=%v", n, err)
	}
	got1, err := httpmsg.ParseResponse(buf[:n])
	if err != nil {
		t.Fatalf("parsing connection 1 response failed: %v", err)
	}
	if string(got1.Body) != "response body" {
		t.Fatalf("unexpected connection 1 response body %q", got1.Body)
	}

	n, err = second.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("client 2 read failed: n=%d err=%v", n, err)
	}
	got2, err := httpmsg.ParseResponse(buf[:n])
	if err != nil {
		t.Fatalf("parsing connection 2 response failed: %v", err)
	}
	if string(got2.Body) != "second response" {
		t.Fatalf("unexpected connection 2 response body %q", got2.Body)
	}
}

// TestServerExpectContinueOverRealSocket realizes S3: the 100 Continue
// is observable on the wire before the body arrives, independent of
// the full request ever having been parsed.
func TestServerExpectContinueOverRealSocket(t *testing.T) {
	srv, sockPath := newTestServer(t)

	client, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if reqs, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept) failed: %v", err)
	} else if len(reqs) != 0 {
		t.Fatalf("expected no requests on accept, got %d", len(reqs))
	}

	headers := "PATCH /machine-config HTTP/1.1\r\nContent-Length: 13\r\nExpect: 100-continue\r\n\r\n"
	if _, err := client.Write([]byte(headers)); err != nil {
		t.Fatalf("client header write failed: %v", err)
	}

	// First wait: reads the headers, flips the connection to outgoing
	// so the synthesized 100 Continue can be written.
	if reqs, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (read headers) failed: %v", err)
	} else if len(reqs) != 0 {
		t.Fatalf("expected no requests while body is still pending, got %d", len(reqs))
	}

	// Second wait: the connection is now writable and the 100 Continue
	// actually goes out on the wire.
	if reqs, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (write continue) failed: %v", err)
	} else if len(reqs) != 0 {
		t.Fatalf("expected no requests while writing the continue response, got %d", len(reqs))
	}

	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("expected the 100 Continue readable before the body is sent: n=%d err=%v", n, err)
	}
	continueResp, err := httpmsg.ParseResponse(buf[:n])
	if err != nil {
		t.Fatalf("parsing continue response failed: %v", err)
	}
	if continueResp.Status != httpmsg.StatusContinue {
		t.Fatalf("expected 100 Continue, got %v", continueResp.Status)
	}

	if _, err := client.Write([]byte("whatever body")); err != nil {
		t.Fatalf("client body write failed: %v", err)
	}

	reqs := waitForServerRequests(t, srv, 8)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request once the body arrives, got %d", len(reqs))
	}
	if string(reqs[0].Inner().Body) != "whatever body" {
		t.Fatalf("unexpected body %q", reqs[0].Inner().Body)
	}

	resp := reqs[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		return httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
	})
	if err := srv.Respond(resp); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (drain final write) failed: %v", err)
	}

	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	n, err = client.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("expected the final response readable: n=%d err=%v", n, err)
	}
	final, err := httpmsg.ParseResponse(buf[:n])
	if err != nil {
		t.Fatalf("parsing final response failed: %v", err)
	}
	if final.Status != httpmsg.StatusOK {
		t.Fatalf("expected 200, got %v", final.Status)
	}
}

// TestServerAdmissionControlRealCeiling realizes S4 with the actual
// default MaxConnections ceiling rather than a WithMaxConnections(1)
// stand-in: ten connections are admitted, the eleventh is rejected,
// and the original ten keep working.
func TestServerAdmissionControlRealCeiling(t *testing.T) {
	srv, sockPath := newTestServer(t)

	var clients []net.Conn
	for i := 0; i < 10; i++ {
		c, err := net.Dial("unix", sockPath)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		defer c.Close()
		clients = append(clients, c)
		if _, err := srv.Requests(); err != nil {
			t.Fatalf("Requests (accept %d) failed: %v", i, err)
		}
	}

	eleventh, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 11 failed: %v", err)
	}
	defer eleventh.Close()

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (reject 11) failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := eleventh.Read(buf)
	if err != nil {
		t.Fatalf("expected rejection payload, read failed: %v", err)
	}
	want := "HTTP/1.1 503\r\n" +
		"Server: Firecracker API\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 40\r\n\r\n" +
		"{ \"error\": \"Too many open connections\" }"
	if string(buf[:n]) != want {
		t.Fatalf("unexpected rejection payload:\n got: %q\nwant: %q", buf[:n], want)
	}

	// The original ten still work.
	raw := "GET /machine-config HTTP/1.1\r\n\r\n"
	if _, err := clients[0].Write([]byte(raw)); err != nil {
		t.Fatalf("client 0 write failed: %v", err)
	}
	reqs := waitForServerRequests(t, srv, 8)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request from surviving connection, got %d", len(reqs))
	}
}

// TestServerInFlightSurvivesDisconnect realizes S6: a peer that
// disconnects before reading its answer still gets a silent, no-error
// Respond, and the connection count settles back to the survivors.
func TestServerInFlightSurvivesDisconnect(t *testing.T) {
	srv, sockPath := newTestServer(t)

	gone, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 1 failed: %v", err)
	}

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept) failed: %v", err)
	}

	raw := "GET /machine-config HTTP/1.1\r\n\r\n"
	if _, err := gone.Write([]byte(raw)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	reqs := waitForServerRequests(t, srv, 8)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}

	if err := gone.Close(); err != nil {
		t.Fatalf("client close failed: %v", err)
	}

	resp := reqs[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		return httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
	})
	if err := srv.Respond(resp); err != nil {
		t.Fatalf("Respond to a disconnected peer must not error, got: %v", err)
	}

	// One turn attempts the write, finds the peer gone, and reaps the
	// connection.
	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (drain/reap) failed: %v", err)
	}

	survivor, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial 2 failed: %v", err)
	}
	defer survivor.Close()

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept survivor) failed: %v", err)
	}

	if _, err := survivor.Write([]byte(raw)); err != nil {
		t.Fatalf("survivor write failed: %v", err)
	}
	survivorReqs := waitForServerRequests(t, srv, 8)
	if len(survivorReqs) != 1 {
		t.Fatalf("expected 1 request from survivor, got %d", len(survivorReqs))
	}

	survivorResp := survivorReqs[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		out := httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
		out.WithBody([]byte("ok"))
		return out
	})
	if err := srv.Respond(survivorResp); err != nil {
		t.Fatalf("Respond to survivor failed: %v", err)
	}
	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (drain survivor write) failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := survivor.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("survivor read failed: n=%d err=%v", n, err)
	}

	if len(srv.connections) != 1 {
		t.Fatalf("expected exactly 1 surviving connection, got %d", len(srv.connections))
	}
}

// TestServerReapTimingRequiresBothConditions drives a disconnect +
// response-drain sequence and asserts the connection is removed from
// s.connections only once pending_write=false AND in_flight=0 hold
// simultaneously — not on the first condition alone.
func TestServerReapTimingRequiresBothConditions(t *testing.T) {
	srv, sockPath := newTestServer(t)

	client, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (accept) failed: %v", err)
	}

	raw := "GET /machine-config HTTP/1.1\r\n\r\n"
	if _, err := client.Write([]byte(raw)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	reqs := waitForServerRequests(t, srv, 8)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	fd := reqs[0].id

	if err := client.Close(); err != nil {
		t.Fatalf("client close failed: %v", err)
	}

	// Drive reads until the peer close is observed: the connection
	// flips to Closed, but the response is still owed (in_flight=1),
	// so it must not be reaped yet.
	sawClosed := false
	for i := 0; i < 8; i++ {
		if _, err := srv.Requests(); err != nil {
			t.Fatalf("Requests (observe close) failed: %v", err)
		}
		conn, ok := srv.connections[fd]
		if !ok {
			t.Fatalf("connection was reaped before its response was given; in_flight was still nonzero")
		}
		if conn.State() == connection.Closed {
			sawClosed = true
			break
		}
	}
	if !sawClosed {
		t.Fatalf("connection never observed its peer's disconnect")
	}
	if _, ok := srv.connections[fd]; !ok {
		t.Fatalf("connection reaped while in_flight was still nonzero")
	}

	resp := reqs[0].Process(func(r *httpmsg.Request) httpmsg.Response {
		return httpmsg.NewResponse(r.Version, httpmsg.StatusOK)
	})
	if err := srv.Respond(resp); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if _, err := srv.Requests(); err != nil {
		t.Fatalf("Requests (reap after respond) failed: %v", err)
	}
	if _, ok := srv.connections[fd]; ok {
		t.Fatalf("expected connection reaped once pending_write=false and in_flight=0 both hold")
	}
}
