// Command apihttpd is an example embedding of apihttp: a minimal
// control-plane server that answers every request with a JSON object
// naming its method and path, demonstrating the Requests/Process/Respond loop an embedder writes.
package main

import (
	"flag"
	"fmt"

	"github.com/ctrlplane/apihttp"
	"github.com/ctrlplane/apihttp/internal/applog"
)

func main() {
	var (
		tcpAddr           = flag.String("addr", "", "TCP address to listen on, e.g. :8080 (mutually exclusive with -uds)")
		udsPath           = flag.String("uds", "", "Unix domain socket path to listen on (mutually exclusive with -addr)")
		maxConnections    = flag.Int("max-connections", 10, "maximum concurrently open connections")
		readBufferCeiling = flag.Int("read-buffer-ceiling", 512*1024, "per-connection read buffer ceiling in bytes")
	)
	flag.Parse()

	log := applog.New("apihttpd: ")

	if (*tcpAddr == "") == (*udsPath == "") {
		log.Fatalf("exactly one of -addr or -uds must be set")
	}

	opts := []apihttp.ServerOption{
		apihttp.WithMaxConnections(*maxConnections),
		apihttp.WithReadBufferCeiling(*readBufferCeiling),
	}

	var (
		srv *apihttp.Server
		err error
	)
	if *tcpAddr != "" {
		srv, err = apihttp.NewTCPServer(*tcpAddr, opts...)
	} else {
		srv, err = apihttp.NewUDSServer(*udsPath, opts...)
	}
	if err != nil {
		log.Fatalf("failed to construct server: %v", err)
	}
	defer srv.Close()

	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	log.Printf("listening (max-connections=%d, read-buffer-ceiling=%d)", *maxConnections, *readBufferCeiling)

	for {
		reqs, err := srv.Requests()
		if err != nil {
			log.Fatalf("requests loop failed: %v", err)
		}
		for _, req := range reqs {
			resp := req.Process(echo)
			if err := srv.Respond(resp); err != nil {
				log.Printf("respond failed: %v", err)
			}
		}
	}
}

func echo(req *apihttp.Request) apihttp.Response {
	body := []byte(fmt.Sprintf("{ \"method\": %q, \"path\": %q }", req.Method.String(), req.URI.AbsPath()))
	resp := apihttp.NewResponse(req.Version, apihttp.StatusOK)
	resp.WithHeader("Content-Type", "application/json")
	resp.WithBody(body)
	return resp
}
