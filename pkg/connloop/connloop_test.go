package connloop_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/connloop"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/syncdispatch"
)

func newServer(app appcontract.Application) *connloop.Server {
	return &connloop.Server{
		App:        app,
		Pool:       syncdispatch.NewPool(),
		ServerHost: "localhost",
		ServerPort: 80,
		Scheme:     "http",
		StateFunc:  func() map[string]any { return nil },
	}
}

func syncEchoApp() appcontract.Application {
	return appcontract.Application{
		Kind: appcontract.KindSync,
		Sync: func(env envbuild.Env, start appcontract.StartResponse) (appcontract.BodyIter, error) {
			start("200 OK", [][2]string{{"Content-Type", "text/plain"}}, nil)
			path, _ := env[envbuild.KeyPathInfo].(string)
			return appcontract.NewSliceBodyIter([][]byte{[]byte(path)}), nil
		},
	}
}

func TestKeepAliveServesTwoRequests(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	srv := newServer(syncEchoApp())
	done := make(chan struct{})
	go func() {
		srv.Handle(context.Background(), serverConn, 1)
		close(done)
	}()

	if _, err := clientConn.Write([]byte("GET /one HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(clientConn)
	status, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(status, "200") {
		t.Fatalf("status = %q, err = %v", status, err)
	}
	drainHeaders(t, reader)
	readBody(t, reader, "/one")

	if _, err := clientConn.Write([]byte("GET /two HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write second request: %v", err)
	}
	status2, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(status2, "200") {
		t.Fatalf("second status = %q, err = %v", status2, err)
	}
	drainHeaders(t, reader)
	readBody(t, reader, "/two")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not terminate after Connection: close")
	}
}

func drainHeaders(t *testing.T, r *bufio.Reader) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		if line == "\r\n" {
			return
		}
	}
}

// readBody consumes the echoed body; net.Pipe is unbuffered, so the server
// cannot finish writing a response until the client reads all of it.
func readBody(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	body := make([]byte, len(want))
	if _, err := io.ReadFull(r, body); err != nil || string(body) != want {
		t.Fatalf("body = %q, err = %v, want %q", body, err, want)
	}
}
