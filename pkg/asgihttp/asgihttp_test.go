package asgihttp_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/asgihttp"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
)

func TestRunFixedFraming(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		if _, err := receive(ctx); err != nil {
			return err
		}
		if err := send(ctx, appcontract.Event{
			"type":    asgihttp.EventResponseStart,
			"status":  200,
			"headers": [][2]string{{"Content-Length", "5"}, {"Content-Type", "text/plain"}},
		}); err != nil {
			return err
		}
		if err := send(ctx, appcontract.Event{
			"type": asgihttp.EventResponseBody, "body": []byte("hello"), "more_body": false,
		}); err != nil {
			return err
		}
		ev, err := receive(ctx)
		if err != nil {
			return err
		}
		if ev["type"] != asgihttp.EventDisconnect {
			return fmt.Errorf("expected disconnect, got %v", ev["type"])
		}
		return nil
	}

	var buf bytes.Buffer
	if err := asgihttp.Run(context.Background(), app, envbuild.Scope{}, nil, &buf, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("status line wrong: %q", out)
	}
	if !strings.HasSuffix(out, "hello") {
		t.Errorf("body wrong: %q", out)
	}
	if strings.Contains(out, "Transfer-Encoding") {
		t.Errorf("fixed framing must not add Transfer-Encoding: %q", out)
	}
}

func TestRunFixedFramingWithoutExplicitContentLength(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		if err := send(ctx, appcontract.Event{
			"type": asgihttp.EventResponseStart, "status": 200, "headers": [][2]string{},
		}); err != nil {
			return err
		}
		return send(ctx, appcontract.Event{
			"type": asgihttp.EventResponseBody, "body": []byte("hello"), "more_body": false,
		})
	}

	var buf bytes.Buffer
	if err := asgihttp.Run(context.Background(), app, envbuild.Scope{}, nil, &buf, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Errorf("expected a server-computed Content-Length, got %q", out)
	}
	if strings.Contains(out, "Transfer-Encoding") {
		t.Errorf("a single, final body event must use fixed framing, not chunked: %q", out)
	}
	if !strings.HasSuffix(out, "hello") {
		t.Errorf("body wrong: %q", out)
	}
}

func TestRunChunkedFraming(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		send(ctx, appcontract.Event{"type": asgihttp.EventResponseStart, "status": 200, "headers": [][2]string{}})
		send(ctx, appcontract.Event{"type": asgihttp.EventResponseBody, "body": []byte("ab"), "more_body": true})
		send(ctx, appcontract.Event{"type": asgihttp.EventResponseBody, "body": []byte("cd"), "more_body": false})
		return nil
	}

	var buf bytes.Buffer
	if err := asgihttp.Run(context.Background(), app, envbuild.Scope{}, nil, &buf, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Transfer-Encoding: chunked") {
		t.Errorf("expected chunked framing: %q", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Errorf("expected terminating chunk: %q", out)
	}
	if !strings.Contains(out, "2\r\nab\r\n") || !strings.Contains(out, "2\r\ncd\r\n") {
		t.Errorf("chunk bodies wrong: %q", out)
	}
}

func TestRunAppErrorBeforeBytesSentIs500(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		return fmt.Errorf("boom")
	}

	var buf bytes.Buffer
	err := asgihttp.Run(context.Background(), app, envbuild.Scope{}, nil, &buf, 1)
	if err == nil {
		t.Fatal("expected Run to return the application error")
	}
	if !strings.HasPrefix(buf.String(), "HTTP/1.1 500 ") {
		t.Errorf("expected 500 response, got %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "Internal Server Error") {
		t.Errorf("500 body must not leak the application error, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "boom") {
		t.Errorf("500 body must not leak the application error, got %q", buf.String())
	}
}

func TestRunProtocolErrorOnWrongFirstSend(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		return send(ctx, appcontract.Event{"type": asgihttp.EventResponseBody, "body": []byte("x")})
	}

	var buf bytes.Buffer
	if err := asgihttp.Run(context.Background(), app, envbuild.Scope{}, nil, &buf, 1); err == nil {
		t.Fatal("expected a protocol error for sending body before start")
	}
}
