package envbuild_test

import (
	"bufio"
	"strings"
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }

func parseReq(t *testing.T, raw string) *wire.ParsedRequest {
	t.Helper()
	req, err := wire.ReadRequest(bufio.NewReader(strings.NewReader(raw)), 0)
	if err != nil || req == nil {
		t.Fatalf("ReadRequest: req=%v err=%v", req, err)
	}
	return req
}

func TestHeaderTranslationDuplicatesJoinWithComma(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX: a\r\nX: b\r\n\r\n"
	req := parseReq(t, raw)
	defer req.Body.Close()

	env, err := envbuild.BuildSyncEnv(req, envbuild.ConnMeta{ServerDefaultPort: "80", Scheme: "http", RemoteAddr: "127.0.0.1"}, discardSink{})
	if err != nil {
		t.Fatalf("BuildSyncEnv: %v", err)
	}

	if got := env["HTTP_X"]; got != "a, b" {
		t.Errorf("HTTP_X = %v, want %q", got, "a, b")
	}
}

func TestHeaderTranslationCookieJoinsWithSemicolon(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nCookie: a=1\r\nCookie: b=2\r\n\r\n"
	req := parseReq(t, raw)
	defer req.Body.Close()

	env, err := envbuild.BuildSyncEnv(req, envbuild.ConnMeta{ServerDefaultPort: "80", Scheme: "http", RemoteAddr: "127.0.0.1"}, discardSink{})
	if err != nil {
		t.Fatalf("BuildSyncEnv: %v", err)
	}

	if got := env["HTTP_COOKIE"]; got != "a=1; b=2" {
		t.Errorf("HTTP_COOKIE = %v, want %q", got, "a=1; b=2")
	}
}

func TestHeaderTranslationDropsProxyHeader(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nProxy: evil\r\n\r\n"
	req := parseReq(t, raw)
	defer req.Body.Close()

	env, err := envbuild.BuildSyncEnv(req, envbuild.ConnMeta{ServerDefaultPort: "80", Scheme: "http", RemoteAddr: "127.0.0.1"}, discardSink{})
	if err != nil {
		t.Fatalf("BuildSyncEnv: %v", err)
	}

	if _, ok := env["HTTP_PROXY"]; ok {
		t.Error("HTTP_PROXY must never appear in the environment")
	}
}

func TestHeaderTranslationContentTypeUnprefixed(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Type: text/plain\r\nContent-Length: 0\r\n\r\n"
	req := parseReq(t, raw)
	defer req.Body.Close()

	env, err := envbuild.BuildSyncEnv(req, envbuild.ConnMeta{ServerDefaultPort: "80", Scheme: "http", RemoteAddr: "127.0.0.1"}, discardSink{})
	if err != nil {
		t.Fatalf("BuildSyncEnv: %v", err)
	}

	if env[envbuild.KeyContentType] != "text/plain" {
		t.Errorf("CONTENT_TYPE = %v", env[envbuild.KeyContentType])
	}
	if _, ok := env["HTTP_CONTENT_TYPE"]; ok {
		t.Error("content-type must not also appear as HTTP_CONTENT_TYPE")
	}
}
