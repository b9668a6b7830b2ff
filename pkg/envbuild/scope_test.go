package envbuild_test

import (
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
)

func TestBuildScopeNumericHTTPVersion(t *testing.T) {
	req := parseReq(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	defer req.Body.Close()

	scope := envbuild.BuildScope(envbuild.ConnHTTP, req,
		envbuild.HostPort{Host: "localhost", Port: 80},
		envbuild.HostPort{Host: "127.0.0.1", Port: 5000},
		"http", nil, nil)

	if scope[envbuild.KeyHTTPVersion] != "1.1" {
		t.Errorf("http_version = %v, want 1.1", scope[envbuild.KeyHTTPVersion])
	}
	if scope[envbuild.KeyType] != "http" {
		t.Errorf("type = %v", scope[envbuild.KeyType])
	}
	if _, ok := scope[envbuild.KeySubprotocols]; ok {
		t.Error("subprotocols must be absent for plain http scopes")
	}
}

func TestBuildScopeWebSocketSubprotocols(t *testing.T) {
	req := parseReq(t, "GET /ws HTTP/1.1\r\nHost: x\r\n\r\n")
	defer req.Body.Close()

	scope := envbuild.BuildScope(envbuild.ConnWebSocket, req,
		envbuild.HostPort{Host: "localhost", Port: 80},
		envbuild.HostPort{Host: "127.0.0.1", Port: 5000},
		"ws", []string{"chat"}, nil)

	got, ok := scope[envbuild.KeySubprotocols].([]string)
	if !ok || len(got) != 1 || got[0] != "chat" {
		t.Errorf("subprotocols = %v", scope[envbuild.KeySubprotocols])
	}
}

func TestBuildScopeStateIsCopyNotAlias(t *testing.T) {
	req := parseReq(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	defer req.Body.Close()

	state := map[string]any{"k": "v"}
	scope := envbuild.BuildScope(envbuild.ConnHTTP, req,
		envbuild.HostPort{Host: "localhost", Port: 80},
		envbuild.HostPort{Host: "127.0.0.1", Port: 5000},
		"http", nil, state)

	scopeState := scope[envbuild.KeyState].(map[string]any)
	scopeState["k"] = "mutated"

	if state["k"] != "v" {
		t.Error("mutating the scope's state copy must not affect the lifespan state map")
	}
}
