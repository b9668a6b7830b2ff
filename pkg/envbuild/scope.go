package envbuild

import (
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

// Scope keys for the event-driven application contract, following the ASGI
// naming convention.
const (
	KeyType          = "type"
	KeyASGI          = "asgi"
	KeyHTTPVersion   = "http_version"
	KeyMethod        = "method"
	KeyPath          = "path"
	KeyRawPath       = "raw_path"
	KeyScopeQuery    = "query_string"
	KeyRootPath      = "root_path"
	KeyScheme        = "scheme"
	KeyHeaders       = "headers"
	KeyServer        = "server"
	KeyClient        = "client"
	KeySubprotocols  = "subprotocols"
	KeyState         = "state"
)

// ConnectionType identifies the scope's "type" value.
type ConnectionType string

const (
	ConnHTTP      ConnectionType = "http"
	ConnWebSocket ConnectionType = "websocket"
	ConnLifespan  ConnectionType = "lifespan"
)

// Scope is the event-driven application's per-request metadata mapping.
type Scope map[string]any

// HostPort is a (host, port) pair as exposed in the scope's server/client
// tuples.
type HostPort struct {
	Host string
	Port int
}

// BuildScope builds the ASGI-shaped scope for req. subprotocols is only
// meaningful (and non-nil) for WebSocket connections. state is a snapshot
// (shallow copy) of the lifespan-contributed state map (§3 — never aliased
// into a request scope).
func BuildScope(connType ConnectionType, req *wire.ParsedRequest, server, client HostPort, scheme string, subprotocols []string, state map[string]any) Scope {
	httpVersion := numericHTTPVersion(req.Version)

	scope := Scope{
		KeyType: string(connType),
		KeyASGI: map[string]string{
			"version":      "3.0",
			"spec_version": "2.3",
		},
		KeyHTTPVersion: httpVersion,
		KeyMethod:      req.Method,
		KeyPath:        req.PathDecoded,
		KeyRawPath:     append([]byte(nil), req.PathRaw...),
		KeyScopeQuery:  append([]byte(nil), req.Query...),
		KeyRootPath:    "",
		KeyScheme:      scheme,
		KeyHeaders:     rawHeaderPairs(req.Headers),
		KeyServer:      [2]any{server.Host, server.Port},
		KeyClient:      [2]any{client.Host, client.Port},
		KeyState:       copyState(state),
	}

	if connType == ConnWebSocket {
		scope[KeySubprotocols] = subprotocols
	}

	return scope
}

// numericHTTPVersion strips the "HTTP/" prefix, per §3 ("the numeric
// portion only, e.g. 1.1").
func numericHTTPVersion(version string) string {
	return strings.TrimPrefix(version, "HTTP/")
}

func rawHeaderPairs(headers []wire.HeaderField) [][2][]byte {
	pairs := make([][2][]byte, len(headers))
	for i, h := range headers {
		pairs[i] = [2][]byte{h.Name, h.Value}
	}
	return pairs
}

// copyState returns a shallow copy of state: a snapshot, never an alias,
// per the lifespan contract (§4.6, §9).
func copyState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
