// Package envbuild translates a parsed wire request into the two
// application-facing shapes: the synchronous (WSGI-shaped) environment
// mapping and the event-driven (ASGI-shaped) scope mapping.
package envbuild

import (
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

// Env keys for the synchronous application contract, following the WSGI
// naming convention the original application contract is shaped after.
const (
	KeyRequestMethod  = "REQUEST_METHOD"
	KeyScriptName     = "SCRIPT_NAME"
	KeyPathInfo       = "PATH_INFO"
	KeyQueryString    = "QUERY_STRING"
	KeyServerName     = "SERVER_NAME"
	KeyServerPort     = "SERVER_PORT"
	KeyServerProtocol = "SERVER_PROTOCOL"
	KeyRemoteAddr     = "REMOTE_ADDR"
	KeyURLScheme      = "wsgi.url_scheme"
	KeyInput          = "wsgi.input"
	KeyErrors         = "wsgi.errors"
	KeyContentType    = "CONTENT_TYPE"
	KeyContentLength  = "CONTENT_LENGTH"
)

// Env is the synchronous application's environment mapping.
type Env map[string]any

// DiagnosticSink is the minimal surface the environment builder needs from
// the diagnostic sink (pkg/diag provides the concrete logrus-backed type).
type DiagnosticSink interface {
	io.Writer
}

// ConnMeta carries the per-connection metadata the environment/scope
// builders need but which the wire codec does not parse (remote address,
// negotiated scheme).
type ConnMeta struct {
	ServerDefaultPort string // "80" for http
	Scheme            string // "http"
	RemoteAddr        string // "127.0.0.1" — the server trusts its upstream proxy
}

// BuildSyncEnv builds the WSGI-shaped environment for req.
func BuildSyncEnv(req *wire.ParsedRequest, conn ConnMeta, errSink DiagnosticSink) (Env, error) {
	bodyStream, err := req.Body.ReadSeeker()
	if err != nil {
		return nil, err
	}

	host, port, err := ParseHost(hostHeaderOrDefault(req), conn.ServerDefaultPort)
	if err != nil {
		host, port = "localhost", "80"
	}

	env := Env{
		KeyRequestMethod:  req.Method,
		KeyScriptName:     "",
		KeyPathInfo:       req.PathDecoded,
		KeyQueryString:    string(req.Query),
		KeyServerName:     host,
		KeyServerPort:     port,
		KeyServerProtocol: req.Version,
		KeyRemoteAddr:     conn.RemoteAddr,
		KeyURLScheme:      conn.Scheme,
		KeyInput:          bodyStream,
		KeyErrors:         errSink,
	}

	translateHeaders(req.Headers, env)

	return env, nil
}

func hostHeaderOrDefault(req *wire.ParsedRequest) string {
	if h, ok := req.Header("host"); ok {
		return h
	}
	return "localhost:80"
}

// translateHeaders applies the header-translation rules of §3: Content-Type
// and Content-Length are surfaced unprefixed; Proxy is dropped (httpoxy);
// duplicates join with ", " except Cookie, which joins with "; ";
// everything else becomes HTTP_<UPPER_SNAKE_NAME>.
func translateHeaders(headers []wire.HeaderField, env Env) {
	joined := make(map[string][]string)
	order := make([]string, 0, len(headers))

	for _, h := range headers {
		name := string(h.Name)
		if name == "proxy" {
			continue // httpoxy defense
		}
		if _, seen := joined[name]; !seen {
			order = append(order, name)
		}
		joined[name] = append(joined[name], string(h.Value))
	}

	for _, name := range order {
		values := joined[name]

		switch name {
		case "content-type":
			env[KeyContentType] = strings.Join(values, ", ")
			continue
		case "content-length":
			env[KeyContentLength] = strings.Join(values, ", ")
			continue
		}

		sep := ", "
		if name == "cookie" {
			sep = "; "
		}

		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env[key] = strings.Join(values, sep)
	}
}

// ContentLengthInt returns the parsed Content-Length, or 0 if absent/invalid.
func ContentLengthInt(env Env) int64 {
	v, ok := env[KeyContentLength]
	if !ok {
		return 0
	}
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
