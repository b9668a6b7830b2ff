// Package connloop drives the per-connection request loop of §4.7: read a
// request, classify it, dispatch to the synchronous handler, the
// event-driven HTTP handler, or the WebSocket handler, then decide whether
// to keep the connection alive.
package connloop

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/asgihttp"
	"github.com/WhileEndless/go-rawserve/pkg/asgiws"
	"github.com/WhileEndless/go-rawserve/pkg/constants"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/syncdispatch"
	"github.com/WhileEndless/go-rawserve/pkg/timing"
	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

// Server bundles what the connection loop needs to dispatch a request: the
// selected application (§9's tagged variant), the synchronous dispatcher's
// worker pool, and a way to snapshot the lifespan-contributed state map
// into each request scope.
type Server struct {
	App        appcontract.Application
	Pool       *syncdispatch.Pool
	ServerHost string
	ServerPort int
	Scheme     string
	StateFunc  func() map[string]any
}

// Handle runs the connection loop for conn until the peer disconnects, a
// WebSocket upgrade terminates it, or an I/O error occurs (§4.7).
func (s *Server) Handle(ctx context.Context, conn net.Conn, connID uint64) {
	defer conn.Close()
	log := diag.Component("connloop").WithField("conn_id", connID)

	reader := bufio.NewReader(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(constants.DefaultReadTimeout)); err != nil {
			log.WithField("err", err.Error()).Debug("setting read deadline")
		}

		timer := timing.NewTimer()
		timer.StartHeaderRead()
		req, err := wire.ReadRequest(reader, constants.DefaultMaxHeaderBytes)
		timer.EndHeaderRead()
		if err != nil {
			log.WithField("err", err.Error()).Debug("malformed request, closing connection")
			return
		}
		if req == nil {
			return // clean EOF
		}

		// The read-timeout bounds reading the next request as a whole:
		// wire.ReadRequest reads the request line, headers and body before
		// returning. Dispatch and the application are not subject to it.
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			log.WithField("err", err.Error()).Debug("clearing read deadline")
		}

		if isWebSocketUpgrade(req) {
			timer.StartApp()
			s.handleWebSocket(ctx, conn, req, connID, log)
			timer.EndApp()
			log.WithField("metrics", timer.GetMetrics().String()).Debug("websocket session closed")
			return
		}

		timer.StartDispatch()
		keepAlive, herr := s.handleHTTP(ctx, conn, req, connID, timer)
		timer.EndDispatch()
		req.Body.Close()
		log.WithField("path", req.PathDecoded).WithField("metrics", timer.GetMetrics().String()).Debug("request handled")
		if herr != nil {
			log.WithField("err", herr.Error()).Debug("connection-level error, closing")
			return
		}
		if !keepAlive {
			return
		}
	}
}

// isWebSocketUpgrade classifies a request per §4.7: GET, an Upgrade header
// equal to "websocket" (case-insensitive), and a Connection header whose
// token list contains "upgrade" (case-insensitive).
func isWebSocketUpgrade(req *wire.ParsedRequest) bool {
	if req.Method != "GET" {
		return false
	}
	upgrade, ok := req.Header("upgrade")
	if !ok || !strings.EqualFold(upgrade, "websocket") {
		return false
	}
	connection, ok := req.Header("connection")
	if !ok {
		return false
	}
	return httpguts.HeaderValuesContainsToken([]string{connection}, "upgrade")
}

func (s *Server) handleWebSocket(ctx context.Context, conn net.Conn, req *wire.ParsedRequest, connID uint64, log *logrus.Entry) {
	clientKey, _ := req.Header("sec-websocket-key")
	subprotocols := splitSubprotocols(req)

	server, client := s.peerAddrs(conn)
	scope := envbuild.BuildScope(envbuild.ConnWebSocket, req, server, client, wsScheme(s.Scheme), subprotocols, s.StateFunc())

	if err := asgiws.Run(ctx, s.App.Event, scope, clientKey, conn, connID); err != nil {
		log.WithField("err", err.Error()).Debug("websocket session ended with error")
	}
}

func (s *Server) handleHTTP(ctx context.Context, conn net.Conn, req *wire.ParsedRequest, connID uint64, timer *timing.Timer) (keepAlive bool, err error) {
	switch s.App.Kind {
	case appcontract.KindSync:
		err = s.dispatchSync(ctx, conn, req, connID, timer)
	default:
		err = s.dispatchEvent(ctx, conn, req, connID, timer)
	}
	if err != nil {
		return false, err
	}
	return !requestsClose(req), nil
}

func (s *Server) dispatchSync(ctx context.Context, conn net.Conn, req *wire.ParsedRequest, connID uint64, timer *timing.Timer) error {
	connMeta := envbuild.ConnMeta{
		ServerDefaultPort: strconv.Itoa(s.ServerPort),
		Scheme:            s.Scheme,
		RemoteAddr:        "127.0.0.1", // the server trusts its upstream proxy (§3)
	}
	env, err := envbuild.BuildSyncEnv(req, connMeta, diag.NewSink(connID, req.Method, req.PathDecoded))
	if err != nil {
		return err
	}
	timer.StartApp()
	defer timer.EndApp()
	return syncdispatch.Dispatch(ctx, s.Pool, s.App.Sync, env, conn, connID)
}

func (s *Server) dispatchEvent(ctx context.Context, conn net.Conn, req *wire.ParsedRequest, connID uint64, timer *timing.Timer) error {
	server, client := s.peerAddrs(conn)
	scope := envbuild.BuildScope(envbuild.ConnHTTP, req, server, client, s.Scheme, nil, s.StateFunc())

	bodyReader, err := req.Body.Reader()
	if err != nil {
		return err
	}
	defer bodyReader.Close()

	timer.StartBodyRead()
	body := make([]byte, req.Body.Size())
	if len(body) > 0 {
		if _, err := io.ReadFull(bodyReader, body); err != nil {
			return err
		}
	}
	timer.EndBodyRead()

	timer.StartApp()
	defer timer.EndApp()
	return asgihttp.Run(ctx, s.App.Event, scope, body, conn, connID)
}

// requestsClose reports whether the request asked the connection to be
// closed after this response, per the Connection header (§4.7).
func requestsClose(req *wire.ParsedRequest) bool {
	connection, ok := req.Header("connection")
	if !ok {
		return false
	}
	return httpguts.HeaderValuesContainsToken([]string{connection}, "close")
}

func splitSubprotocols(req *wire.ParsedRequest) []string {
	raw, ok := req.Header("sec-websocket-protocol")
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func wsScheme(httpScheme string) string {
	if httpScheme == "https" {
		return "wss"
	}
	return "ws"
}

func (s *Server) peerAddrs(conn net.Conn) (server, client envbuild.HostPort) {
	server = envbuild.HostPort{Host: s.ServerHost, Port: s.ServerPort}
	client = envbuild.HostPort{Host: remoteHost(conn), Port: remotePort(conn)}
	return server, client
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func remotePort(conn net.Conn) int {
	_, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}
