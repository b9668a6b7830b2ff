// Package asgiws drives the event-driven application contract through the
// WebSocket handshake and frame exchange of §4.5.
package asgiws

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/wire"
	"github.com/WhileEndless/go-rawserve/pkg/ws"
)

// Event type strings exchanged with the application (§4.5).
const (
	EventConnect    = "websocket.connect"
	EventAccept     = "websocket.accept"
	EventClose      = "websocket.close"
	EventSend       = "websocket.send"
	EventReceive    = "websocket.receive"
	EventDisconnect = "websocket.disconnect"
)

// inboundQueueSize bounds the frame-reader-to-application event queue
// (§4.5: "an in-memory bounded queue").
const inboundQueueSize = 32

// handler owns the handshake and frame-exchange state for one WebSocket
// connection.
type handler struct {
	mu        sync.Mutex
	conn      net.Conn
	w         *bufio.Writer
	connID    uint64
	clientKey string

	accepted bool
	closed   bool

	inbound chan appcontract.Event
}

// Run performs the handshake and services the application's accept/close/
// send events until it returns, then tears down the connection.
func Run(ctx context.Context, app appcontract.EventApp, scope envbuild.Scope, clientKey string, conn net.Conn, connID uint64) error {
	h := &handler{
		conn:      conn,
		w:         bufio.NewWriter(conn),
		connID:    connID,
		clientKey: clientKey,
		inbound:   make(chan appcontract.Event, inboundQueueSize),
	}

	var mu sync.Mutex
	connectDelivered := false

	receive := appcontract.Receive(func(ctx context.Context) (appcontract.Event, error) {
		mu.Lock()
		first := !connectDelivered
		connectDelivered = true
		mu.Unlock()

		if first {
			return appcontract.Event{"type": EventConnect}, nil
		}

		select {
		case ev, ok := <-h.inbound:
			if !ok {
				return appcontract.Event{"type": EventDisconnect, "code": 1006}, nil
			}
			return ev, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	send := appcontract.Send(func(ctx context.Context, ev appcontract.Event) error {
		return h.handleSend(ev)
	})

	appErr := app(ctx, scope, receive, send)
	h.teardown()

	if appErr != nil {
		return errors.NewApplicationError("websocket-dispatch", appErr).WithConnID(connID)
	}
	return nil
}

func (h *handler) handleSend(ev appcontract.Event) error {
	evType, _ := ev["type"].(string)

	switch evType {
	case EventAccept:
		return h.accept(ev)
	case EventClose:
		return h.close(ev)
	case EventSend:
		return h.sendFrame(ev)
	default:
		return errors.NewProtocolError(fmt.Sprintf("unexpected websocket send type %q", evType), nil).WithConnID(h.connID)
	}
}

// accept writes the 101 Switching Protocols handshake response and starts
// the frame-reader task (§4.5).
func (h *handler) accept(ev appcontract.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.accepted || h.closed {
		return errors.NewProtocolError("websocket.accept after accept/close", nil).WithConnID(h.connID)
	}
	h.accepted = true

	subprotocol, _ := ev["subprotocol"].(string)
	extra, _ := ev["headers"].([][2]string)

	headers := []wire.Header{
		{Name: "Upgrade", Value: "websocket"},
		{Name: "Connection", Value: "Upgrade"},
		{Name: "Sec-WebSocket-Accept", Value: ws.AcceptKey(h.clientKey)},
	}
	if subprotocol != "" {
		headers = append(headers, wire.Header{Name: "Sec-WebSocket-Protocol", Value: subprotocol})
	}
	for _, pair := range extra {
		headers = append(headers, wire.Header{Name: pair[0], Value: pair[1]})
	}

	if err := wire.WriteStatusLine(h.w, 101); err != nil {
		return err
	}
	if err := wire.WriteHeaders(h.w, headers); err != nil {
		return err
	}
	if err := h.w.Flush(); err != nil {
		return errors.NewIOError("flushing handshake response", err).WithConnID(h.connID)
	}

	go h.readLoop()
	return nil
}

// close implements both close rows of §4.5: 403 Forbidden before accept, or
// a close frame after accept.
func (h *handler) close(ev appcontract.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	accepted := h.accepted
	h.closed = true

	if !accepted {
		return wire.WriteFixedResponse(h.w, 403, nil, nil)
	}

	code := 1000
	if c, ok := ev["code"].(int); ok {
		code = c
	}
	reason, _ := ev["reason"].(string)

	if err := ws.WriteClose(h.w, uint16(code), reason); err != nil {
		return err
	}
	return h.w.Flush()
}

// sendFrame writes a text or binary frame chosen by the application.
func (h *handler) sendFrame(ev appcontract.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.accepted {
		return errors.NewProtocolError("websocket.send before accept", nil).WithConnID(h.connID)
	}

	if text, ok := ev["text"].(string); ok {
		if err := ws.WriteFrame(h.w, true, ws.OpText, []byte(text)); err != nil {
			return err
		}
		return h.w.Flush()
	}
	if data, ok := ev["bytes"].([]byte); ok {
		if err := ws.WriteFrame(h.w, true, ws.OpBinary, data); err != nil {
			return err
		}
		return h.w.Flush()
	}
	return errors.NewProtocolError("websocket.send without text or bytes", nil).WithConnID(h.connID)
}

// readLoop translates inbound frames into websocket.receive events,
// answers pings with pongs, and emits a single websocket.disconnect event
// on close or I/O failure.
func (h *handler) readLoop() {
	defer close(h.inbound)

	r := bufio.NewReader(h.conn)
	for {
		frame, err := ws.ReadFrame(r)
		if err != nil {
			h.inbound <- appcontract.Event{"type": EventDisconnect, "code": 1006}
			return
		}

		switch frame.Opcode {
		case ws.OpPing:
			h.mu.Lock()
			_ = ws.WriteFrame(h.w, true, ws.OpPong, frame.Payload)
			_ = h.w.Flush()
			h.mu.Unlock()
		case ws.OpPong:
			// no-op; unsolicited pongs are ignored.
		case ws.OpClose:
			code, ok := ws.ParseCloseCode(frame.Payload)
			if !ok {
				code = 1005
			}
			h.inbound <- appcontract.Event{"type": EventDisconnect, "code": int(code)}
			return
		case ws.OpText:
			h.inbound <- appcontract.Event{"type": EventReceive, "text": string(frame.Payload)}
		case ws.OpBinary:
			h.inbound <- appcontract.Event{"type": EventReceive, "bytes": frame.Payload}
		}
	}
}

// teardown closes the underlying connection, unblocking any pending read
// in the frame-reader task (§4.5: "the reader task is cancelled").
func (h *handler) teardown() {
	h.mu.Lock()
	_ = h.w.Flush()
	h.mu.Unlock()
	_ = h.conn.Close()
}
