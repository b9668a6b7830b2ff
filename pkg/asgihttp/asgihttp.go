// Package asgihttp drives the event-driven (ASGI-shaped) application
// contract through the HTTP request/response state machine of §4.4.
package asgihttp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/constants"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

// Event type strings exchanged with the application, named the way the
// event-driven contract's message dictionaries are (§4.4).
const (
	EventHTTPRequest   = "http.request"
	EventResponseStart = "http.response.start"
	EventResponseBody  = "http.response.body"
	EventDisconnect    = "http.disconnect"
)

type framing int

const (
	framingUndecided framing = iota
	framingFixed
	framingChunked
)

type state int

const (
	stateIdle state = iota
	stateWaitStart
	stateWaitBody
	stateDone
	stateClosed
)

// handler owns the per-request state machine and the buffered writer used
// to honor the 64 KiB back-pressure high-water mark (§4.4).
type handler struct {
	mu      sync.Mutex
	state   state
	w       *bufio.Writer
	connID  uint64
	framing framing
	status  int
	headers []wire.Header

	headersFlushed bool
	bytesSent      bool
	pending        int // bytes written to w since the last Flush
}

// Run delivers the request to app as a single http.request event, then
// services http.response.start/http.response.body events as the
// application sends them, writing the framed response to w. The request
// body is passed pre-buffered; the second receive call blocks until the
// response completes (or the application returns) and then reports
// http.disconnect, or returns ctx's error if ctx is done first (§4.4).
func Run(ctx context.Context, app appcontract.EventApp, scope envbuild.Scope, body []byte, w io.Writer, connID uint64) error {
	h := &handler{w: bufio.NewWriter(w), connID: connID, state: stateIdle}

	var mu sync.Mutex
	requestDelivered := false
	disconnectCh := make(chan struct{})
	var disconnectOnce sync.Once
	signalDisconnect := func() { disconnectOnce.Do(func() { close(disconnectCh) }) }

	receive := appcontract.Receive(func(ctx context.Context) (appcontract.Event, error) {
		mu.Lock()
		first := !requestDelivered
		requestDelivered = true
		mu.Unlock()

		if first {
			h.mu.Lock()
			h.state = stateWaitStart
			h.mu.Unlock()
			return appcontract.Event{"type": EventHTTPRequest, "body": body, "more_body": false}, nil
		}

		select {
		case <-disconnectCh:
			return appcontract.Event{"type": EventDisconnect}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	send := appcontract.Send(func(ctx context.Context, ev appcontract.Event) error {
		err := h.handleSend(ev)
		h.mu.Lock()
		done := h.state == stateDone
		h.mu.Unlock()
		if done {
			signalDisconnect()
		}
		return err
	})

	appErr := app(ctx, scope, receive, send)
	signalDisconnect()

	if appErr != nil {
		return h.handleAppError(appErr)
	}
	return h.finish()
}

func (h *handler) handleSend(ev appcontract.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	evType, _ := ev["type"].(string)

	switch h.state {
	case stateWaitStart:
		if evType != EventResponseStart {
			h.state = stateClosed
			return errors.NewProtocolError(fmt.Sprintf("expected %s, got %q", EventResponseStart, evType), nil).WithConnID(h.connID)
		}
		return h.onResponseStart(ev)

	case stateWaitBody:
		if evType != EventResponseBody {
			h.state = stateClosed
			return errors.NewProtocolError(fmt.Sprintf("expected %s, got %q", EventResponseBody, evType), nil).WithConnID(h.connID)
		}
		return h.onResponseBody(ev)

	default:
		h.state = stateClosed
		return errors.NewProtocolError(fmt.Sprintf("unexpected send in state %d: %q", h.state, evType), nil).WithConnID(h.connID)
	}
}

func (h *handler) onResponseStart(ev appcontract.Event) error {
	status, _ := ev["status"].(int)
	rawHeaders, _ := ev["headers"].([][2]string)

	h.status = status
	h.headers = toWireHeaders(rawHeaders)
	h.state = stateWaitBody
	return nil
}

func (h *handler) onResponseBody(ev appcontract.Event) error {
	bodyChunk, _ := ev["body"].([]byte)
	moreBody, _ := ev["more_body"].(bool)

	if h.framing == framingUndecided {
		h.decideFraming(len(bodyChunk), moreBody)
		if err := h.flushHeaders(); err != nil {
			return err
		}
	}

	if len(bodyChunk) > 0 {
		if err := h.writeBody(bodyChunk); err != nil {
			return err
		}
		h.bytesSent = true
	}

	if err := h.maybeDrain(); err != nil {
		return err
	}

	if moreBody {
		h.state = stateWaitBody
	} else {
		if h.framing == framingChunked {
			if err := wire.WriteFinalChunk(h.w); err != nil {
				return err
			}
		}
		h.state = stateDone
	}
	return nil
}

// decideFraming picks the framing mode on the first body event (§4.4): fixed
// when the application already set an explicit Content-Length, fixed with a
// server-computed Content-Length when this first event is also the last
// (more_body == false), chunked otherwise.
func (h *handler) decideFraming(firstChunkLen int, moreBody bool) {
	if wire.HasHeader(h.headers, "Content-Length") {
		h.framing = framingFixed
		return
	}
	if !moreBody {
		h.framing = framingFixed
		h.headers = append(h.headers, wire.Header{Name: "Content-Length", Value: fmt.Sprintf("%d", firstChunkLen)})
		return
	}
	h.framing = framingChunked
	h.headers = append(h.headers, wire.Header{Name: "Transfer-Encoding", Value: "chunked"})
}

func (h *handler) flushHeaders() error {
	if h.headersFlushed {
		return nil
	}
	h.headersFlushed = true
	if err := wire.WriteStatusLine(h.w, h.status); err != nil {
		return err
	}
	if err := wire.WriteHeaders(h.w, h.headers); err != nil {
		return err
	}
	return nil
}

func (h *handler) writeBody(chunk []byte) error {
	if h.framing == framingChunked {
		if err := wire.WriteChunk(h.w, chunk); err != nil {
			return err
		}
	} else {
		if _, err := h.w.Write(chunk); err != nil {
			return errors.NewIOError("writing response body", err).WithConnID(h.connID)
		}
	}
	h.pending += len(chunk)
	return nil
}

// maybeDrain flushes the underlying writer once buffered, unflushed bytes
// cross the 64 KiB high-water mark (§4.4).
func (h *handler) maybeDrain() error {
	if h.pending < constants.WriteBackpressureHighWater {
		return nil
	}
	h.pending = 0
	if err := h.w.Flush(); err != nil {
		return errors.NewIOError("draining response buffer", err).WithConnID(h.connID)
	}
	return nil
}

// handleAppError implements the "any state, app raises" row of §4.4: a 500
// if no bytes were sent yet, or a terminating zero-chunk if mid-stream.
func (h *handler) handleAppError(appErr error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	wrapped := errors.NewApplicationError("event-dispatch", appErr).WithConnID(h.connID)
	diag.Component("asgihttp").WithField("conn_id", h.connID).WithField("err", wrapped.Error()).Error("application error")

	if !h.bytesSent && !h.headersFlushed {
		h.state = stateClosed
		body := []byte("Internal Server Error")
		if err := wire.WriteFixedResponse(h.w, 500, []wire.Header{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		}, body); err != nil {
			return err
		}
		if err := h.w.Flush(); err != nil {
			return err
		}
		return wrapped
	}

	if h.framing == framingChunked {
		_ = wire.WriteFinalChunk(h.w)
	}
	h.state = stateClosed
	_ = h.w.Flush()
	return wrapped
}

// finish implements the "Done, app returns" row: drain the writer and
// close out the response.
func (h *handler) finish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = stateClosed
	if err := h.w.Flush(); err != nil {
		return errors.NewIOError("flushing response", err).WithConnID(h.connID)
	}
	return nil
}

func toWireHeaders(headers [][2]string) []wire.Header {
	out := make([]wire.Header, len(headers))
	for i, pair := range headers {
		out[i] = wire.Header{Name: pair[0], Value: pair[1]}
	}
	return out
}
