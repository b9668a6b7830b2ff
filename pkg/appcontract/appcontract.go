// Package appcontract defines the two application contracts the server
// dispatches to: a synchronous request/response contract (WSGI-shaped) and
// an event-driven contract exchanging typed messages (ASGI-shaped). The two
// differ in synchrony, not just shape, so they are represented as a tagged
// variant rather than emulating one atop the other (§9).
package appcontract

import (
	"context"
	"io"

	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
)

// Kind identifies which contract an Application implements.
type Kind int

const (
	KindSync Kind = iota
	KindEventDriven
)

// StartResponse is the synchronous contract's response-initiation callback.
// Calling it a second time is only meaningful when exc is non-nil and the
// response has not yet begun emitting bytes (§4.3); in this server the
// whole response is always buffered before emission, so that re-raise path
// is always legal but a no-op in practice.
type StartResponse func(status string, headers [][2]string, exc error) error

// BodyIter iterates the body chunks a synchronous application returns.
// Next returns io.EOF once exhausted. Close is invoked best-effort if the
// producer needs to release resources (§4.3).
type BodyIter interface {
	Next() ([]byte, error)
	Close() error
}

// SliceBodyIter adapts a pre-built slice of chunks to BodyIter, for
// applications that already have the whole body in memory.
type SliceBodyIter struct {
	chunks [][]byte
	pos    int
}

// NewSliceBodyIter wraps chunks as a BodyIter.
func NewSliceBodyIter(chunks [][]byte) *SliceBodyIter {
	return &SliceBodyIter{chunks: chunks}
}

// Next returns the next chunk, or io.EOF when exhausted.
func (s *SliceBodyIter) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

// Close is a no-op for SliceBodyIter.
func (s *SliceBodyIter) Close() error { return nil }

// SyncApp is the synchronous (WSGI-shaped) application contract: given an
// environment mapping and a response-start callback, return an iterable of
// body chunks.
type SyncApp func(env envbuild.Env, start StartResponse) (BodyIter, error)

// EventType identifies the "type" field of an event-driven message.
type EventType string

// Event is a typed event-driven message, keyed the way the ASGI message
// dictionaries are (§4 throughout).
type Event map[string]any

// Receive is the event-driven contract's receive callable.
type Receive func(ctx context.Context) (Event, error)

// Send is the event-driven contract's send callable.
type Send func(ctx context.Context, ev Event) error

// EventApp is the event-driven (ASGI-shaped) application contract: given a
// scope, a receive callable, and a send callable, exchange typed event
// messages until the request (or lifespan) concludes.
type EventApp func(ctx context.Context, scope envbuild.Scope, receive Receive, send Send) error

// Application is the tagged variant selected once at startup via the
// interface selector (§6, §9) — the connection loop never tries to emulate
// one contract atop the other.
type Application struct {
	Kind  Kind
	Sync  SyncApp
	Event EventApp
}
