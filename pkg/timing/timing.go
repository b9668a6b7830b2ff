// Package timing provides performance measurement utilities for requests
// flowing through the server.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures detailed timing information for a single request.
type Metrics struct {
	// HeaderRead is the time spent reading the request: request line,
	// headers, and the body the wire codec buffers along with them.
	HeaderRead time.Duration `json:"header_read"`

	// BodyRead is the time spent copying the buffered request body out for
	// an event-driven application.
	BodyRead time.Duration `json:"body_read"`

	// Dispatch is the time spent handling the request once read: worker-pool
	// admission (sync contracts), the application, and the response write.
	// It includes AppTime.
	Dispatch time.Duration `json:"dispatch"`

	// AppTime is the time spent inside the application callable.
	AppTime time.Duration `json:"app_time"`

	// TotalTime is the total end-to-end request time.
	TotalTime time.Duration `json:"total_time"`
}

// Timer helps measure request timings as a connection moves through the
// wire codec, dispatcher, and application.
type Timer struct {
	start         time.Time
	headerStart   time.Time
	headerEnd     time.Time
	bodyStart     time.Time
	bodyEnd       time.Time
	dispatchStart time.Time
	dispatchEnd   time.Time
	appStart      time.Time
	appEnd        time.Time
}

// NewTimer creates a new timing measurement session, starting the clock now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHeaderRead marks the beginning of the header read.
func (t *Timer) StartHeaderRead() { t.headerStart = time.Now() }

// EndHeaderRead marks the end of the header read.
func (t *Timer) EndHeaderRead() { t.headerEnd = time.Now() }

// StartBodyRead marks the beginning of the body read.
func (t *Timer) StartBodyRead() { t.bodyStart = time.Now() }

// EndBodyRead marks the end of the body read.
func (t *Timer) EndBodyRead() { t.bodyEnd = time.Now() }

// StartDispatch marks when a request is handed to its handler.
func (t *Timer) StartDispatch() { t.dispatchStart = time.Now() }

// EndDispatch marks when the handler has finished with the request.
func (t *Timer) EndDispatch() { t.dispatchEnd = time.Now() }

// StartApp marks when the application callable is invoked.
func (t *Timer) StartApp() { t.appStart = time.Now() }

// EndApp marks when the application callable returns.
func (t *Timer) EndApp() { t.appEnd = time.Now() }

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.headerStart.IsZero() && !t.headerEnd.IsZero() {
		m.HeaderRead = t.headerEnd.Sub(t.headerStart)
	}
	if !t.bodyStart.IsZero() && !t.bodyEnd.IsZero() {
		m.BodyRead = t.bodyEnd.Sub(t.bodyStart)
	}
	if !t.dispatchStart.IsZero() && !t.dispatchEnd.IsZero() {
		m.Dispatch = t.dispatchEnd.Sub(t.dispatchStart)
	}
	if !t.appStart.IsZero() && !t.appEnd.IsZero() {
		m.AppTime = t.appEnd.Sub(t.appStart)
	}

	return m
}

// String provides a human-readable representation of the metrics, suitable
// for the diagnostic sink.
func (m Metrics) String() string {
	return fmt.Sprintf("HeaderRead: %v, BodyRead: %v, Dispatch: %v, AppTime: %v, TotalTime: %v",
		m.HeaderRead, m.BodyRead, m.Dispatch, m.AppTime, m.TotalTime)
}
