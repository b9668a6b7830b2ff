// Package constants defines magic numbers and default values shared across
// the server's packages.
package constants

import "time"

// Header and body limits.
const (
	// DefaultMaxHeaderBytes bounds the CRLF-CRLF header block the wire codec
	// will read before giving up on a request as unparseable. Generous by
	// default — the server trusts its upstream proxy.
	DefaultMaxHeaderBytes = 1 * 1024 * 1024 // 1MB

	// MaxStatusLineCacheEntries bounds the StatusLineCache; IANA assigns far
	// fewer than this many status codes in practice.
	MaxStatusLineCacheEntries = 1000

	// MaxContentLength guards against a pathological Content-Length value.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits for the body-spilling buffer.
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB in-memory threshold before spilling to disk
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap on a decoded chunked request body
)

// Back-pressure and pooling.
const (
	// WriteBackpressureHighWater is the write-buffer threshold (§5) above
	// which an event-driven response suspends until drained.
	WriteBackpressureHighWater = 64 * 1024 // 64KiB

	// MaxWorkerPoolSize bounds the sync dispatcher's worker pool regardless
	// of CPU count.
	MaxWorkerPoolSize = 128

	// WorkerPoolPerCPU and WorkerPoolBase compute the default pool size:
	// min(MaxWorkerPoolSize, cpu_count*WorkerPoolPerCPU+WorkerPoolBase).
	WorkerPoolPerCPU = 8
	WorkerPoolBase   = 16
)

// Timeouts.
const (
	// LifespanShutdownTimeout bounds how long the lifespan handler waits for
	// lifespan.shutdown.complete/failed before cancelling and warning.
	LifespanShutdownTimeout = 30 * time.Second

	// DefaultReadTimeout bounds how long the connection loop waits for the
	// next request on a kept-alive connection, including its request body.
	DefaultReadTimeout = 30 * time.Second
)
