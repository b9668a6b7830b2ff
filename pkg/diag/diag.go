// Package diag provides the server's diagnostic sink: a structured logrus
// logger surfaced to applications as the "diagnostic-output sink" key in
// the synchronous environment, and used internally for component-level
// error logging (§4.9).
package diag

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Logger returns the process-wide diagnostic logger, configuring it for
// plain-text stderr output on first use.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	})
	return logger
}

// Component returns a logger bound to component, for per-package use
// (e.g. diag.Component("connloop")).
func Component(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

// Sink is an io.Writer that forwards writes to the diagnostic logger as a
// single log entry per write, satisfying the synchronous contract's
// wsgi.errors-equivalent requirement. Bound to one connection/request for
// the lifetime of that request.
type Sink struct {
	entry *logrus.Entry
}

// NewSink builds a request-scoped diagnostic sink.
func NewSink(connID uint64, method, path string) *Sink {
	return &Sink{entry: Component("request").WithFields(logrus.Fields{
		"conn_id": connID,
		"method":  method,
		"path":    path,
	})}
}

// Write implements io.Writer, logging each write as an error-level entry.
func (s *Sink) Write(p []byte) (int, error) {
	s.entry.Error(string(p))
	return len(p), nil
}

var _ io.Writer = (*Sink)(nil)
