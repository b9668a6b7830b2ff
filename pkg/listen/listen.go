// Package listen binds the rendezvous socket and runs the accept loop and
// graceful-shutdown supervisor described in §4.8.
package listen

import (
	"context"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/WhileEndless/go-rawserve/pkg/connloop"
	"github.com/WhileEndless/go-rawserve/pkg/constants"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/lifespan"
)

// Rendezvous binds the configured rendezvous path: a filesystem stream
// socket where the platform supports one (unlinking any stale entry
// first), otherwise a loopback TCP listener whose chosen port is written
// as decimal ASCII into a file at path (§4.8, §6).
type Rendezvous struct {
	ln   net.Listener
	path string
}

// Bind opens the rendezvous listener at path.
func Bind(path string) (*Rendezvous, error) {
	if supportsFilesystemSockets() {
		_ = os.Remove(path) // unlink any stale socket entry
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, errors.NewIOError("binding filesystem socket", err)
		}
		return &Rendezvous{ln: ln, path: path}, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.NewIOError("binding loopback TCP listener", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)), 0o600); err != nil {
		ln.Close()
		return nil, errors.NewIOError("writing rendezvous port file", err)
	}
	return &Rendezvous{ln: ln, path: path}, nil
}

func supportsFilesystemSockets() bool {
	return runtime.GOOS != "windows"
}

// Close stops accepting and unlinks the rendezvous path (the socket itself
// when a filesystem socket was bound, the port-rendezvous file otherwise).
func (r *Rendezvous) Close() error {
	err := r.ln.Close()
	_ = os.Remove(r.path)
	return err
}

// Supervisor owns the accept loop and coordinates graceful shutdown: it
// stops accepting, waits for in-flight connections, runs the lifespan
// shutdown hook (if any), and unlinks the rendezvous socket (§4.8).
type Supervisor struct {
	Rendezvous *Rendezvous
	Server     *connloop.Server
	Lifespan   *lifespan.Runner // nil when lifespan is disabled

	connID atomic.Uint64
	conns  sync.WaitGroup
}

// Run accepts connections until ctx is cancelled (the caller is expected
// to cancel ctx on a terminate/interrupt signal), then performs the
// shutdown sequence.
func (s *Supervisor) Run(ctx context.Context) error {
	log := diag.Component("listen")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return s.Rendezvous.ln.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})

	runErr := g.Wait()

	s.conns.Wait() // let in-flight connections finish before tearing anything down

	if s.Lifespan != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.LifespanShutdownTimeout)
		defer cancel()
		if err := s.Lifespan.Shutdown(shutdownCtx); err != nil {
			log.WithField("err", err.Error()).Error("lifespan shutdown failed")
		}
	}

	if err := s.Rendezvous.Close(); err != nil {
		log.WithField("err", err.Error()).Debug("closing rendezvous listener")
	}

	if runErr != nil && gctx.Err() != nil {
		// Shutdown was requested; the close-triggered Accept error is
		// expected, not a failure to report upward.
		return nil
	}
	return runErr
}

func (s *Supervisor) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.Rendezvous.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewIOError("accepting connection", err)
		}
		id := s.connID.Add(1)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.Server.Handle(ctx, conn, id)
		}()
	}
}
