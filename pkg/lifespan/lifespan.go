// Package lifespan runs the one-shot startup/shutdown protocol described in
// §4.6, exposing a shutdown operation the listener's supervisor invokes
// during graceful shutdown.
package lifespan

import (
	"context"
	"fmt"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/constants"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// Event type strings exchanged with the application (§4.6).
const (
	EventStartup          = "lifespan.startup"
	EventStartupComplete  = "lifespan.startup.complete"
	EventStartupFailed    = "lifespan.startup.failed"
	EventShutdown         = "lifespan.shutdown"
	EventShutdownComplete = "lifespan.shutdown.complete"
	EventShutdownFailed   = "lifespan.shutdown.failed"
)

// Runner drives one application instance through the lifespan protocol for
// the lifetime of the process.
type Runner struct {
	app   appcontract.EventApp
	state map[string]any

	toApp   chan appcontract.Event
	fromApp chan appcontract.Event
	appDone chan error
	started bool
}

// NewRunner builds a lifespan runner. state is the mutable map the
// application populates during startup and which is copied (never
// aliased) into every request scope thereafter (§4.6, §3).
func NewRunner(app appcontract.EventApp, state map[string]any) *Runner {
	if state == nil {
		state = make(map[string]any)
	}
	return &Runner{
		app:     app,
		state:   state,
		toApp:   make(chan appcontract.Event, 1),
		fromApp: make(chan appcontract.Event, 1),
		appDone: make(chan error, 1),
	}
}

// State returns the lifespan-owned state map, passed by reference to the
// application for the duration of the process.
func (r *Runner) State() map[string]any {
	return r.state
}

// Startup runs the application up to lifespan.startup.complete or
// lifespan.startup.failed. A failed startup (or an unhandled panic/error
// from the application) is reported to the caller, who is expected to exit
// the process non-zero (§4.6).
func (r *Runner) Startup(ctx context.Context) error {
	scope := envbuild.Scope{envbuild.KeyType: string(envbuild.ConnLifespan), envbuild.KeyState: r.state}

	receive := appcontract.Receive(func(ctx context.Context) (appcontract.Event, error) {
		select {
		case ev := <-r.toApp:
			return ev, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	send := appcontract.Send(func(ctx context.Context, ev appcontract.Event) error {
		select {
		case r.fromApp <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.appDone <- fmt.Errorf("lifespan application panicked: %v", rec)
				return
			}
		}()
		r.appDone <- r.app(ctx, scope, receive, send)
	}()

	r.toApp <- appcontract.Event{"type": EventStartup}

	select {
	case ev := <-r.fromApp:
		err := r.checkStartup(ev)
		r.started = err == nil
		return err
	case err := <-r.appDone:
		return r.failedStartup(err)
	case <-ctx.Done():
		return errors.NewLifespanError("startup", "context canceled before lifespan.startup.complete")
	}
}

func (r *Runner) checkStartup(ev appcontract.Event) error {
	evType, _ := ev["type"].(string)
	switch evType {
	case EventStartupComplete:
		diag.Component("lifespan").Info("startup complete")
		return nil
	case EventStartupFailed:
		msg, _ := ev["message"].(string)
		diag.Component("lifespan").WithField("message", msg).Error("startup failed")
		return errors.NewLifespanError("startup", msg)
	default:
		return errors.NewLifespanError("startup", fmt.Sprintf("unexpected event %q during startup", evType))
	}
}

// failedStartup implements "any unhandled exception raised by the
// application during startup is treated as lifespan.startup.failed with an
// empty message" (§4.6).
func (r *Runner) failedStartup(appErr error) error {
	if appErr == nil {
		return errors.NewLifespanError("startup", "")
	}
	diag.Component("lifespan").WithField("cause", appErr.Error()).Error("startup failed")
	return errors.NewLifespanError("startup", "")
}

// Shutdown enqueues lifespan.shutdown and awaits completion, bounded by a
// 30-second timeout (§4.6). Safe to call even if Startup was never invoked
// or failed; in that case it returns immediately.
func (r *Runner) Shutdown(ctx context.Context) error {
	if !r.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.LifespanShutdownTimeout)
	defer cancel()

	select {
	case r.toApp <- appcontract.Event{"type": EventShutdown}:
	case <-ctx.Done():
		return errors.NewTimeoutError("lifespan-shutdown", constants.LifespanShutdownTimeout)
	}

	select {
	case ev := <-r.fromApp:
		return r.checkShutdown(ev)
	case err := <-r.appDone:
		if err != nil {
			diag.Component("lifespan").WithField("cause", err.Error()).Error("application exited during shutdown")
		}
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("lifespan-shutdown", constants.LifespanShutdownTimeout)
	}
}

func (r *Runner) checkShutdown(ev appcontract.Event) error {
	evType, _ := ev["type"].(string)
	switch evType {
	case EventShutdownComplete:
		diag.Component("lifespan").Info("shutdown complete")
		return nil
	case EventShutdownFailed:
		msg, _ := ev["message"].(string)
		diag.Component("lifespan").WithField("message", msg).Error("shutdown failed")
		return errors.NewLifespanError("shutdown", msg)
	default:
		return errors.NewLifespanError("shutdown", fmt.Sprintf("unexpected event %q during shutdown", evType))
	}
}
