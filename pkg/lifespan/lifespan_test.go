package lifespan_test

import (
	"context"
	"testing"
	"time"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/lifespan"
)

func TestStartupAndShutdownSuccess(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		state := scope[envbuild.KeyState].(map[string]any)
		for {
			ev, err := receive(ctx)
			if err != nil {
				return err
			}
			switch ev["type"] {
			case lifespan.EventStartup:
				state["db"] = "connected"
				if err := send(ctx, appcontract.Event{"type": lifespan.EventStartupComplete}); err != nil {
					return err
				}
			case lifespan.EventShutdown:
				return send(ctx, appcontract.Event{"type": lifespan.EventShutdownComplete})
			}
		}
	}

	state := map[string]any{}
	runner := lifespan.NewRunner(app, state)

	if err := runner.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if state["db"] != "connected" {
		t.Errorf("expected startup to populate state, got %v", state)
	}
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestStartupFailed(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		return send(ctx, appcontract.Event{"type": lifespan.EventStartupFailed, "message": "db unreachable"})
	}

	runner := lifespan.NewRunner(app, nil)
	if err := runner.Startup(context.Background()); err == nil {
		t.Fatal("expected Startup to return an error")
	}
}

func TestStartupUnhandledErrorTreatedAsFailed(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		receive(ctx)
		panic("boom")
	}

	runner := lifespan.NewRunner(app, nil)
	if err := runner.Startup(context.Background()); err == nil {
		t.Fatal("expected Startup to return an error after application panic")
	}
}

func TestShutdownWithoutStartupIsNoop(t *testing.T) {
	app := func(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
		return nil
	}
	runner := lifespan.NewRunner(app, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown without Startup should be a no-op: %v", err)
	}
}
