package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/asgihttp"
	"github.com/WhileEndless/go-rawserve/pkg/connloop"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/lifespan"
	"github.com/WhileEndless/go-rawserve/pkg/listen"
	"github.com/WhileEndless/go-rawserve/pkg/syncdispatch"
)

func main() {
	var rendezvousPath string
	var iface string
	var enableLifespan bool

	root := &cobra.Command{
		Use:   "rawserve",
		Short: "Demo launcher for the dual-contract HTTP/WebSocket server core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), rendezvousPath, iface, enableLifespan)
		},
	}

	root.Flags().StringVar(&rendezvousPath, "rendezvous", "/tmp/rawserve.sock", "rendezvous socket path")
	root.Flags().StringVar(&iface, "interface", "sync", "application interface: sync or event")
	root.Flags().BoolVar(&enableLifespan, "lifespan", false, "run the event-driven lifespan protocol at startup/shutdown")

	if err := root.Execute(); err != nil {
		diag.Component("cmd").WithField("err", err.Error()).Error("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, rendezvousPath, iface string, enableLifespan bool) error {
	app, lifespanApp := demoApplications(iface)

	rv, err := listen.Bind(rendezvousPath)
	if err != nil {
		return err
	}

	var lifespanRunner *lifespan.Runner
	if enableLifespan {
		lifespanRunner = lifespan.NewRunner(lifespanApp, make(map[string]any))
		if err := lifespanRunner.Startup(ctx); err != nil {
			diag.Component("cmd").WithField("err", err.Error()).Error("lifespan startup failed")
			os.Exit(1)
		}
	}

	stateFunc := func() map[string]any {
		if lifespanRunner == nil {
			return nil
		}
		return lifespanRunner.State()
	}

	server := &connloop.Server{
		App:        app,
		Pool:       syncdispatch.NewPool(),
		ServerHost: "localhost",
		ServerPort: 80,
		Scheme:     "http",
		StateFunc:  stateFunc,
	}

	sup := &listen.Supervisor{Rendezvous: rv, Server: server, Lifespan: lifespanRunner}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	diag.Component("cmd").WithField("rendezvous", rendezvousPath).Info("listening")
	return sup.Run(sigCtx)
}

// demoApplications builds the WSGI-shaped "hello world" or the ASGI-shaped
// echo application selected by iface (§4.11), plus the event-driven
// lifespan application exercised when --lifespan is set.
func demoApplications(iface string) (appcontract.Application, appcontract.EventApp) {
	if iface == "event" {
		return appcontract.Application{Kind: appcontract.KindEventDriven, Event: echoEventApp}, demoLifespanApp
	}
	return appcontract.Application{Kind: appcontract.KindSync, Sync: helloWorldSyncApp}, demoLifespanApp
}

func helloWorldSyncApp(env envbuild.Env, start appcontract.StartResponse) (appcontract.BodyIter, error) {
	body := []byte(fmt.Sprintf("hello from %v %v\n", env[envbuild.KeyRequestMethod], env[envbuild.KeyPathInfo]))
	if err := start("200 OK", [][2]string{{"Content-Type", "text/plain; charset=utf-8"}}, nil); err != nil {
		return nil, err
	}
	return appcontract.NewSliceBodyIter([][]byte{body}), nil
}

func echoEventApp(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
	ev, err := receive(ctx)
	if err != nil {
		return err
	}
	body, _ := ev["body"].([]byte)
	if len(body) == 0 {
		body = []byte(fmt.Sprintf("echo %v %v\n", scope[envbuild.KeyMethod], scope[envbuild.KeyPath]))
	}

	if err := send(ctx, appcontract.Event{
		"type":    asgihttp.EventResponseStart,
		"status":  200,
		"headers": [][2]string{{"Content-Length", fmt.Sprintf("%d", len(body))}, {"Content-Type", "text/plain; charset=utf-8"}},
	}); err != nil {
		return err
	}
	if err := send(ctx, appcontract.Event{"type": asgihttp.EventResponseBody, "body": body, "more_body": false}); err != nil {
		return err
	}
	_, err = receive(ctx)
	return err
}

func demoLifespanApp(ctx context.Context, scope envbuild.Scope, receive appcontract.Receive, send appcontract.Send) error {
	for {
		ev, err := receive(ctx)
		if err != nil {
			return err
		}
		switch ev["type"] {
		case lifespan.EventStartup:
			if state, ok := scope[envbuild.KeyState].(map[string]any); ok {
				state["started_at"] = "now"
			}
			if err := send(ctx, appcontract.Event{"type": lifespan.EventStartupComplete}); err != nil {
				return err
			}
		case lifespan.EventShutdown:
			return send(ctx, appcontract.Event{"type": lifespan.EventShutdownComplete})
		}
	}
}
