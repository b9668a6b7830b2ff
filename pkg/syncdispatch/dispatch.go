package syncdispatch

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/appcontract"
	"github.com/WhileEndless/go-rawserve/pkg/diag"
	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

// result is the captured outcome of one synchronous application invocation,
// fully buffered before any bytes reach the connection (§4.3: the server
// controls framing, not the application).
type result struct {
	status  int
	reason  string
	headers []wire.Header
	body    []byte
}

// Dispatch runs app against env under pool's admission control and writes
// the complete, framed response to w. A panic inside the application, or a
// failure to call start-response before returning, is converted into a 500
// response rather than propagated to the connection loop (§4.10).
func Dispatch(ctx context.Context, pool *Pool, app appcontract.SyncApp, env envbuild.Env, w io.Writer, connID uint64) error {
	if err := pool.Acquire(ctx); err != nil {
		return errors.NewIOError("acquiring dispatch slot", err).WithConnID(connID)
	}
	defer pool.Release()

	res, runErr := run(app, env)
	if runErr != nil {
		appErr := errors.NewApplicationError("dispatch", runErr).WithConnID(connID)
		return writeFailureResponse(w, connID, appErr)
	}

	return wire.WriteFixedResponse(w, res.status, res.headers, res.body)
}

// run invokes app, recovering a panic into an error, and drains the
// returned body iterator into memory.
func run(app appcontract.SyncApp, env envbuild.Env) (res *result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()

	res = &result{status: 500, reason: "Internal Server Error"}
	started := false

	start := appcontract.StartResponse(func(status string, headers [][2]string, exc error) error {
		if exc != nil && started {
			// Re-raising after bytes were already sent would be a contract
			// violation in a streaming server; this server always buffers
			// first, so re-raise is accepted and simply overwrites.
		}
		code, reason, perr := parseStatus(status)
		if perr != nil {
			return perr
		}
		res.status = code
		res.reason = reason
		res.headers = toWireHeaders(headers)
		started = true
		return nil
	})

	iter, err := app(env, start)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, fmt.Errorf("application returned without calling start-response")
	}

	var body []byte
	if iter != nil {
		defer iter.Close()
		for {
			chunk, nerr := iter.Next()
			if len(chunk) > 0 {
				body = append(body, chunk...)
			}
			if nerr != nil {
				if nerr == io.EOF {
					break
				}
				return nil, nerr
			}
		}
	}
	res.body = body
	return res, nil
}

// parseStatus splits a "200 OK"-shaped status string into code and reason.
func parseStatus(status string) (int, string, error) {
	parts := strings.SplitN(status, " ", 2)
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid status %q: %w", status, err)
	}
	reason := ""
	if len(parts) == 2 {
		reason = parts[1]
	}
	return code, reason, nil
}

func toWireHeaders(headers [][2]string) []wire.Header {
	out := make([]wire.Header, len(headers))
	for i, h := range headers {
		out[i] = wire.Header{Name: h[0], Value: h[1]}
	}
	return out
}

// writeFailureResponse emits a minimal 500 response when the application
// could not produce one itself. The wrapped error goes to the diagnostic
// sink, never onto the wire (§7).
func writeFailureResponse(w io.Writer, connID uint64, err error) error {
	diag.Component("syncdispatch").WithField("conn_id", connID).WithField("err", err.Error()).Error("application error")
	return wire.WriteFixedResponse(w, 500, []wire.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
	}, []byte("Internal Server Error"))
}
