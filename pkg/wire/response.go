package wire

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// Header is a single verbatim response header: name and value are written
// exactly as supplied by the application (§4.1 — "verbatim name and value").
type Header struct {
	Name  string
	Value string
}

// HasHeader reports whether headers contains name, case-insensitively.
func HasHeader(headers []Header, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

// WriteStatusLine writes the pre-encoded status line for code using the
// process-wide StatusLineCache.
func WriteStatusLine(w io.Writer, code int) error {
	if _, err := w.Write(DefaultStatusLineCache().Line(code)); err != nil {
		return errors.NewIOError("writing status line", err)
	}
	return nil
}

// WriteHeaders writes each header as "name: value\r\n", then the empty line
// terminating the header block.
func WriteHeaders(w io.Writer, headers []Header) error {
	for _, h := range headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return errors.NewIOError("writing response header", err)
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return errors.NewIOError("writing header terminator", err)
	}
	return nil
}

// WriteFixedResponse writes a complete response whose whole body is already
// buffered (§4.1, §4.3). It adds a Content-Length for that body unless
// headers already carry a Content-Length or a Transfer-Encoding; in the
// latter case the body is written as given, without further framing.
func WriteFixedResponse(w io.Writer, code int, headers []Header, body []byte) error {
	if err := WriteStatusLine(w, code); err != nil {
		return err
	}

	out := headers
	if !HasHeader(headers, "Content-Length") && !HasHeader(headers, "Transfer-Encoding") {
		out = append(append([]Header{}, headers...), Header{Name: "Content-Length", Value: strconv.Itoa(len(body))})
	}

	if err := WriteHeaders(w, out); err != nil {
		return err
	}

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errors.NewIOError("writing response body", err)
		}
	}
	return nil
}

// WriteChunk writes one chunked-encoding fragment: "<hex-len>\r\n<bytes>\r\n".
// Empty fragments are not written, per §4.1.
func WriteChunk(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%x\r\n", len(data)); err != nil {
		return errors.NewIOError("writing chunk size", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.NewIOError("writing chunk body", err)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return errors.NewIOError("writing chunk terminator", err)
	}
	return nil
}

// WriteFinalChunk writes the terminating zero-size chunk.
func WriteFinalChunk(w io.Writer) error {
	if _, err := io.WriteString(w, "0\r\n\r\n"); err != nil {
		return errors.NewIOError("writing final chunk", err)
	}
	return nil
}
