// Package wire implements the HTTP/1.1 wire protocol: request parsing,
// response framing, and chunked transfer-encoding.
package wire

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/buffer"
	"github.com/WhileEndless/go-rawserve/pkg/constants"
	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// HeaderField is a single header line, preserved in request order with the
// name lowercased. Spec invariant: original casing is never preserved.
type HeaderField struct {
	Name  []byte
	Value []byte
}

// ParsedRequest is produced by ReadRequest for a single HTTP/1.1 request.
// Its lifetime is one request: the caller must Close the Body buffer once
// the response has been written.
type ParsedRequest struct {
	Method      string
	PathRaw     []byte
	PathDecoded string
	Query       []byte
	Version     string // e.g. "HTTP/1.1"

	Headers []HeaderField
	lookup  map[string][]byte // lowercased name -> last value

	Body *buffer.Buffer
}

// Header returns the last value seen for a lowercased header name, and
// whether it was present at all.
func (p *ParsedRequest) Header(lowerName string) (string, bool) {
	v, ok := p.lookup[lowerName]
	if !ok {
		return "", false
	}
	return string(v), true
}

// ReadRequest reads and parses a single HTTP/1.1 request from r, bounding
// the request-line-plus-header block at maxHeaderBytes. It returns
// (nil, nil) on a clean EOF before any bytes were read (§4.1), and a
// malformed-request error for anything else unparseable.
func ReadRequest(r *bufio.Reader, maxHeaderBytes int) (*ParsedRequest, error) {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = constants.DefaultMaxHeaderBytes
	}

	total := 0

	line, err := readCRLFLine(r)
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, nil
		}
		return nil, errors.NewMalformedRequestError("reading request line", err)
	}
	total += len(line) + 2
	if total > maxHeaderBytes {
		return nil, errors.NewMalformedRequestError("request line exceeds maximum size", nil)
	}

	method, rawPath, version, ok := splitRequestLine(line)
	if !ok {
		return nil, errors.NewMalformedRequestError("malformed request line", nil)
	}

	pathBytes, queryBytes := splitPathQuery(rawPath)
	decodedPath, err := url.PathUnescape(string(pathBytes))
	if err != nil {
		return nil, errors.NewMalformedRequestError("invalid percent-encoding in path", err)
	}

	headers, lookup, headerBytes, err := readHeaders(r, maxHeaderBytes-total)
	if err != nil {
		return nil, err
	}
	total += headerBytes

	req := &ParsedRequest{
		Method:      method,
		PathRaw:     pathBytes,
		PathDecoded: decodedPath,
		Query:       queryBytes,
		Version:     version,
		Headers:     headers,
		lookup:      lookup,
	}

	body, err := readBody(r, lookup)
	if err != nil {
		return nil, err
	}
	req.Body = body

	return req, nil
}

// readCRLFLine reads one line, stripping a trailing CRLF (or bare LF).
func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return strings.TrimRight(line, "\r\n"), err
	}
	if len(line) >= 2 && line[len(line)-2] == '\r' {
		return line[:len(line)-2], nil
	}
	return line[:len(line)-1], nil
}

func splitRequestLine(line string) (method, rawPath, version string, ok bool) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", "", false
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func splitPathQuery(rawPath string) (path, query []byte) {
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		return []byte(rawPath[:idx]), []byte(rawPath[idx+1:])
	}
	return []byte(rawPath), nil
}

func readHeaders(r *bufio.Reader, budget int) ([]HeaderField, map[string][]byte, int, error) {
	var headers []HeaderField
	lookup := make(map[string][]byte)
	total := 0

	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return nil, nil, 0, errors.NewMalformedRequestError("reading headers", err)
		}

		total += len(line) + 2
		if total > budget {
			return nil, nil, 0, errors.NewMalformedRequestError("headers exceed maximum size", nil)
		}

		if line == "" {
			break
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			// Lines without a colon are silently dropped (§4.1).
			continue
		}

		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		nameBytes := []byte(name)
		valueBytes := []byte(value)
		headers = append(headers, HeaderField{Name: nameBytes, Value: valueBytes})
		lookup[name] = valueBytes
	}

	return headers, lookup, total, nil
}

func readBody(r *bufio.Reader, headers map[string][]byte) (*buffer.Buffer, error) {
	buf := buffer.New(constants.DefaultBodyMemLimit)

	if cl, ok := headers["content-length"]; ok {
		length, err := strconv.ParseInt(strings.TrimSpace(string(cl)), 10, 64)
		if err != nil || length < 0 {
			buf.Close()
			return nil, errors.NewMalformedRequestError("invalid content-length", err)
		}
		if length > constants.MaxContentLength {
			buf.Close()
			return nil, errors.NewMalformedRequestError("content-length too large", nil)
		}
		if length > 0 {
			if _, err := io.CopyN(buf, r, length); err != nil {
				buf.Close()
				return nil, errors.NewIOError("reading fixed request body", err)
			}
		}
		return buf, nil
	}

	if te, ok := headers["transfer-encoding"]; ok && strings.Contains(strings.ToLower(string(te)), "chunked") {
		if err := readChunkedBody(r, buf); err != nil {
			buf.Close()
			return nil, err
		}
		return buf, nil
	}

	return buf, nil
}

// readChunkedBody decodes chunked transfer-encoding until the terminating
// zero-size chunk, discarding chunk-extensions and trailers (§4.1).
func readChunkedBody(r *bufio.Reader, dst io.Writer) error {
	var total int64
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return errors.NewMalformedRequestError("reading chunk size", err)
		}

		sizeField := line
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			sizeField = line[:idx] // discard chunk-extensions
		}

		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil || size < 0 {
			return errors.NewMalformedRequestError("invalid chunk size", err)
		}

		if size == 0 {
			break
		}

		total += size
		if total > constants.MaxRawBufferSize {
			return errors.NewMalformedRequestError("chunked body exceeds the maximum buffered size", nil)
		}

		if _, err := io.CopyN(dst, r, size); err != nil {
			return errors.NewIOError("reading chunk body", err)
		}

		trailingCRLF := make([]byte, 2)
		if _, err := io.ReadFull(r, trailingCRLF); err != nil {
			return errors.NewIOError("reading chunk terminator", err)
		}
		if trailingCRLF[0] != '\r' || trailingCRLF[1] != '\n' {
			return errors.NewMalformedRequestError("malformed chunk terminator", nil)
		}
	}

	// Discard trailers.
	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return errors.NewMalformedRequestError("reading chunk trailers", err)
		}
		if line == "" {
			break
		}
	}

	return nil
}
