package wire

import (
	"fmt"
	"sync"

	"github.com/WhileEndless/go-rawserve/pkg/constants"
)

// reasonPhrases holds the IANA-registered reason phrase for the status
// codes the server is likely to emit. Codes outside this table still get a
// cached status line, using a generic "Status" reason.
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	426: "Upgrade Required",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusLineCache is a process-wide, read-mostly cache from status code to
// the pre-encoded status-line bytes ("HTTP/1.1 <code> <reason>\r\n").
// Populated lazily; bounded at constants.MaxStatusLineCacheEntries.
type StatusLineCache struct {
	mu    sync.RWMutex
	lines map[int][]byte
}

// NewStatusLineCache returns an empty cache.
func NewStatusLineCache() *StatusLineCache {
	return &StatusLineCache{lines: make(map[int][]byte)}
}

// Line returns the pre-encoded status line for code, computing and storing
// it on first use.
func (c *StatusLineCache) Line(code int) []byte {
	c.mu.RLock()
	line, ok := c.lines[code]
	c.mu.RUnlock()
	if ok {
		return line
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if line, ok := c.lines[code]; ok {
		return line
	}

	reason, ok := reasonPhrases[code]
	if !ok {
		reason = "Status"
	}
	line = []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason))

	if len(c.lines) < constants.MaxStatusLineCacheEntries {
		c.lines[code] = line
	}
	return line
}

// ReasonPhrase returns the IANA reason phrase for code, or "Status" if
// unknown.
func ReasonPhrase(code int) string {
	if reason, ok := reasonPhrases[code]; ok {
		return reason
	}
	return "Status"
}

// defaultStatusLines is the process-wide cache shared by response writers.
var defaultStatusLines = NewStatusLineCache()

// DefaultStatusLineCache returns the process-wide StatusLineCache instance.
func DefaultStatusLineCache() *StatusLineCache {
	return defaultStatusLines
}
