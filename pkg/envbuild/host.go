package envbuild

import (
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawserve/pkg/errors"
)

// ParseHost splits a Host header value into host and port, handling
// bracketed IPv6 literals ("[::1]:8080"), plain "host:port", and a bare
// host (in which case defaultPort is used). §4.2.
func ParseHost(hostHeader, defaultPort string) (host, port string, err error) {
	hostHeader = strings.TrimSpace(hostHeader)
	if hostHeader == "" {
		return "", "", errors.NewValidationError("empty host header")
	}

	if strings.HasPrefix(hostHeader, "[") {
		end := strings.IndexByte(hostHeader, ']')
		if end < 0 {
			return "", "", errors.NewValidationError("unterminated IPv6 literal in host header")
		}
		host = hostHeader[:end+1]
		rest := hostHeader[end+1:]
		if rest == "" {
			return host, defaultPort, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", errors.NewValidationError("malformed host header after IPv6 literal")
		}
		port = rest[1:]
		if _, err := strconv.Atoi(port); err != nil {
			return "", "", errors.NewValidationError("non-numeric port in host header")
		}
		return host, port, nil
	}

	if idx := strings.LastIndexByte(hostHeader, ':'); idx >= 0 {
		host = hostHeader[:idx]
		port = hostHeader[idx+1:]
		if _, err := strconv.Atoi(port); err != nil {
			// A colon inside a bare (unbracketed) IPv6 address with no port
			// would be ambiguous; we only treat it as host:port when what
			// follows the last colon parses as a port number.
			return hostHeader, defaultPort, nil
		}
		return host, port, nil
	}

	return hostHeader, defaultPort, nil
}

// FormatHost reconstructs a Host header value from host and port, the
// inverse of ParseHost, preserving IPv6 bracketing.
func FormatHost(host, port string) string {
	if port == "" {
		return host
	}
	return host + ":" + port
}
