package wire_test

import (
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/wire"
)

func TestStatusLineCache(t *testing.T) {
	cache := wire.NewStatusLineCache()

	line := cache.Line(200)
	if string(line) != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line: %q", line)
	}

	// Second call must hit the cache and return identical bytes.
	again := cache.Line(200)
	if string(again) != string(line) {
		t.Fatalf("cached line mismatch: %q vs %q", line, again)
	}
}

func TestStatusLineCacheUnknownCode(t *testing.T) {
	cache := wire.NewStatusLineCache()
	line := cache.Line(599)
	if string(line) != "HTTP/1.1 599 Status\r\n" {
		t.Fatalf("unexpected status line for unknown code: %q", line)
	}
}
