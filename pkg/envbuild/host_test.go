package envbuild_test

import (
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/envbuild"
)

func TestParseHostUnparseRoundTrip(t *testing.T) {
	inputs := []string{"example.com", "example.com:8080", "[::1]", "[::1]:443"}

	for _, in := range inputs {
		host, port, err := envbuild.ParseHost(in, "")
		if err != nil {
			t.Fatalf("ParseHost(%q): %v", in, err)
		}
		got := envbuild.FormatHost(host, port)
		if got != in {
			t.Errorf("round trip mismatch: ParseHost(%q) -> FormatHost(%q, %q) = %q", in, host, port, got)
		}
	}
}

func TestParseHostDefaultsPort(t *testing.T) {
	host, port, err := envbuild.ParseHost("example.com", "80")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	if host != "example.com" || port != "80" {
		t.Errorf("got host=%q port=%q", host, port)
	}
}

func TestParseHostIPv6WithDefaultPort(t *testing.T) {
	host, port, err := envbuild.ParseHost("[::1]", "80")
	if err != nil {
		t.Fatalf("ParseHost: %v", err)
	}
	if host != "[::1]" || port != "80" {
		t.Errorf("got host=%q port=%q", host, port)
	}
}
