package ws_test

import (
	"bytes"
	"testing"

	"github.com/WhileEndless/go-rawserve/pkg/ws"
)

func TestAcceptKeyCanonical(t *testing.T) {
	got := ws.AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptKey() = %q, want %q", got, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 125, 126, 65535, 65536}

	for _, size := range sizes {
		payload := bytes.Repeat([]byte{0x5a}, size)

		var buf bytes.Buffer
		if err := ws.WriteFrame(&buf, true, ws.OpBinary, payload); err != nil {
			t.Fatalf("WriteFrame(size=%d): %v", size, err)
		}

		frame, err := ws.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(size=%d): %v", size, err)
		}

		if !frame.Fin {
			t.Errorf("size=%d: expected fin=true", size)
		}
		if frame.Opcode != ws.OpBinary {
			t.Errorf("size=%d: expected opcode binary, got %v", size, frame.Opcode)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Errorf("size=%d: payload mismatch", size)
		}
	}
}

func TestReadFrameUnmasksClientPayload(t *testing.T) {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	payload := []byte("hello")
	masked := make([]byte, len(payload))
	for i := range payload {
		masked[i] = payload[i] ^ key[i%4]
	}

	var buf bytes.Buffer
	buf.WriteByte(0x80 | byte(ws.OpText)) // fin + text
	buf.WriteByte(0x80 | byte(len(masked)))
	buf.Write(key[:])
	buf.Write(masked)

	frame, err := ws.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("expected unmasked payload %q, got %q", payload, frame.Payload)
	}
}

func TestParseCloseCode(t *testing.T) {
	if code, ok := ws.ParseCloseCode(nil); ok || code != 1005 {
		t.Fatalf("expected (1005,false) for empty payload, got (%d,%v)", code, ok)
	}

	var buf bytes.Buffer
	if err := ws.WriteClose(&buf, 1000, "bye"); err != nil {
		t.Fatalf("WriteClose: %v", err)
	}
	frame, err := ws.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	code, ok := ws.ParseCloseCode(frame.Payload)
	if !ok || code != 1000 {
		t.Fatalf("expected (1000,true), got (%d,%v)", code, ok)
	}
}
