package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello enclave")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame = %q, want %q", got, payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadFrame = %q, want empty", got)
	}
}

func TestFrameTransportClosed(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ReadFrame(&buf, 0); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("ReadFrame on empty reader = %v, want ErrTransportClosed", err)
	}
}

func TestFrameOversized(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 10); !errors.Is(err, ErrOversizedFrame) {
		t.Errorf("ReadFrame with small ceiling = %v, want ErrOversizedFrame", err)
	}
}

func TestFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("0123456789")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:12])
	if _, err := ReadFrame(truncated, 0); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("ReadFrame on truncated payload = %v, want ErrTransportClosed", err)
	}
}
