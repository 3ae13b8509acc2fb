package rpc

import (
	"bytes"
	"testing"
)

func TestCodecDeterministic(t *testing.T) {
	var c Codec
	if c.Name() != CodecName {
		t.Fatalf("Name() = %q", c.Name())
	}

	in := &HealthResponse{Status: "ok", Version: 3, Sessions: 2, Buckets: 4096}
	a, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoding should be deterministic")
	}

	var out HealthResponse
	if err := c.Unmarshal(a, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != *in {
		t.Fatalf("got %+v, want %+v", out, *in)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	var c Codec
	var out QueryResponse
	if err := c.Unmarshal([]byte{0xff, 0x00}, &out); err == nil {
		t.Fatal("expected decode error")
	}
}
