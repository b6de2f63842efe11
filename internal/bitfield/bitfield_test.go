package bitfield_test

import (
	"testing"

	"nucleus/internal/bitfield"
)

type pageFlags struct {
	Present  bool   `bitfield:",1"`
	Writable bool   `bitfield:",1"`
	User     bool   `bitfield:",1"`
	Reserved uint32 `bitfield:",29"`
}

func TestPackUnpackRoundTrip(t *testing.T) {
	in := pageFlags{Present: true, Writable: true, User: false, Reserved: 0x1234}
	packed, err := bitfield.Pack(&in, &bitfield.Config{NumBits: 32})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var out pageFlags
	if err := bitfield.Unpack(packed, &out, &bitfield.Config{NumBits: 32}); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestPackOverflow(t *testing.T) {
	type tooWide struct {
		X uint32 `bitfield:",40"`
	}
	_, err := bitfield.Pack(&tooWide{X: 1}, &bitfield.Config{NumBits: 32})
	if err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestPackNegativeRejected(t *testing.T) {
	type signed struct {
		X int32 `bitfield:",8"`
	}
	_, err := bitfield.Pack(&signed{X: -1}, nil)
	if err == nil {
		t.Fatalf("expected error for negative field")
	}
}
