package primitives

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSHA256d(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "abc", input: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SHA256d([]byte(tt.input))
			if len(got) != 32 {
				t.Fatalf("SHA256d returned %d bytes, want 32", len(got))
			}
			if !bytes.Equal(got, SHA256(SHA256([]byte(tt.input)))) {
				t.Fatal("SHA256d does not equal SHA256(SHA256(x))")
			}
		})
	}
}

func TestHash160Length(t *testing.T) {
	pub, _ := hex.DecodeString("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	got := Hash160(pub)
	if len(got) != 20 {
		t.Fatalf("Hash160 returned %d bytes, want 20", len(got))
	}
}

func TestHMACSHA512Deterministic(t *testing.T) {
	a := HMACSHA512([]byte("Bitcoin seed"), []byte{0x01, 0x02})
	b := HMACSHA512([]byte("Bitcoin seed"), []byte{0x01, 0x02})
	if !bytes.Equal(a, b) {
		t.Fatal("HMACSHA512 is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("HMACSHA512 returned %d bytes, want 64", len(a))
	}
}
