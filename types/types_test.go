package types

import (
	"errors"
	"testing"
)

func TestParseAddress_CanonicalLowerCase(t *testing.T) {
	a, err := ParseAddress("0xAbCdEf0123456789aBcDeF0123456789ABCDEF01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, want := a.Hex(), "0xabcdef0123456789abcdef0123456789abcdef01"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseAddress_Rejects(t *testing.T) {
	for _, in := range []string{"", "abcdef", "0x1234", "0xzz00000000000000000000000000000000000000"} {
		if _, err := ParseAddress(in); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%q: expected ErrInvalidAddress, got %v", in, err)
		}
	}
}

func TestHash_TextRoundTrip(t *testing.T) {
	h := MustHash("0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	text, _ := h.MarshalText()
	if len(text) != 66 {
		t.Fatalf("expected 66 characters, got %d", len(text))
	}
	var back Hash
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != h {
		t.Fatalf("round trip mismatch")
	}
}

func TestDenomination_Parse(t *testing.T) {
	d, err := ParseDenomination("token:0x00000000000000000000000000000000000000AA")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Kind != KindToken || d.String() != "token:0x00000000000000000000000000000000000000aa" {
		t.Fatalf("unexpected denomination %s", d)
	}
	if _, err := ParseDenomination("token:0x0000000000000000000000000000000000000000"); !errors.Is(err, ErrInvalidDenomination) {
		t.Fatalf("expected zero token to be rejected, got %v", err)
	}
	if n, _ := ParseDenomination(""); n != Native() {
		t.Fatalf("empty string should be native")
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		t.Fatalf("parse max: %v", err)
	}
	if FormatAmount(v) != "115792089237316195423570985008687907853269984665640564039457584007913129639935" {
		t.Fatalf("unexpected format %s", v.Dec())
	}
	if _, err := ParseAmount("-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if FormatAmount(nil) != "0" {
		t.Fatalf("nil should format as 0")
	}
}
