package uuid

import "testing"

func TestUUID16RoundTrip(t *testing.T) {
	u := UUID16(0x180a)
	short, ok := u.Short()
	if !ok || short != 0x180a {
		t.Fatalf("Short() = %x, %v; want 0x180a, true", short, ok)
	}
	if want, got := "180a", u.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestWireBytesRoundTrip(t *testing.T) {
	cases := []UUID{
		UUID16(0x2902),
		UUID16(0x1800),
	}
	for _, u := range cases {
		got, err := FromWireBytes(u.WireBytes())
		if err != nil {
			t.Fatalf("FromWireBytes: %v", err)
		}
		if !got.Equal(u) {
			t.Errorf("FromWireBytes(WireBytes(%s)) = %s", u, got)
		}
	}
}

func TestUUID128NotBaseShell(t *testing.T) {
	var raw [16]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	u := UUID128(raw)
	if u.Is16Bit() {
		t.Fatalf("vendor-specific UUID incorrectly reported a 16-bit short form")
	}
	if len(u.WireBytes()) != 16 {
		t.Fatalf("WireBytes() length = %d, want 16", len(u.WireBytes()))
	}
}

func TestParseCanonicalString(t *testing.T) {
	u, err := Parse("0000180a-0000-1000-8000-00805f9b34fb")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if short, ok := u.Short(); !ok || short != 0x180a {
		t.Errorf("Short() = %x, %v; want 0x180a, true", short, ok)
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("abcd12"); err != ErrInvalidLength {
		t.Errorf("Parse(short garbage) err = %v, want ErrInvalidLength", err)
	}
}
