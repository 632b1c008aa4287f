package blerr

import "testing"

func TestNewFormatsMessage(t *testing.T) {
	e := New(InvalidArgument, "bad uuid %q", "zz")
	if e.Kind != InvalidArgument {
		t.Fatalf("Kind = %v, want InvalidArgument", e.Kind)
	}
	want := `InvalidArgument: bad uuid "zz"`
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestIsMatchesKind(t *testing.T) {
	var err error = New(PermissionInconsistent, "readPerm without Read property")
	if !Is(err, PermissionInconsistent) {
		t.Fatalf("expected Is to match PermissionInconsistent")
	}
	if Is(err, OutOfRange) {
		t.Fatalf("expected Is not to match a different kind")
	}
}

func TestIsRejectsNonBlerrErrors(t *testing.T) {
	if Is(errStub{}, InvalidArgument) {
		t.Fatalf("Is should only match *Error values")
	}
}

type errStub struct{}

func (errStub) Error() string { return "stub" }

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		InvalidArgument:        "InvalidArgument",
		PermissionInconsistent: "PermissionInconsistent",
		OutOfRange:              "OutOfRange",
		Kind(99):                "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
