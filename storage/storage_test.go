package storage

import (
	"os"
	"testing"
)

var testOwnAddr = [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, 0x00, testOwnAddr), root
}

func TestStoreKeysRoundTrip(t *testing.T) {
	s, root := testStore(t)
	peer := "00:11:22:33:44:55"
	local := &LTK{Rand: 1, EDiv: 2, Key: []byte{0x01, 0x02}}

	if err := s.StoreKeys(peer, true, false, []byte("0123456789abcdef"), local, nil); err != nil {
		t.Fatalf("StoreKeys: %v", err)
	}

	fresh := New(root, 0x00, testOwnAddr)
	k, ok := fresh.GetKeys(peer)
	if !ok {
		t.Fatalf("expected keys to round-trip through disk")
	}
	if !k.MITM || k.SC {
		t.Fatalf("unexpected flags: %+v", k)
	}
	if k.LocalLTK == nil || k.LocalLTK.Rand != 1 {
		t.Fatalf("local LTK did not round-trip: %+v", k.LocalLTK)
	}
}

func TestRemoveBondDeletesDirectory(t *testing.T) {
	s, _ := testStore(t)
	peer := "00:11:22:33:44:55"
	if err := s.StoreKeys(peer, false, false, nil, nil, nil); err != nil {
		t.Fatalf("StoreKeys: %v", err)
	}
	if _, ok := s.GetKeys(peer); !ok {
		t.Fatalf("keys should be present before removal")
	}
	if err := s.RemoveBond(peer); err != nil {
		t.Fatalf("RemoveBond: %v", err)
	}
	if _, ok := s.GetKeys(peer); ok {
		t.Fatalf("keys should be gone after RemoveBond")
	}
}

func TestCccdOnlyWritesOnChange(t *testing.T) {
	s, _ := testStore(t)
	peer := "00:11:22:33:44:55"

	if err := s.StoreCccd(peer, 0x10, 1); err != nil {
		t.Fatalf("StoreCccd: %v", err)
	}
	v, ok := s.GetCccd(peer, 0x10)
	if !ok || v != 1 {
		t.Fatalf("GetCccd = %v, %v, want 1, true", v, ok)
	}

	// Remove the file written above; an unchanged value must not recreate it.
	if err := os.Remove(s.cccdPath(peer, 0x10)); err != nil {
		t.Fatalf("remove CCCD file: %v", err)
	}
	if err := s.StoreCccd(peer, 0x10, 1); err != nil {
		t.Fatalf("redundant StoreCccd: %v", err)
	}
	if _, err := os.Stat(s.cccdPath(peer, 0x10)); !os.IsNotExist(err) {
		t.Fatalf("redundant StoreCccd rewrote the CCCD file (stat err = %v)", err)
	}
}

func TestResolveAddressMatchesOnlyCorrectIRK(t *testing.T) {
	s, _ := testStore(t)
	irk := make([]byte, 16)
	for i := range irk {
		irk[i] = byte(i + 1)
	}
	if err := s.StoreKeys("00:aa:bb:cc:dd:ee", false, false, irk, nil, nil); err != nil {
		t.Fatalf("StoreKeys: %v", err)
	}

	prand := [3]byte{0x42, 0x1f, 0x9a}
	hash := ah(irk, prand)
	randomAddr := [6]byte{hash[2], hash[1], hash[0], prand[2], prand[1], prand[0]}
	randomAddr[5] = (randomAddr[5] & 0x3f) | 0x40

	peer, ok := s.ResolveAddress(randomAddr)
	if !ok || peer != "00:aa:bb:cc:dd:ee" {
		t.Fatalf("ResolveAddress = %q, %v, want the stored peer", peer, ok)
	}

	randomAddr[0] ^= 0xff
	if _, ok := s.ResolveAddress(randomAddr); ok {
		t.Fatalf("a corrupted hash must not resolve")
	}
}

func TestIsResolvableRandomAddress(t *testing.T) {
	if !IsResolvableRandomAddress([6]byte{0, 0, 0, 0, 0, 0x40}) {
		t.Fatalf("0x40 top byte should be resolvable-random")
	}
	if IsResolvableRandomAddress([6]byte{0, 0, 0, 0, 0, 0xc0}) {
		t.Fatalf("0xc0 top byte (static random) must not be resolvable-random")
	}
}
