// Package storage implements the on-disk bond and GATT-client-cache
// persistence layer: one root directory per
// own address, holding per-peer key material, GATT server CCCD
// values, and GATT client discovery caches.
package storage

import (
	"crypto/aes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mgandl/blehost/internal/dupcache"
)

const defaultUnbondedCapacity = 50

// LTK is a long-term encryption key as stored for one side of a link.
type LTK struct {
	Rand uint64 `json:"rand"`
	EDiv uint16 `json:"ediv"`
	Key  []byte `json:"ltk"`
}

// Keys is the bonding key material for one peer (keys.json).
type Keys struct {
	MITM     bool   `json:"mitm"`
	SC       bool   `json:"sc"`
	IRK      []byte `json:"irk,omitempty"`
	LocalLTK *LTK   `json:"localLtk,omitempty"`
	PeerLTK  *LTK   `json:"peerLtk,omitempty"`
}

// ServiceRangeEntry is one range-map interval serialized to JSON as
// part of the gatt_client_cache.json schema.
type ServiceRangeEntry struct {
	Start   uint16          `json:"start"`
	End     uint16          `json:"end"`
	Service json.RawMessage `json:"service,omitempty"`
	Exists  bool            `json:"exists"`
}

// GattClientCache is the serialized form of one connection's GATT
// client discovery cache.
type GattClientCache struct {
	HasAllPrimaryServices bool                           `json:"hasAllPrimaryServices"`
	AllPrimaryServices    []ServiceRangeEntry            `json:"allPrimaryServices"`
	SecondaryServices     []ServiceRangeEntry            `json:"secondaryServices"`
	PrimaryServicesByUUID map[string][]ServiceRangeEntry `json:"primaryServicesByUUID"`
	Timestamp             int64                          `json:"timestamp"`
}

type bondEntry struct {
	keys  *Keys
	gatt  *GattClientCache
	cccds map[uint16]uint8
}

// Store is the persistence layer for one own-address's bonds and
// unbonded-peer caches. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	log     logrus.FieldLogger
	rootDir string
	own     string

	initialized bool
	bonds       map[string]*bondEntry
	unbonded    map[string]*GattClientCache

	unbondedFIFO *dupcache.Cache
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger overrides the store's logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Store) { s.log = l } }

// New constructs a Store rooted at rootDir/<own-address-directory>
// for the given own address (6 raw bytes) and address type byte.
func New(rootDir string, ownAddrType byte, ownAddr [6]byte, opts ...Option) *Store {
	s := &Store{
		rootDir: filepath.Join(rootDir, addrDirName(ownAddrType, ownAddr)),
		own:     addrString(ownAddr),
		bonds:   map[string]*bondEntry{},
		unbonded: map[string]*GattClientCache{},
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.unbondedFIFO = dupcache.New(defaultUnbondedCapacity, func(key interface{}) {
		peer := key.(string)
		delete(s.unbonded, peer)
		os.Remove(s.unbondedCachePath(peer))
	})
	return s
}

func addrDirName(addrType byte, addr [6]byte) string {
	parts := make([]string, 0, 7)
	parts = append(parts, fmt.Sprintf("%02X", addrType))
	for i := 5; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("%02X", addr[i]))
	}
	return strings.Join(parts, "-")
}

func addrString(addr [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}

func peerDirName(peer string) string { return strings.ReplaceAll(peer, ":", "-") }

func (s *Store) bondDir(peer string) string {
	return filepath.Join(s.rootDir, "bonds", peerDirName(peer))
}

func (s *Store) unbondedDir(peer string) string {
	return filepath.Join(s.rootDir, "unbonded", peerDirName(peer))
}

func (s *Store) keysPath(peer string) string {
	return filepath.Join(s.bondDir(peer), "keys.json")
}

func (s *Store) bondedCachePath(peer string) string {
	return filepath.Join(s.bondDir(peer), "gatt_client_cache.json")
}

func (s *Store) unbondedCachePath(peer string) string {
	return filepath.Join(s.unbondedDir(peer), "gatt_client_cache.json")
}

func (s *Store) cccdDir(peer string) string {
	return filepath.Join(s.bondDir(peer), "gatt_server_cccds")
}

func (s *Store) cccdPath(peer string, handle uint16) string {
	return filepath.Join(s.cccdDir(peer), fmt.Sprintf("%04X.json", handle))
}

// ensureInit lazily loads every on-disk entry for this own-address the
// first time the store is touched.
func (s *Store) ensureInit() {
	if s.initialized {
		return
	}
	s.initialized = true

	bondsRoot := filepath.Join(s.rootDir, "bonds")
	entries, err := os.ReadDir(bondsRoot)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			peer := dirToPeer(e.Name())
			s.loadBondedPeer(peer)
		}
	}

	unbondedRoot := filepath.Join(s.rootDir, "unbonded")
	var ordered []struct {
		peer string
		ts   int64
	}
	entries, err = os.ReadDir(unbondedRoot)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			peer := dirToPeer(e.Name())
			cache, ok := s.readCache(s.unbondedCachePath(peer))
			if !ok {
				continue
			}
			s.unbonded[peer] = cache
			ordered = append(ordered, struct {
				peer string
				ts   int64
			}{peer, cache.Timestamp})
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ts < ordered[j].ts })
	for _, o := range ordered {
		s.unbondedFIFO.Add(o.peer, struct{}{})
	}
}

func dirToPeer(dir string) string { return strings.ReplaceAll(dir, "-", ":") }

func (s *Store) loadBondedPeer(peer string) {
	b := &bondEntry{cccds: map[uint16]uint8{}}
	if raw, err := os.ReadFile(s.keysPath(peer)); err == nil {
		var k Keys
		if json.Unmarshal(raw, &k) == nil {
			b.keys = &k
		} else {
			s.log.WithField("peer", peer).Warn("storage: corrupt keys.json ignored")
		}
	}
	if cache, ok := s.readCache(s.bondedCachePath(peer)); ok {
		b.gatt = cache
	}
	if entries, err := os.ReadDir(s.cccdDir(peer)); err == nil {
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".json")
			var handle uint16
			if _, err := fmt.Sscanf(name, "%04X", &handle); err != nil {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(s.cccdDir(peer), e.Name()))
			if err != nil {
				continue
			}
			var v struct {
				Value uint8 `json:"value"`
			}
			if json.Unmarshal(raw, &v) != nil || v.Value > 3 {
				s.log.WithField("peer", peer).WithField("handle", handle).
					Warn("storage: corrupt or out-of-domain cccd ignored")
				continue
			}
			b.cccds[handle] = v.Value
		}
	}
	s.bonds[peer] = b
}

func (s *Store) readCache(path string) (*GattClientCache, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var c GattClientCache
	if json.Unmarshal(raw, &c) != nil {
		s.log.WithField("path", path).Warn("storage: corrupt gatt cache ignored")
		return nil, false
	}
	return &c, true
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// StoreKeys overwrites the in-memory and on-disk key material for
// peer. The IRK, if present, is stored as raw bytes; no cipher is
// built here. ResolveAddress creates an AES-128-ECB cipher keyed by the
// byte-reversed IRK each time it tries this peer.
func (s *Store) StoreKeys(peer string, mitm, sc bool, irk []byte, local, remote *LTK) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()

	b, ok := s.bonds[peer]
	if !ok {
		b = &bondEntry{cccds: map[uint16]uint8{}}
		s.bonds[peer] = b
	}
	b.keys = &Keys{MITM: mitm, SC: sc, IRK: irk, LocalLTK: local, PeerLTK: remote}
	if err := writeJSON(s.keysPath(peer), b.keys); err != nil {
		s.log.WithError(err).Warn("storage: failed to persist keys.json")
	}
	return nil
}

// GetKeys returns the stored key material for peer, if any.
func (s *Store) GetKeys(peer string) (*Keys, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()
	b, ok := s.bonds[peer]
	if !ok || b.keys == nil {
		return nil, false
	}
	return b.keys, true
}

// ResolveAddress implements the AH address-resolution algorithm: a
// random address is `tt:aa:aa:aa:bb:bb:bb` with
// `tt=01`; the upper 24 bits of the random portion are `prand`, the
// lower 24 bits the `hash`. It tries every stored IRK until one's
// AES-128-ECB encryption of a zero block with prand placed in the
// last three bytes produces ciphertext whose last three bytes match
// hash, and returns that peer's identity address.
func (s *Store) ResolveAddress(randomAddr [6]byte) (peer string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()

	if randomAddr[5]&0xc0 != 0x40 {
		return "", false
	}
	prand := [3]byte{randomAddr[5], randomAddr[4], randomAddr[3]}
	hash := [3]byte{randomAddr[2], randomAddr[1], randomAddr[0]}

	for candidate, b := range s.bonds {
		if b.keys == nil || len(b.keys.IRK) != 16 {
			continue
		}
		if constantTimeEqual3(ah(b.keys.IRK, prand), hash) {
			return candidate, true
		}
	}
	return "", false
}

// ah computes the Bluetooth AH function: AES-128-ECB encrypt a
// 16-byte block with r in its low 3 bytes under k (keyed by the
// byte-reversed IRK, per the Bluetooth core spec's bit ordering), and
// take the low 3 bytes of the ciphertext.
func ah(irk []byte, r [3]byte) [3]byte {
	reversed := make([]byte, 16)
	for i := 0; i < 16; i++ {
		reversed[i] = irk[15-i]
	}
	block, err := aes.NewCipher(reversed)
	if err != nil {
		return [3]byte{}
	}
	var plain, cipher [16]byte
	plain[13], plain[14], plain[15] = r[0], r[1], r[2]
	block.Encrypt(cipher[:], plain[:])
	return [3]byte{cipher[13], cipher[14], cipher[15]}
}

func constantTimeEqual3(a, b [3]byte) bool {
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// StoreCccd records handle's 2-bit CCCD value for a bonded peer,
// writing to disk only when the value actually changed.
func (s *Store) StoreCccd(peer string, handle uint16, value uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()

	b, ok := s.bonds[peer]
	if !ok {
		b = &bondEntry{cccds: map[uint16]uint8{}}
		s.bonds[peer] = b
	}
	if cur, ok := b.cccds[handle]; ok && cur == value {
		return nil
	}
	b.cccds[handle] = value
	return writeJSON(s.cccdPath(peer, handle), struct {
		Value uint8 `json:"value"`
	}{value})
}

// GetCccd returns the stored CCCD value for (peer, handle).
func (s *Store) GetCccd(peer string, handle uint16) (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()
	b, ok := s.bonds[peer]
	if !ok {
		return 0, false
	}
	v, ok := b.cccds[handle]
	return v, ok
}

// AllCccds returns every stored CCCD handle/value pair for peer, used
// to restore subscriptions on reconnect.
func (s *Store) AllCccds(peer string) map[uint16]uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()
	b, ok := s.bonds[peer]
	if !ok {
		return nil
	}
	out := make(map[uint16]uint8, len(b.cccds))
	for h, v := range b.cccds {
		out[h] = v
	}
	return out
}

// StoreGattCache persists a GATT client discovery cache for peer.
// Bonded caches are keyed directly; unbonded caches go through the
// bounded FIFO, evicting the oldest unbonded entry's file when full.
func (s *Store) StoreGattCache(peer string, isBonded bool, cache *GattClientCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()

	if isBonded {
		b, ok := s.bonds[peer]
		if !ok {
			b = &bondEntry{cccds: map[uint16]uint8{}}
			s.bonds[peer] = b
		}
		b.gatt = cache
		return writeJSON(s.bondedCachePath(peer), cache)
	}
	s.unbonded[peer] = cache
	s.unbondedFIFO.Add(peer, struct{}{})
	return writeJSON(s.unbondedCachePath(peer), cache)
}

// GetGattCache returns the stored discovery cache for peer.
func (s *Store) GetGattCache(peer string, isBonded bool) (*GattClientCache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()
	if isBonded {
		b, ok := s.bonds[peer]
		if !ok || b.gatt == nil {
			return nil, false
		}
		return b.gatt, true
	}
	c, ok := s.unbonded[peer]
	return c, ok
}

// RemoveBond drops peer's in-memory bond state and recursively
// removes its bonds/<peer> directory.
func (s *Store) RemoveBond(peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureInit()
	delete(s.bonds, peer)
	return os.RemoveAll(s.bondDir(peer))
}

// IsResolvableRandomAddress reports whether addr's top two bits mark
// it as a resolvable-random address: the top two bits of the most
// significant octet of the random portion
// equal 0b01).
func IsResolvableRandomAddress(addr [6]byte) bool {
	return addr[5]&0xc0 == 0x40
}
