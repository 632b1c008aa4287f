// Package gattclient implements the GATT client: service/characteristic
// discovery backed by a partial-range cache, long and reliable writes,
// and persistence of the discovered schema across connections. The
// ATT-level request/response machinery lives in package att; this
// package drives a sequence of att.Conn requests to build up and
// maintain a cached view of a remote peer's attribute database.
package gattclient

import (
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/rangemap"
	"github.com/mgandl/blehost/storage"
	"github.com/mgandl/blehost/uuid"
)

var (
	uuidPrimaryService   = uuid.UUID16(0x2800)
	uuidSecondaryService = uuid.UUID16(0x2801)
	uuidInclude          = uuid.UUID16(0x2802)
	uuidCharacteristic   = uuid.UUID16(0x2803)
	uuidCCCD             = uuid.UUID16(0x2902)
	uuidGenericAttribute = uuid.UUID16(0x1801)
	uuidServiceChanged   = uuid.UUID16(0x2a05)
)

const maxHandle = 0xffff

// DescriptorInfo is one discovered characteristic descriptor.
type DescriptorInfo struct {
	Handle uint16   `json:"handle"`
	UUID   uuid.UUID `json:"-"`
	UUIDStr string   `json:"uuid"`
}

// CharacteristicInfo is one discovered characteristic.
type CharacteristicInfo struct {
	DeclHandle  uint16    `json:"declHandle"`
	ValueHandle uint16    `json:"valueHandle"`
	EndHandle   uint16    `json:"endHandle"`
	UUID        uuid.UUID `json:"-"`
	UUIDStr     string    `json:"uuid"`
	Props       uint8     `json:"props"`

	Descriptors []DescriptorInfo `json:"descriptors,omitempty"`
}

// IncludeInfo is one included-service entry within a service.
type IncludeInfo struct {
	StartHandle uint16    `json:"startHandle"`
	EndHandle   uint16    `json:"endHandle"`
	UUID        uuid.UUID `json:"-"`
	UUIDStr     string    `json:"uuid"`
}

// ServiceInfo is one discovered (or in-progress, pending rediscovery)
// service.
type ServiceInfo struct {
	UUID        uuid.UUID `json:"-"`
	UUIDStr     string    `json:"uuid"`
	StartHandle uint16    `json:"startHandle"`
	EndHandle   uint16    `json:"endHandle"`
	IsSecondary bool      `json:"isSecondary"`

	Includes        []IncludeInfo        `json:"includes,omitempty"`
	Characteristics []CharacteristicInfo `json:"characteristics,omitempty"`
}

// marshal/unmarshalServiceInfo keep UUIDStr in sync with UUID around the
// json.RawMessage boundary storage uses, since uuid.UUID itself has no
// json tags.
func (s *ServiceInfo) marshal() json.RawMessage {
	s.UUIDStr = s.UUID.String()
	for i := range s.Includes {
		s.Includes[i].UUIDStr = s.Includes[i].UUID.String()
	}
	for i := range s.Characteristics {
		s.Characteristics[i].UUIDStr = s.Characteristics[i].UUID.String()
		for j := range s.Characteristics[i].Descriptors {
			s.Characteristics[i].Descriptors[j].UUIDStr = s.Characteristics[i].Descriptors[j].UUID.String()
		}
	}
	raw, _ := json.Marshal(s)
	return raw
}

func unmarshalServiceInfo(raw json.RawMessage) *ServiceInfo {
	if len(raw) == 0 {
		return nil
	}
	var s ServiceInfo
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s.UUID, _ = uuid.Parse(s.UUIDStr)
	for i := range s.Includes {
		s.Includes[i].UUID, _ = uuid.Parse(s.Includes[i].UUIDStr)
	}
	for i := range s.Characteristics {
		s.Characteristics[i].UUID, _ = uuid.Parse(s.Characteristics[i].UUIDStr)
		for j := range s.Characteristics[i].Descriptors {
			d := &s.Characteristics[i].Descriptors[j]
			d.UUID, _ = uuid.Parse(d.UUIDStr)
		}
	}
	return &s
}

// ErrReliableWriteAborted is returned when a PREPARE_WRITE echo does
// not match the bytes sent, whether in a plain long write or within a
// reliable-write session.
var ErrReliableWriteAborted = errors.New("gattclient: reliable write session aborted by echo mismatch")

// ErrDescriptorNotFound is returned by WriteCCCD when the target
// characteristic has no client characteristic configuration descriptor.
var ErrDescriptorNotFound = errors.New("gattclient: no client characteristic configuration descriptor")

// ErrNotInReliableWrite and ErrAlreadyInReliableWrite guard the
// begin/commit/cancel reliable-write state machine.
var (
	ErrNotInReliableWrite     = errors.New("gattclient: no reliable write session is active")
	ErrAlreadyInReliableWrite = errors.New("gattclient: a reliable write session is already active")
)

// Client is the GATT client for one connection: a discovery cache plus
// the long/reliable write state machine layered on an att.Conn.
type Client struct {
	conn *att.Conn
	log  logrus.FieldLogger

	store    *storage.Store
	peer     string
	addr     [6]byte
	isBonded bool

	allPrimary *rangemap.Map // Entry.Value is *ServiceInfo, nil for a verified-empty gap
	secondary  *rangemap.Map
	byUUID     map[string]*rangemap.Map
	hasAll     bool

	reliableWriteActive bool
	reliableWriteFailed bool
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger overrides the client's logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

// WithPersistence couples the client to a Store for caching the
// discovered schema across connections to peer (identified both by
// its stable string form and its raw address, for the
// resolvable-random-address check). isBonded controls the suppression
// rule for unbonded peers advertising Service Changed.
func WithPersistence(store *storage.Store, peer string, addr [6]byte, isBonded bool) Option {
	return func(c *Client) {
		c.store = store
		c.peer = peer
		c.addr = addr
		c.isBonded = isBonded
	}
}

// New constructs a Client for conn, restoring any cached schema for
// the configured peer.
func New(conn *att.Conn, opts ...Option) *Client {
	c := &Client{
		conn:       conn,
		log:        logrus.StandardLogger(),
		allPrimary: rangemap.New(),
		secondary:  rangemap.New(),
		byUUID:     map[string]*rangemap.Map{},
	}
	for _, o := range opts {
		o(c)
	}
	c.restoreFromStore()
	return c
}

func (c *Client) restoreFromStore() {
	if c.store == nil || storage.IsResolvableRandomAddress(c.addr) {
		return
	}
	cache, ok := c.store.GetGattCache(c.peer, c.isBonded)
	if !ok {
		return
	}
	c.hasAll = cache.HasAllPrimaryServices
	loadEntries(c.allPrimary, cache.AllPrimaryServices)
	loadEntries(c.secondary, cache.SecondaryServices)
	for u, entries := range cache.PrimaryServicesByUUID {
		m := rangemap.New()
		loadEntries(m, entries)
		c.byUUID[u] = m
	}
}

func loadEntries(m *rangemap.Map, entries []storage.ServiceRangeEntry) {
	for _, e := range entries {
		var svc *ServiceInfo
		if e.Exists {
			svc = unmarshalServiceInfo(e.Service)
		}
		m.Put(rangemap.Entry{Start: e.Start, End: e.End, Value: svc})
	}
}

func dumpEntries(m *rangemap.Map) []storage.ServiceRangeEntry {
	var out []storage.ServiceRangeEntry
	for _, e := range m.Entries() {
		svc, _ := e.Value.(*ServiceInfo)
		re := storage.ServiceRangeEntry{Start: e.Start, End: e.End, Exists: svc != nil}
		if svc != nil {
			re.Service = svc.marshal()
		}
		out = append(out, re)
	}
	return out
}

// persist serializes the current cache and stores it, honoring the
// resolvable-random-address and unbonded-Service-Changed suppression
// rules.
func (c *Client) persist() {
	if c.store == nil {
		return
	}
	if storage.IsResolvableRandomAddress(c.addr) {
		return
	}
	if !c.isBonded && c.advertisesServiceChanged() {
		return
	}
	cache := &storage.GattClientCache{
		HasAllPrimaryServices: c.hasAll,
		AllPrimaryServices:    dumpEntries(c.allPrimary),
		SecondaryServices:     dumpEntries(c.secondary),
		PrimaryServicesByUUID: map[string][]storage.ServiceRangeEntry{},
	}
	for u, m := range c.byUUID {
		cache.PrimaryServicesByUUID[u] = dumpEntries(m)
	}
	_ = c.store.StoreGattCache(c.peer, c.isBonded, cache)
}

func (c *Client) advertisesServiceChanged() bool {
	for _, e := range c.allPrimary.Entries() {
		svc, _ := e.Value.(*ServiceInfo)
		if svc == nil || !svc.UUID.Equal(uuidGenericAttribute) {
			continue
		}
		for _, ch := range svc.Characteristics {
			if ch.UUID.Equal(uuidServiceChanged) {
				return true
			}
		}
	}
	return false
}

// HasAllPrimaryServices reports whether the whole handle space has
// been verified for the unfiltered primary-service query.
func (c *Client) HasAllPrimaryServices() bool { return c.hasAll }

// Services returns every currently-cached (verified-present) primary
// service, ascending by start handle.
func (c *Client) Services() []*ServiceInfo {
	var out []*ServiceInfo
	for _, e := range c.allPrimary.Entries() {
		if svc, ok := e.Value.(*ServiceInfo); ok && svc != nil {
			out = append(out, svc)
		}
	}
	return out
}
