package gattclient

import (
	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/rangemap"
	"github.com/mgandl/blehost/uuid"
)

// ExchangeMTU negotiates the ATT MTU, a thin pass-through to the
// underlying connection.
func (c *Client) ExchangeMTU(clientMTU int, cb func(serverMTU int, err error)) error {
	return c.conn.ExchangeMTU(clientMTU, cb)
}

func protocolErrorIsAbsence(err error) bool {
	ec, ok := err.(att.Error)
	return ok && (ec == att.ErrorAttributeNotFound || ec == att.ErrorUnsupportedGroupType)
}

// DiscoverAllPrimaryServices scans every not-yet-decided handle range
// for primary service declarations. numToFind<=0 means unbounded: scan
// until the whole space is covered. When the limit is hit, scanning
// stops without marking the remainder as a verified-empty gap.
func (c *Client) DiscoverAllPrimaryServices(numToFind int, cb func(services []*ServiceInfo, err error)) error {
	return c.discoverGroupType(c.allPrimary, uuidPrimaryService, numToFind, cb)
}

// DiscoverSecondaryServices is the 0x2801 analogue of
// DiscoverAllPrimaryServices, for servers that declare secondary
// services independently of any include relationship.
func (c *Client) DiscoverSecondaryServices(numToFind int, cb func(services []*ServiceInfo, err error)) error {
	return c.discoverGroupType(c.secondary, uuidSecondaryService, numToFind, func(svcs []*ServiceInfo, err error) {
		for _, s := range svcs {
			s.IsSecondary = true
		}
		cb(svcs, err)
	})
}

func (c *Client) discoverGroupType(cache *rangemap.Map, groupType uuid.UUID, numToFind int, cb func([]*ServiceInfo, error)) error {
	gaps := cache.Gaps(1, maxHandle)
	found := 0
	results := func() []*ServiceInfo {
		var out []*ServiceInfo
		for _, e := range cache.Entries() {
			if svc, ok := e.Value.(*ServiceInfo); ok && svc != nil {
				out = append(out, svc)
			}
		}
		return out
	}

	var scanGap func(idx int)
	var scanFrom func(idx int, cursor uint16)

	finish := func() {
		if cache.FullyCovers(1, maxHandle) {
			if groupType.Equal(uuidPrimaryService) {
				c.hasAll = true
			}
		}
		c.persist()
		cb(results(), nil)
	}

	scanGap = func(idx int) {
		if idx >= len(gaps) {
			finish()
			return
		}
		scanFrom(idx, gaps[idx].Start)
	}

	scanFrom = func(idx int, cursor uint16) {
		if numToFind > 0 && found >= numToFind {
			finish()
			return
		}
		gapEnd := gaps[idx].End
		err := c.conn.ReadByGroupType(att.HandleRange{Start: cursor, End: gapEnd}, groupType, func(entries []att.GroupEntry, rerr error) {
			if rerr != nil {
				if protocolErrorIsAbsence(rerr) {
					cache.Put(rangemap.Entry{Start: cursor, End: gapEnd, Value: nil})
					scanGap(idx + 1)
					return
				}
				cb(nil, rerr)
				return
			}
			var lastEnd uint16
			for _, e := range entries {
				svc := &ServiceInfo{StartHandle: e.Handle, EndHandle: e.GroupEndHandle}
				if u, perr := uuid.FromWireBytes(e.Value); perr == nil {
					svc.UUID = u
				}
				cache.Put(rangemap.Entry{Start: e.Handle, End: e.GroupEndHandle, Value: svc})
				lastEnd = e.GroupEndHandle
				found++
				if numToFind > 0 && found >= numToFind {
					break
				}
			}
			if numToFind > 0 && found >= numToFind {
				finish()
				return
			}
			if lastEnd >= gapEnd || lastEnd == maxHandle {
				scanGap(idx + 1)
				return
			}
			scanFrom(idx, lastEnd+1)
		})
		if err != nil {
			cb(nil, err)
		}
	}

	scanGap(0)
	return nil
}

// DiscoverServicesByUUID restricts discovery to services matching u,
// caching results in their own per-UUID range map.
func (c *Client) DiscoverServicesByUUID(u uuid.UUID, numToFind int, cb func(services []*ServiceInfo, err error)) error {
	key := u.String()
	cache, ok := c.byUUID[key]
	if !ok {
		cache = rangemap.New()
		c.byUUID[key] = cache
	}
	gaps := cache.Gaps(1, maxHandle)
	found := 0
	wire := u.WireBytes()

	results := func() []*ServiceInfo {
		var out []*ServiceInfo
		for _, e := range cache.Entries() {
			if svc, ok := e.Value.(*ServiceInfo); ok && svc != nil {
				out = append(out, svc)
			}
		}
		return out
	}

	var scanGap func(idx int)
	var scanFrom func(idx int, cursor uint16)

	finish := func() {
		c.persist()
		cb(results(), nil)
	}

	scanGap = func(idx int) {
		if idx >= len(gaps) {
			finish()
			return
		}
		scanFrom(idx, gaps[idx].Start)
	}

	scanFrom = func(idx int, cursor uint16) {
		if numToFind > 0 && found >= numToFind {
			finish()
			return
		}
		gapEnd := gaps[idx].End
		err := c.conn.FindByTypeValue(att.HandleRange{Start: cursor, End: gapEnd}, 0x2800, wire, func(entries []att.TypeValueEntry, rerr error) {
			if rerr != nil {
				if protocolErrorIsAbsence(rerr) {
					cache.Put(rangemap.Entry{Start: cursor, End: gapEnd, Value: nil})
					scanGap(idx + 1)
					return
				}
				cb(nil, rerr)
				return
			}
			var lastEnd uint16
			for _, e := range entries {
				svc := &ServiceInfo{UUID: u, StartHandle: e.Handle, EndHandle: e.GroupEndHandle}
				cache.Put(rangemap.Entry{Start: e.Handle, End: e.GroupEndHandle, Value: svc})
				lastEnd = e.GroupEndHandle
				found++
				if numToFind > 0 && found >= numToFind {
					break
				}
			}
			if numToFind > 0 && found >= numToFind {
				finish()
				return
			}
			if lastEnd >= gapEnd || lastEnd == maxHandle {
				scanGap(idx + 1)
				return
			}
			scanFrom(idx, lastEnd+1)
		})
		if err != nil {
			cb(nil, err)
		}
	}

	scanGap(0)
	return nil
}

// FindIncludedServices issues one Read By Type request for 0x2802
// over svc's range; declarations that do not fit in that response are
// not requested. It parses 16-bit includes in place and following up with a Read
// of the included service's declaration for 128-bit includes. It
// upgrades a cached secondary service to primary (by moving it between
// the secondary and primary range maps) if this discovery reveals the
// include relationship.
func (c *Client) FindIncludedServices(svc *ServiceInfo, cb func(err error)) error {
	svc.Includes = nil
	pending := 0
	done := false
	var firstErr error

	maybeFinish := func() {
		if done && pending == 0 {
			c.persist()
			cb(firstErr)
		}
	}

	err := c.conn.ReadByType(att.HandleRange{Start: svc.StartHandle, End: svc.EndHandle}, uuidInclude, func(handle uint16, value []byte) bool {
		if len(value) < 4 {
			return true
		}
		inc := IncludeInfo{StartHandle: u16le(value), EndHandle: u16le(value[2:])}
		if len(value) >= 6 {
			if u, err := uuid.FromWireBytes(value[4:6]); err == nil {
				inc.UUID = u
			}
			svc.Includes = append(svc.Includes, inc)
			c.upgradeSecondaryToPrimary(inc)
		} else {
			pending++
			idx := len(svc.Includes)
			svc.Includes = append(svc.Includes, inc)
			c.conn.Read(inc.StartHandle, func(val []byte, rerr error) {
				pending--
				if rerr == nil {
					if u, perr := uuid.FromWireBytes(val); perr == nil {
						svc.Includes[idx].UUID = u
						c.upgradeSecondaryToPrimary(svc.Includes[idx])
					}
				}
				maybeFinish()
			})
		}
		return true
	}, func(rerr error) {
		if rerr != nil && !protocolErrorIsAbsence(rerr) {
			firstErr = rerr
		}
		done = true
		maybeFinish()
	})
	return err
}

func (c *Client) upgradeSecondaryToPrimary(inc IncludeInfo) {
	e, ok := c.secondary.Lookup(inc.StartHandle)
	if !ok {
		return
	}
	svc, ok := e.Value.(*ServiceInfo)
	if !ok || svc == nil {
		return
	}
	c.secondary.RemoveOverlapping(e.Start, e.End)
	svc.IsSecondary = false
	c.allPrimary.Put(rangemap.Entry{Start: e.Start, End: e.End, Value: svc})
}

// DiscoverCharacteristics issues one Read By Type request for 0x2803
// over svc's range (declarations that do not fit in that response are
// not requested) and splits the returned ones into characteristic
// records, each ending at
// the handle before the next declaration (or the service's end
// handle for the last one).
func (c *Client) DiscoverCharacteristics(svc *ServiceInfo, cb func(err error)) error {
	type raw struct {
		declHandle uint16
		props      uint8
		valueH     uint16
		u          uuid.UUID
	}
	var all []raw
	err := c.conn.ReadByType(att.HandleRange{Start: svc.StartHandle, End: svc.EndHandle}, uuidCharacteristic, func(handle uint16, value []byte) bool {
		if len(value) < 3 {
			return true
		}
		r := raw{declHandle: handle, props: value[0], valueH: u16le(value[1:])}
		if u, err := uuid.FromWireBytes(value[3:]); err == nil {
			r.u = u
		}
		all = append(all, r)
		return true
	}, func(rerr error) {
		if rerr != nil && !protocolErrorIsAbsence(rerr) {
			cb(rerr)
			return
		}
		svc.Characteristics = svc.Characteristics[:0]
		for i, r := range all {
			end := svc.EndHandle
			if i+1 < len(all) {
				end = all[i+1].declHandle - 1
			}
			svc.Characteristics = append(svc.Characteristics, CharacteristicInfo{
				DeclHandle: r.declHandle, ValueHandle: r.valueH, EndHandle: end, UUID: r.u, Props: r.props,
			})
		}
		c.persist()
		cb(nil)
	})
	return err
}

// DiscoverDescriptors runs a Find Information scan from ch's value
// handle + 1 to its end handle.
func (c *Client) DiscoverDescriptors(ch *CharacteristicInfo, cb func(err error)) error {
	if ch.ValueHandle >= ch.EndHandle {
		ch.Descriptors = nil
		cb(nil)
		return nil
	}
	return c.conn.FindInformation(att.HandleRange{Start: ch.ValueHandle + 1, End: ch.EndHandle}, func(entries []att.FindInfoEntry, rerr error) {
		if rerr != nil {
			if protocolErrorIsAbsence(rerr) {
				ch.Descriptors = nil
				cb(nil)
				return
			}
			cb(rerr)
			return
		}
		ch.Descriptors = ch.Descriptors[:0]
		for _, e := range entries {
			ch.Descriptors = append(ch.Descriptors, DescriptorInfo{Handle: e.Handle, UUID: e.Type})
		}
		c.persist()
		cb(nil)
	})
}

func u16le(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

// InvalidateServices discards every cached service interval overlapping
// [start,end] from all categories, marks surviving services whose
// includes reference the invalidated range for rediscovery, clears
// hasAllPrimaryServices, and persists the resulting cache.
func (c *Client) InvalidateServices(start, end uint16) {
	c.allPrimary.RemoveOverlapping(start, end)
	c.secondary.RemoveOverlapping(start, end)
	for _, m := range c.byUUID {
		m.RemoveOverlapping(start, end)
	}
	invalidateIncludes(c.allPrimary, start, end)
	invalidateIncludes(c.secondary, start, end)
	c.hasAll = false
	c.persist()
}

func invalidateIncludes(m *rangemap.Map, start, end uint16) {
	for _, e := range m.Entries() {
		svc, ok := e.Value.(*ServiceInfo)
		if !ok || svc == nil {
			continue
		}
		for i := range svc.Includes {
			inc := &svc.Includes[i]
			if inc.Start() <= end && start <= inc.End() {
				*inc = IncludeInfo{StartHandle: inc.StartHandle, EndHandle: inc.EndHandle}
			}
		}
	}
}

func (i IncludeInfo) Start() uint16 { return i.StartHandle }
func (i IncludeInfo) End() uint16   { return i.EndHandle }
