package gattdb

import (
	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/storage"
)

// cccdPeer is the narrow view of storage.Store this package needs for
// connection-lifecycle CCCD restore, so gattdb doesn't take a harder
// dependency than it exercises.
type cccdPeer interface {
	AllCccds(peer string) map[uint16]byte
	StoreCccd(peer string, handle uint16, value byte) error
}

var _ cccdPeer = (*storage.Store)(nil)

// OnConnectedPhase1 loads every stored CCCD value for peer into the
// live attribute set, for a bonded reconnect. It must run before any ATT traffic is
// served on conn.
func (d *DB) OnConnectedPhase1(store cccdPeer, peer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	saved := store.AllCccds(peer)
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.cccdHandle == 0 {
				continue
			}
			v, ok := saved[c.cccdHandle]
			if !ok {
				continue
			}
			if a, ok := d.attrs[c.cccdHandle]; ok {
				a.SetValue([]byte{v, 0})
			}
		}
	}
}

// OnConnectedPhase2 fires OnSubscriptionChange, in ascending handle
// order, for every characteristic whose CCCD was restored nonzero by
// OnConnectedPhase1.
func (d *DB) OnConnectedPhase2(conn *att.Conn) {
	d.mu.Lock()
	type restored struct {
		c *Characteristic
		v byte
	}
	var fired []restored
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.cccdHandle == 0 {
				continue
			}
			a, ok := d.attrs[c.cccdHandle]
			if !ok {
				continue
			}
			v := a.Value()
			if len(v) > 0 && v[0] != 0 {
				fired = append(fired, restored{c, v[0]})
			}
		}
	}
	d.mu.Unlock()

	for _, r := range fired {
		if r.c.OnSubscriptionChange != nil {
			r.c.OnSubscriptionChange(conn, r.v&0x01 != 0, r.v&0x02 != 0, false)
		}
	}
}

// OnDisconnected clears conn's per-connection CCCD state and, if the
// peer had any nonzero subscription, fires
// OnSubscriptionChange(conn, false, false, false) once per affected
// characteristic.
func (d *DB) OnDisconnected(conn *att.Conn) {
	d.mu.Lock()
	type cleared struct{ c *Characteristic }
	var fired []cleared
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.cccdHandle == 0 {
				continue
			}
			a, ok := d.attrs[c.cccdHandle]
			if !ok {
				continue
			}
			v := a.Value()
			hadSub := len(v) > 0 && v[0] != 0
			a.SetValue([]byte{0, 0})
			if hadSub {
				fired = append(fired, cleared{c})
			}
		}
	}
	d.mu.Unlock()

	for _, r := range fired {
		if r.c.OnSubscriptionChange != nil {
			r.c.OnSubscriptionChange(conn, false, false, false)
		}
	}
}

// OnBondEstablished persists the current CCCD value of every
// subscribable characteristic for peer, for the late-bond-after-
// connection case.
func (d *DB) OnBondEstablished(store cccdPeer, peer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.cccdHandle == 0 {
				continue
			}
			a, ok := d.attrs[c.cccdHandle]
			if !ok {
				continue
			}
			v := a.Value()
			var b byte
			if len(v) > 0 {
				b = v[0]
			}
			if err := store.StoreCccd(peer, c.cccdHandle, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// PersistCCCDOnChange returns an OnSubscriptionChange wrapper that
// persists the new value for a bonded connection before delegating to
// inner, so a bonded connection's new value is persisted before any
// caller-supplied callback runs.
func PersistCCCDOnChange(store cccdPeer, peer string, handle uint16, inner func(conn *att.Conn, notify, indicate, isWrite bool)) func(conn *att.Conn, notify, indicate, isWrite bool) {
	return func(conn *att.Conn, notify, indicate, isWrite bool) {
		if isWrite {
			var v byte
			if notify {
				v |= 0x01
			}
			if indicate {
				v |= 0x02
			}
			_ = store.StoreCccd(peer, handle, v)
		}
		if inner != nil {
			inner(conn, notify, indicate, isWrite)
		}
	}
}
