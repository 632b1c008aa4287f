// Command bleserver runs a minimal GATT peripheral over a real Linux
// HCI socket: a battery level service and a free-running counter
// service, advertised under a configurable device name. It doubles as
// a worked example of wiring hci.Adapter, att.Conn, gattdb.DB and
// storage.Store together end to end.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/gattdb"
	"github.com/mgandl/blehost/hci"
	"github.com/mgandl/blehost/internal/hciwire"
	"github.com/mgandl/blehost/internal/hcisocket"
	"github.com/mgandl/blehost/storage"
	"github.com/mgandl/blehost/uuid"
)

var (
	dev       = flag.Int("dev", -1, "HCI device index (-1 autodetects 0)")
	name      = flag.String("name", "blehost", "device name advertised in GAP")
	intervals = flag.Duration("interval", 100*time.Millisecond, "advertising interval (625us units internally)")
	storeDir  = flag.String("store", "", "bond/CCCD persistence directory (empty disables persistence)")
)

var (
	uuidBatteryService = uuid.UUID16(0x180f)
	uuidBatteryLevel   = uuid.UUID16(0x2a19)
	uuidCounterService = mustParse("aaaa0001-0000-1000-8000-00805f9b34fb")
	uuidCounterValue   = mustParse("aaaa0002-0000-1000-8000-00805f9b34fb")
)

func mustParse(s string) uuid.UUID {
	u, err := uuid.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func main() {
	flag.Parse()
	log := logrus.StandardLogger()

	sock, err := hcisocket.Open(*dev)
	if err != nil {
		log.WithError(err).Fatal("bleserver: failed to open HCI socket")
	}
	defer sock.Close()

	adapter := hci.New(sock, hci.WithLogger(log))
	go readLoop(sock, adapter, log)

	var store *storage.Store
	if *storeDir != "" {
		store = storage.New(*storeDir, 0x00, [6]byte{})
	}

	db := gattdb.New(gattdb.WithLogger(log))
	db.SetDeviceName(*name)

	counter := addCounterService(db)
	battery := addBatteryService(db)

	adapter.Reset(func(status uint8) {
		if status != 0 {
			log.WithField("status", status).Fatal("bleserver: HCI reset failed")
		}
		startAdvertising(adapter, log)
	})

	adapter.SetAdvertisingConnectionCallback(func(c *hci.Conn, err error) {
		if err != nil {
			log.WithError(err).Warn("bleserver: incoming connection failed")
			return
		}
		onConnect(c, db, store, log, counter, battery)
	})

	select {}
}

func readLoop(sock *hcisocket.Socket, adapter *hci.Adapter, log logrus.FieldLogger) {
	buf := make([]byte, 4096)
	for {
		n, err := sock.Read(buf)
		if err != nil {
			log.WithError(err).Error("bleserver: HCI socket read failed, stopping")
			adapter.Stop()
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		adapter.Deliver(packet)
	}
}

func startAdvertising(adapter *hci.Adapter, log logrus.FieldLogger) {
	units := uint16(*intervals / (625 * time.Microsecond))
	params := hciwire.LESetAdvertisingParameters{
		AdvertisingIntervalMin: units,
		AdvertisingIntervalMax: units,
		AdvertisingType:        0, // ADV_IND
		AdvertisingChannelMap:  0x07,
	}
	adapter.LESetAdvertisingParameters(params, func(status uint8) {
		if status != 0 {
			log.WithField("status", status).Fatal("bleserver: set advertising parameters failed")
		}
		data := buildAdvertisingData(*name)
		adapter.LESetAdvertisingData(data, func(status uint8) {
			if status != 0 {
				log.WithField("status", status).Fatal("bleserver: set advertising data failed")
			}
			adapter.LESetAdvertiseEnable(true, func(status uint8) {
				if status != 0 {
					log.WithField("status", status).Fatal("bleserver: advertise enable failed")
				}
				log.WithField("name", *name).Info("bleserver: advertising")
			})
		})
	})
}

// buildAdvertisingData packs a Flags AD structure and a Complete
// Local Name AD structure, truncating the name so the whole payload
// fits the 31-byte advertising data budget.
func buildAdvertisingData(name string) hciwire.LESetAdvertisingData {
	var out [31]byte
	n := 0

	out[n] = 2 // length
	out[n+1] = 0x01
	out[n+2] = 0x06 // LE General Discoverable + BR/EDR Not Supported
	n += 3

	nameBytes := []byte(name)
	maxName := len(out) - n - 2
	if len(nameBytes) > maxName {
		nameBytes = nameBytes[:maxName]
	}
	out[n] = byte(len(nameBytes) + 1)
	out[n+1] = 0x09 // Complete Local Name
	copy(out[n+2:], nameBytes)
	n += 2 + len(nameBytes)

	return hciwire.LESetAdvertisingData{AdvertisingDataLength: uint8(n), AdvertisingData: out}
}

// counterState is a free-running value that a background goroutine
// increments once a second and the characteristic's Read handler
// returns. No notification is sent when it changes.
type counterState struct {
	mu    sync.Mutex
	value uint32
}

func addCounterService(db *gattdb.DB) *gattdb.Characteristic {
	st := &counterState{}
	svc := &gattdb.Service{UUID: uuidCounterService}
	ch := svc.AddCharacteristic(uuidCounterValue, gattdb.PropRead|gattdb.PropNotify, att.PermOpen, att.PermNotPermitted, 4)
	ch.Read = func(conn *att.Conn, cb func(value []byte, err att.Error)) {
		st.mu.Lock()
		v := st.value
		st.mu.Unlock()
		cb(encodeU32(v), att.Error(0))
	}
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		panic(fmt.Sprintf("bleserver: failed to add counter service: %v", errs[0]))
	}
	go func() {
		for range time.Tick(time.Second) {
			st.mu.Lock()
			st.value++
			v := st.value
			st.mu.Unlock()
			ch.Value = encodeU32(v)
		}
	}()
	return ch
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func addBatteryService(db *gattdb.DB) *gattdb.Characteristic {
	svc := &gattdb.Service{UUID: uuidBatteryService}
	ch := svc.AddCharacteristic(uuidBatteryLevel, gattdb.PropRead|gattdb.PropNotify, att.PermOpen, att.PermNotPermitted, 1)
	ch.Value = []byte{100}
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		panic(fmt.Sprintf("bleserver: failed to add battery service: %v", errs[0]))
	}
	return ch
}

func onConnect(c *hci.Conn, db *gattdb.DB, store *storage.Store, log logrus.FieldLogger, notifiable ...*gattdb.Characteristic) {
	conn := att.NewConn(c, db, att.WithLogger(log))
	c.SetATTHandler(conn.Deliver)

	peer := peerAddrString(c.PeerAddress)
	log.WithField("peer", peer).Info("bleserver: central connected")

	if store != nil {
		db.OnConnectedPhase1(store, peer)
	}

	for _, ch := range notifiable {
		ch := ch
		ch.OnSubscriptionChange = func(conn *att.Conn, notify, indicate, isWrite bool) {
			log.WithFields(logrus.Fields{"peer": peer, "notify": notify, "indicate": indicate}).Debug("bleserver: subscription change")
		}
	}

	if store != nil {
		db.OnConnectedPhase2(conn)
	}

	c.DisconnectCallback = func(reason uint8) {
		log.WithField("peer", peer).Info("bleserver: central disconnected")
		db.OnDisconnected(conn)
	}
}

func peerAddrString(addr [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
