//go:build linux

// Package hcisocket opens a raw Linux HCI socket and exposes it as an
// hci.Transport. It binds HCI_CHANNEL_USER first (the kernel then owns
// the controller exclusively and keeps its own HCI state machine out
// of the way) and falls back to HCI_CHANNEL_RAW on older kernels that
// don't support the user channel.
package hcisocket

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	afBluetooth = 31
	btprotoHCI  = 1

	channelRaw  = 0
	channelUser = 1
)

// rawSockaddrHCI mirrors struct sockaddr_hci from <bluetooth/hci.h>.
// x/sys/unix has no typed Sockaddr for AF_BLUETOOTH, so the bind call
// below builds this layout directly and issues the raw syscall.
type rawSockaddrHCI struct {
	family  uint16
	dev     uint16
	channel uint16
}

// Socket is a bound, opened HCI device, implementing hci.Transport.
type Socket struct {
	fd int
	wg sync.Mutex
}

// Open binds device index dev. dev of -1 tries index 0, the first
// index almost every single-adapter machine has.
func Open(dev int) (*Socket, error) {
	if dev < 0 {
		dev = 0
	}
	fd, err := unix.Socket(afBluetooth, unix.SOCK_RAW, btprotoHCI)
	if err != nil {
		return nil, fmt.Errorf("hcisocket: socket: %w", err)
	}
	if err := bind(fd, dev, channelUser); err != nil {
		if err := bind(fd, dev, channelRaw); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("hcisocket: bind dev %d: %w", dev, err)
		}
	}
	return &Socket{fd: fd}, nil
}

func bind(fd, dev, channel int) error {
	sa := rawSockaddrHCI{family: afBluetooth, dev: uint16(dev), channel: uint16(channel)}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		return errno
	}
	return nil
}

// Write implements hci.Transport.
func (s *Socket) Write(b []byte) error {
	_, err := unix.Write(s.fd, b)
	return err
}

// Read blocks until a full HCI packet is available, for the caller's
// read loop to feed into hci.Adapter.Deliver.
func (s *Socket) Read(b []byte) (int, error) {
	return unix.Read(s.fd, b)
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
