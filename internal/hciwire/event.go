package hciwire

// EventCode identifies an HCI event, the byte following the packet
// type in an Event packet.
type EventCode uint8

const (
	EventDisconnectionComplete       EventCode = 0x05
	EventEncryptionChange            EventCode = 0x08
	EventReadRemoteVersionInfoComplete EventCode = 0x0c
	EventCommandComplete             EventCode = 0x0e
	EventCommandStatus               EventCode = 0x0f
	EventHardwareError               EventCode = 0x10
	EventNumberOfCompletedPackets    EventCode = 0x13
	EventEncryptionKeyRefreshComplete EventCode = 0x30
	EventLEMeta                      EventCode = 0x3e
)

// LESubeventCode identifies an LE meta event subevent (the first byte
// of an LEMeta event's parameters).
type LESubeventCode uint8

const (
	LESubConnectionComplete           LESubeventCode = 0x01
	LESubAdvertisingReport            LESubeventCode = 0x02
	LESubConnectionUpdateComplete     LESubeventCode = 0x03
	LESubReadRemoteFeaturesComplete   LESubeventCode = 0x04
	LESubLongTermKeyRequest           LESubeventCode = 0x05
	LESubEnhancedConnectionComplete   LESubeventCode = 0x0a
	LESubReadLocalP256KeyComplete     LESubeventCode = 0x08
	LESubGenerateDHKeyComplete        LESubeventCode = 0x09
	LESubPHYUpdateComplete            LESubeventCode = 0x0c
	LESubExtendedAdvertisingReport    LESubeventCode = 0x0d
)
