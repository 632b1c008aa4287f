package att

// Permission is the access control level on an attribute's read or
// write path.
type Permission int

const (
	PermNotPermitted Permission = iota
	PermOpen
	PermEncrypted
	PermEncryptedMITM
	PermEncryptedMITMSC
	PermCustom
)

// EncryptionState is the current link security state of a connection,
// as consulted by CheckPermission.
type EncryptionState struct {
	Encrypted bool
	MITM      bool
	SC        bool
	// LTKStored records whether a long-term key is on file for this
	// peer; it decides which error code is returned when the link is
	// not encrypted but encryption is required.
	LTKStored bool
}

// CheckPermission evaluates perm against the connection's current
// encryption state for either a read or a write access. It returns 0
// on success, or the ATT error code to return to the peer.
func CheckPermission(perm Permission, enc EncryptionState, isWrite bool) Error {
	switch perm {
	case PermOpen, PermCustom:
		return 0
	case PermNotPermitted:
		if isWrite {
			return ErrorWriteNotPermitted
		}
		return ErrorReadNotPermitted
	case PermEncrypted, PermEncryptedMITM, PermEncryptedMITMSC:
		if !enc.Encrypted {
			if enc.LTKStored {
				return ErrorInsufficientEncryption
			}
			return ErrorInsufficientAuthentication
		}
		if perm == PermEncryptedMITM || perm == PermEncryptedMITMSC {
			if !enc.MITM {
				return ErrorInsufficientAuthentication
			}
		}
		if perm == PermEncryptedMITMSC && !enc.SC {
			return ErrorInsufficientAuthentication
		}
		return 0
	}
	return ErrorUnlikelyError
}
