// Package mem applies best-effort process memory locking so cached key
// material is not swapped to disk.
package mem

// ProtectionLevel indicates how much swap protection the platform granted.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // no memory protection available
	ProtectionPartial                        // some protection measures applied
	ProtectionFull                           // all current and future pages locked
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "full"
	case ProtectionPartial:
		return "partial"
	default:
		return "none"
	}
}

// Lock attempts to prevent process memory from being swapped to disk and
// returns the protection level achieved.
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases memory locks if any were applied.
func Unlock() error {
	return unlockMemoryPlatform()
}
