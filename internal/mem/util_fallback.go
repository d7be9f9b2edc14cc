//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// No mlockall equivalent; buffers are still wiped after use but pages
	// may be swapped.
	return ProtectionNone, nil
}

func unlockMemoryPlatform() error {
	return nil
}
