//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock is per-region and does not cover future allocations, so
	// Windows only gets partial protection.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
