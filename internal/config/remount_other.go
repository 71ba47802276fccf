//go:build !linux

package config

// remountRW/remountRO are no-ops off Linux (development machines, CI):
// there is no configfs/overlay root to remount.
func remountRW(path string) error { return nil }
func remountRO(path string) error { return nil }
