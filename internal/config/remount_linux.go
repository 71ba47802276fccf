//go:build linux

package config

import (
	"golang.org/x/sys/unix"
)

// remountRW/remountRO remount the root filesystem ("/") read-write or
// read-only in place; path is not consulted. This mirrors original_source/src/config.rs's
// remount_root() bracketing around config saves on the embedded target's
// (normally read-only) root filesystem.
func remountRW(path string) error {
	return remount(path, 0)
}

func remountRO(path string) error {
	return remount(path, unix.MS_RDONLY)
}

func remount(path string, flags uintptr) error {
	return unix.Mount("", "/", "", unix.MS_REMOUNT|flags, "")
}
