// mknod_unixish.go -- mknod(2) for linux/darwin
//
// (c) 2021 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

//go:build linux || darwin

package zfsreplay

import (
	"fmt"
	"syscall"
)

// mknod recreates a device/fifo node. Device/fifo/socket replay is out
// of scope for this module (see Non-goals); this is kept only so
// CloneFile's type switch has a non-panicking default for an entry
// kind the walker itself never emits.
func mknod(dest string, fi *Node) error {
	if err := syscall.Mknod(dest, uint32(fi.Mod), int(fi.Rdev)); err != nil {
		return fmt.Errorf("mknod: %w", err)
	}
	return clonetimes(dest, fi)
}
