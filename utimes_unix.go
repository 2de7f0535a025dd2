// utimes_unix.go -- set file times for unixish platforms, without
// following a trailing symlink
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

//go:build unix

package zfsreplay

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// clonetimes sets dest's atime/mtime to match fi, never following a
// trailing symlink.
func clonetimes(dest string, fi *Node) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(fi.Atim.UnixNano()),
		unix.NsecToTimeval(fi.Mtim.UnixNano()),
	}

	if err := unix.Lutimes(dest, tv); err != nil {
		return fmt.Errorf("utimes: %w", err)
	}
	return nil
}
