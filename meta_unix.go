// meta_unix.go -- clone symlink targets and their own xattr on
// unixish platforms
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
	"os"
)

// clone a symlink - ie we make the target point to the same one as src
func clonelink(dest string, src string, fi *Node) error {
	targ, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink: %w", err)
	}
	if err = os.Symlink(targ, dest); err != nil {
		return fmt.Errorf("symlink: %w", err)
	}

	return lclonexattr(dest, fi)
}

// clone the xattr of the symlink itself (never the target it points to)
func lclonexattr(dest string, fi *Node) error {
	return LreplaceXattr(dest, fi.Xattr)
}
