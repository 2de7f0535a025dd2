// errors.go - descriptive errors for fio
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package zfsreplay

import (
	"errors"
	"fmt"
)

// errAny returns true if the target error 'err' matches
// any in the list 'errs'; and returns false otherwise
func errAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// CopyError represents the errors returned by
// CopyFile and CopyFd
type CopyError struct {
	Op  string
	Src string
	Dst string
	Err error
}

// Error returns a string representation of CopyError
func (e *CopyError) Error() string {
	return fmt.Sprintf("copyfile: %s '%s' '%s': %s",
		e.Op, e.Src, e.Dst, e.Err.Error())
}

// Unwrap returns the underlying wrapped error
func (e *CopyError) Unwrap() error {
	return e.Err
}

var _ error = &CopyError{}

// HardlinkWarning is reported (never fatal) when the Pair-Matcher finds
// an inode with more than one name on either side of a pair; only the
// first-encountered name on each side is paired, the rest are noted
// here for the caller to log.
type HardlinkWarning struct {
	Inode      string
	SrcAliases []string
	DstAliases []string
}

func (w *HardlinkWarning) Error() string {
	return fmt.Sprintf("hardlink: inode %s has multiple names: src=%v dst=%v",
		w.Inode, w.SrcAliases, w.DstAliases)
}

// RecycledInodeWarning is reported (never fatal) when COW-mode matching
// cannot confirm that an inode number means the same underlying file on
// both sides - either the generation oracle couldn't answer for one
// side, or the generations disagree (the inode number was recycled
// between snapshots). The pair is downgraded to two residuals.
type RecycledInodeWarning struct {
	RelPath string
	Ino     uint64
}

func (w *RecycledInodeWarning) Error() string {
	return fmt.Sprintf("recycled-inode: %s (ino %d): generation mismatch or unavailable", w.RelPath, w.Ino)
}
