// jobs.go - build a replay chain's job list from a series of snapshots
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package replay

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MakeJobs turns a chronologically ordered snapshot list into one
// SyncJob per consecutive (snaps[i], snaps[i+1]) pair, replaying each
// step onto a shared target dataset. Unless skipStart is set, an extra
// leading job seeds the target from its own current contents (a=target)
// to the oldest snapshot in the chain (b=snaps[0]) - this is how the
// very first replay of a previously-unmanaged target bootstraps itself.
func MakeJobs(snaps []Snapshot, dstVolume, srcSubdir, dstSubdir string, ignore []string, skipStart, isZFS bool) []*SyncJob {
	target := filepath.Join("/mnt", dstVolume, dstSubdir)

	var jobs []*SyncJob
	for i := 0; i < len(snaps)-1; i++ {
		a, b := snaps[i], snaps[i+1]

		if i == 0 && !skipStart {
			jobs = append(jobs, NewSyncJob(
				dstVolume,
				a.Creation.Format("2006-01-02T15")+"."+lastElem(a.Volume),
				target,
				filepath.Join(a.Root, srcSubdir),
				target, "", ignore, false,
			))
		}

		jobs = append(jobs, NewSyncJob(
			dstVolume,
			b.Creation.Format("2006-01-02T15")+"."+lastElem(b.Volume),
			filepath.Join(a.Root, srcSubdir),
			filepath.Join(b.Root, srcSubdir),
			target, "", ignore, isZFS,
		))
	}
	return jobs
}

// MakeZFSJobs builds a chain from a real ZFS dataset's snapshot
// history. If srcSubdir is non-empty, snapshots that don't contain
// that subdirectory are dropped from the chain (they predate the
// subdirectory's existence).
func MakeZFSJobs(srcVolume, dstVolume, srcSubdir string, ignore []string, skipStart bool) ([]*SyncJob, error) {
	snaps, err := GetSnapshots(srcVolume)
	if err != nil {
		return nil, err
	}

	if srcSubdir != "" {
		filtered := snaps[:0]
		for _, s := range snaps {
			if _, err := os.Stat(filepath.Join(s.Root, srcSubdir)); err == nil {
				filtered = append(filtered, s)
			}
		}
		snaps = filtered
	}

	return MakeJobs(snaps, dstVolume, srcSubdir, "", ignore, skipStart, true), nil
}

// timestampLayouts are the two directory-name shapes a timestamped
// (non-ZFS) backup root may use.
var timestampLayouts = []string{"2006-01-02T15-04-05", "2006-01-02"}

// MakeTimestampedJobs builds a chain from a directory of dated backup
// snapshots that aren't ZFS snapshots at all (e.g. an rsync
// --link-dest backup tree) - every direct child of root whose name
// starts with "20" and parses under one of timestampLayouts becomes a
// synthetic Snapshot.
func MakeTimestampedJobs(root, srcName, dstVolume, dstSubdir string, ignore []string) ([]*SyncJob, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &Error{"readdir", root, err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "20") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var snaps []Snapshot
	for _, name := range names {
		var creation time.Time
		var err error
		for _, layout := range timestampLayouts {
			creation, err = time.Parse(layout, name)
			if err == nil {
				break
			}
		}
		if err != nil {
			continue
		}

		snaps = append(snaps, Snapshot{
			Fullname: "backups/" + srcName + "@" + name,
			Volume:   "bak",
			Name:     name,
			Creation: creation,
			Root:     filepath.Join(root, name),
		})
	}

	return MakeJobs(snaps, dstVolume, "", dstSubdir, ignore, false, false), nil
}

func lastElem(volume string) string {
	parts := strings.Split(volume, "/")
	return parts[len(parts)-1]
}
