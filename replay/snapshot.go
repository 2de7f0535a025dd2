// snapshot.go - enumerate a ZFS dataset's snapshots in creation order
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
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot describes one `dataset@name` snapshot: its full name, the
// dataset it belongs to, its bare snapshot name, its creation
// timestamp, and the path under .zfs/snapshot where its contents are
// exposed read-only.
type Snapshot struct {
	Fullname string
	Volume   string
	Name     string
	Creation time.Time
	Root     string
}

// GetSnapshots lists every snapshot of volume, in creation order.
// Grounded on `zfs list -rd1 -tall -Hp -otype,name,creation,mountpoint`:
// the command also reports the dataset's own "filesystem" row (and, if
// present, a child filesystem's), which is used only to recover the
// dataset's mountpoint for building each snapshot's .zfs/snapshot root.
func GetSnapshots(volume string) ([]Snapshot, error) {
	out, err := exec.Command("zfs", "list", "-rd1", "-tall", "-Hp",
		"-otype,name,creation,mountpoint", volume).Output()
	if err != nil {
		return nil, &Error{"zfs-list", volume, err}
	}
	return parseSnapshots(string(out), volume)
}

// parseSnapshots parses the tab-separated output of
// `zfs list -rd1 -tall -Hp -otype,name,creation,mountpoint volume`,
// split out from GetSnapshots so it can be exercised without a real
// zfs binary.
func parseSnapshots(out, volume string) ([]Snapshot, error) {
	var snaproot string
	var snaps []Snapshot

	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if len(line) == 0 {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		kind, name, creationRaw, mountpoint := fields[0], fields[1], fields[2], fields[3]

		if kind == "filesystem" {
			if snaproot == "" {
				snaproot = filepath.Join(mountpoint, ".zfs", "snapshot")
			}
			continue
		}

		snapvol, snapname, ok := strings.Cut(name, "@")
		if !ok || snapvol != volume {
			continue
		}

		sec, err := strconv.ParseInt(creationRaw, 10, 64)
		if err != nil {
			return nil, &Error{"parse-creation", name, err}
		}

		snaps = append(snaps, Snapshot{
			Fullname: name,
			Volume:   snapvol,
			Name:     snapname,
			Creation: time.Unix(sec, 0),
			Root:     filepath.Join(snaproot, snapname),
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Creation.Before(snaps[j].Creation) })
	return snaps, nil
}
