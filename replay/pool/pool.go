// pool.go - parse `zpool list -v` into a structured pool/vdev/disk tree
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

// Package pool reports target-pool health and capacity before a replay
// chain starts, by parsing `zpool list -v`. This is not part of the
// core diff/apply pipeline; it's a supplementary pre-flight check the
// driver can run to avoid starting a chain against a degraded or
// nearly-full pool.
package pool

import (
	"os/exec"
	"strings"
)

// Stats is one line of `zpool list -v` output: a pool, a vdev, or a
// disk row, depending on which fields are populated. A "-" field in
// the raw output becomes an empty string here.
type Stats struct {
	Name     string
	Size     string
	Alloc    string
	Free     string
	ExpandSz string
	Frag     string
	Cap      string
	Dedup    string
	Health   string
	AltRoot  string
}

// Disk is a leaf device within a vdev.
type Disk struct {
	Name  string
	Index int
}

// Vdev is a redundancy group (mirror, raidzN, log, cache, spare) within
// a pool, made up of one or more disks.
type Vdev struct {
	Name  string
	Stats Stats
	Index int
	Disks []Disk
}

// Pool is one top-level zpool, with its own stats and the vdevs inside
// it.
type Pool struct {
	Name  string
	Stats Stats
	Vdevs []Vdev
}

// vdevTypes names the vdev kinds `zpool list -v` uses in its "NAME"
// column, distinguishing a vdev row from a leaf disk row.
var vdevTypes = map[string]bool{
	"raidz1": true, "raidz2": true, "raidz3": true,
	"log": true, "cache": true, "spare": true, "mirror": true,
}

// List runs `zpool list -v` and parses its output.
func List() ([]Pool, error) {
	out, err := exec.Command("zpool", "list", "-v").Output()
	if err != nil {
		return nil, err
	}
	return Parse(string(out)), nil
}

// Parse parses the text of `zpool list -v` output (header line
// included) into a Pool tree. Exported separately from List so callers
// can feed it captured output in tests without shelling out.
func Parse(output string) []Pool {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 {
		lines = lines[1:] // header
	}

	var pools []Pool
	var curPool *Pool
	var curVdev *Vdev
	var disks []Disk

	finishVdev := func() {
		if curVdev == nil {
			return
		}
		curVdev.Index = len(curPool.Vdevs)
		curVdev.Disks = disks
		curPool.Vdevs = append(curPool.Vdevs, *curVdev)
		curVdev = nil
		disks = nil
	}
	finishPool := func() {
		if curPool == nil {
			return
		}
		finishVdev()
		pools = append(pools, *curPool)
		curPool = nil
	}

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		for len(fields) < 10 {
			fields = append(fields, "-")
		}
		for i, f := range fields {
			if f == "-" {
				fields[i] = ""
			}
		}
		st := Stats{
			Name: fields[0], Size: fields[1], Alloc: fields[2], Free: fields[3],
			ExpandSz: fields[4], Frag: fields[5], Cap: fields[6], Dedup: fields[7],
			Health: fields[8], AltRoot: fields[9],
		}

		isPool := st.Health != ""
		isVdev := vdevTypes[st.Name]

		switch {
		case isPool:
			finishPool()
			curPool = &Pool{Name: st.Name, Stats: st}
		case isVdev:
			finishVdev()
			curVdev = &Vdev{Name: st.Name, Stats: st}
		default:
			if curPool != nil {
				disks = append(disks, Disk{Name: st.Name, Index: len(disks)})
			}
		}
	}
	finishPool()
	return pools
}
