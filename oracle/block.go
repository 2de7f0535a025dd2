// block.go - the block-identity oracle: one-shot `zdb -ddddd` lookups
// of a regular file's top-level indirect block locator.
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

package oracle

import (
	"bufio"
	"os/exec"
	"regexp"
	"strconv"
)

// DefaultZdbCmd is the zfs debugger binary invoked per BlockID call.
const DefaultZdbCmd = "zdb"

// blockLine matches zdb -ddddd's top-level indirect block line, e.g.
//
//	    0 L5      0:29ed4bcd7000:3000 20000L/1000P F=14 B=14229055/14229055
//
// group 1 is the vdev:offset:size locator that identifies the block.
var blockLine = regexp.MustCompile(`^\s*0\s+L\d\s+([0-9a-f]+:[0-9a-f]+:[0-9a-f]+)`)

// BlockOracle spawns a fresh zdb subprocess per call; there is no
// persistent state to amortize across calls the way the generation
// oracle does, since each invocation targets a different object.
type BlockOracle struct {
	zdb string
}

// NewBlockOracle creates a block-identity oracle that invokes zdbPath
// (an empty string defaults to DefaultZdbCmd).
func NewBlockOracle(zdbPath string) *BlockOracle {
	if zdbPath == "" {
		zdbPath = DefaultZdbCmd
	}
	return &BlockOracle{zdb: zdbPath}
}

// BlockID implements apply.BlockOracle: it returns the top-level
// indirect block locator for inode ino within dataset@snapshot, or
// ok=false if zdb's output never produced a matching line.
func (o *BlockOracle) BlockID(snapshot string, ino uint64) (string, bool, error) {
	cmd := exec.Command(o.zdb, "-ddddd", snapshot, strconv.FormatUint(ino, 10))
	out, err := cmd.StdoutPipe()
	if err != nil {
		return "", false, &Error{"blockid", snapshot, err}
	}
	if err := cmd.Start(); err != nil {
		return "", false, &Error{"blockid", snapshot, err}
	}

	var id string
	found := false
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		m := blockLine.FindStringSubmatch(scanner.Text())
		if m != nil {
			id = m[1]
			found = true
			break
		}
	}

	// We only ever need the first match; stop reading and reap the
	// child regardless of how far it got.
	out.Close()
	cmd.Process.Kill()
	cmd.Wait()

	if !found {
		return "", false, nil
	}
	return id, true, nil
}
