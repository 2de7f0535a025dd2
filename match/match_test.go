package match

import (
	"os"
	"path/filepath"
	"testing"

	zfsreplay "github.com/opencoff/zfsreplay"
)

// stubOracle answers Generation queries from a fixed table keyed by
// "snapshot/ino"; a missing entry reports !ok.
type stubOracle struct {
	gen map[string]uint64
}

func (o *stubOracle) Generation(snapshot string, ino uint64) (uint64, bool, error) {
	g, ok := o.gen[key(snapshot, ino)]
	return g, ok, nil
}

func key(snapshot string, ino uint64) string {
	return snapshot + "/" + itoa(ino)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestMatchPathOnlyRename(t *testing.T) {
	assert := newAsserter(t)

	aRoot := t.TempDir()
	bRoot := t.TempDir()

	af := mkfile(t, aRoot, "old-name")
	bNode := mkfile(t, bRoot, "new-name")

	a := buildIndex(t, aRoot, af)
	b := buildIndex(t, bRoot, bNode)

	res, err := Match(a, b, Options{Mode: PATH_ONLY})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 0, "expected no pairs under PATH_ONLY rename, got %d", len(res.Pairs))
	assert(len(res.AOnly) == 1, "expected 1 a_only, got %d", len(res.AOnly))
	assert(len(res.BOnly) == 1, "expected 1 b_only, got %d", len(res.BOnly))
}

func TestMatchLinkedRecognizesRename(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	// a and b share the same underlying inode table (hardlinked
	// snapshot layout); b has renamed the entry.
	af := mkfile(t, root, "a-side/file")
	bf := mklink(t, root, "a-side/file", "b-side/file-renamed")

	a := buildIndex(t, root, af)
	b := buildIndex(t, root, bf)

	res, err := Match(a, b, Options{Mode: LINKED})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 1, "expected 1 pair (rename via inode), got %d", len(res.Pairs))
	assert(len(res.AOnly) == 0, "expected no a_only, got %d", len(res.AOnly))
	assert(len(res.BOnly) == 0, "expected no b_only, got %d", len(res.BOnly))
	assert(res.Pairs[0].Src.RelPath() == "a-side/file", "unexpected src relpath %s", res.Pairs[0].Src.RelPath())
	assert(res.Pairs[0].Dst.RelPath() == "b-side/file-renamed", "unexpected dst relpath %s", res.Pairs[0].Dst.RelPath())
}

// crossLink hardlinks aRoot/rel (which must already exist) into bRoot/rel,
// so the two sides share an inode the way a `--link-dest`-style or ZFS
// clone snapshot layout would, and returns the B-side Node.
func crossLink(t *testing.T, aRoot, bRoot, rel string) *zfsreplay.Node {
	t.Helper()
	src := filepath.Join(aRoot, rel)
	dst := filepath.Join(bRoot, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		t.Fatalf("mkdir %s: %s", filepath.Dir(dst), err)
	}
	if err := os.Link(src, dst); err != nil {
		t.Fatalf("link %s -> %s: %s", src, dst, err)
	}
	n, err := zfsreplay.NewNode(bRoot, dst, zfsreplay.KindRegular)
	if err != nil {
		t.Fatalf("newnode %s: %s", dst, err)
	}
	return n
}

func TestMatchCOWConfirmsSameGeneration(t *testing.T) {
	assert := newAsserter(t)

	aRoot := t.TempDir()
	bRoot := t.TempDir()

	af := mkfile(t, aRoot, "file")
	bf := crossLink(t, aRoot, bRoot, "file")

	a := buildIndex(t, aRoot, af)
	b := buildIndex(t, bRoot, bf)

	oracle := &stubOracle{gen: map[string]uint64{
		key("pool@a", af.Ino): 7,
		key("pool@b", bf.Ino): 7,
	}}

	res, err := Match(a, b, Options{
		Mode: COW, Oracle: oracle,
		SnapshotA: "pool@a", SnapshotB: "pool@b",
	})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 1, "expected 1 pair, got %d", len(res.Pairs))
	assert(len(res.Warnings) == 0, "expected no warnings, got %v", res.Warnings)
}

func TestMatchCOWDetectsRecycledInode(t *testing.T) {
	assert := newAsserter(t)

	aRoot := t.TempDir()
	bRoot := t.TempDir()

	af := mkfile(t, aRoot, "file")
	bf := crossLink(t, aRoot, bRoot, "file")

	a := buildIndex(t, aRoot, af)
	b := buildIndex(t, bRoot, bf)

	// generations disagree: the inode number was recycled on B for an
	// unrelated file.
	oracle := &stubOracle{gen: map[string]uint64{
		key("pool@a", af.Ino): 7,
		key("pool@b", bf.Ino): 9,
	}}

	res, err := Match(a, b, Options{
		Mode: COW, Oracle: oracle,
		SnapshotA: "pool@a", SnapshotB: "pool@b",
	})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 1, "expected only the M2 relpath pair when generations disagree, got %d", len(res.Pairs))
	assert(len(res.Warnings) == 1, "expected 1 recycled-inode warning, got %d", len(res.Warnings))

	// downgraded to residuals, falling through to M2 relpath matching,
	// which re-pairs them since the relpaths still agree.
	assert(len(res.AOnly) == 0, "expected relpath fallback to re-pair, a_only=%d", len(res.AOnly))
	assert(len(res.BOnly) == 0, "expected relpath fallback to re-pair, b_only=%d", len(res.BOnly))
}

func TestMatchTypeChangeAtSameRelPathIsNotAPair(t *testing.T) {
	assert := newAsserter(t)

	aRoot := t.TempDir()
	bRoot := t.TempDir()

	af := mkfile(t, aRoot, "entry")
	bd := mkdir(t, bRoot, "entry")

	a := buildIndex(t, aRoot, af)
	b := buildIndex(t, bRoot, bd)

	res, err := Match(a, b, Options{Mode: PATH_ONLY})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 0, "type change must not be paired, got %d pairs", len(res.Pairs))
	assert(len(res.AOnly) == 1, "expected a_only=1, got %d", len(res.AOnly))
	assert(len(res.BOnly) == 1, "expected b_only=1, got %d", len(res.BOnly))
}

func TestMatchHardlinkWarning(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	af := mkfile(t, root, "a-side/file")
	af2 := mklink(t, root, "a-side/file", "a-side/file-alias")

	bf := mklink(t, root, "a-side/file", "b-side/file")
	bf2 := mklink(t, root, "a-side/file", "b-side/file-alias")

	a := buildIndex(t, root, af, af2)
	b := buildIndex(t, root, bf, bf2)

	res, err := Match(a, b, Options{Mode: LINKED})
	assert(err == nil, "match: %s", err)
	assert(len(res.Pairs) == 1, "expected 1 pair for the hardlink set, got %d", len(res.Pairs))
	assert(len(res.Warnings) == 1, "expected 1 hardlink warning, got %d", len(res.Warnings))
}
