package walk

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	zfsreplay "github.com/opencoff/zfsreplay"
)

func collect(t *testing.T, opt Options) map[string]*zfsreplay.Node {
	t.Helper()
	var mu sync.Mutex
	got := make(map[string]*zfsreplay.Node)

	err := WalkFunc(opt, func(n *zfsreplay.Node) error {
		mu.Lock()
		got[n.RelPath()] = n
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("WalkFunc: %s", err)
	}
	return got
}

func TestWalkFuncCollectsAllEntries(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	mkfileT(t, root, "a/file1")
	mkdirT(t, root, "b/sub")
	mkfileT(t, root, "b/sub/file2")

	got := collect(t, Options{Root: root})

	for _, rel := range []string{".", "a", "a/file1", "b", "b/sub", "b/sub/file2"} {
		_, ok := got[rel]
		assert(ok, "expected %q in walk output, got %v", rel, keys(got))
	}
	assert(got["a"].IsDir(), "a should be a directory")
	assert(got["a/file1"].IsRegular(), "a/file1 should be a regular file")
}

func TestWalkFuncHonorsExcludes(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	mkfileT(t, root, "keep.txt")
	mkfileT(t, root, "skip.tmp")
	mkdirT(t, root, "cache")
	mkfileT(t, root, "cache/data")

	got := collect(t, Options{Root: root, Excludes: []string{"*.tmp", "cache"}})

	_, hasSkip := got["skip.tmp"]
	assert(!hasSkip, "skip.tmp should have been excluded")
	_, hasCache := got["cache"]
	assert(!hasCache, "cache dir should have been excluded")
	_, hasCacheData := got["cache/data"]
	assert(!hasCacheData, "excluded directories must not be descended into")
	_, hasKeep := got["keep.txt"]
	assert(hasKeep, "keep.txt should not have been excluded")
}

func TestWalkFuncFilterCallback(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	mkfileT(t, root, "visible")
	mkfileT(t, root, "hidden")

	got := collect(t, Options{
		Root: root,
		Filter: func(n *zfsreplay.Node) (bool, error) {
			return n.Name() == "hidden", nil
		},
	})

	_, hasHidden := got["hidden"]
	assert(!hasHidden, "hidden should have been filtered out")
	_, hasVisible := got["visible"]
	assert(hasVisible, "visible should have passed the filter")
}

func TestWalkFuncFollowSymlinksIntoDirectory(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	mkdirT(t, root, "real")
	mkfileT(t, root, "real/inside")

	link := filepath.Join(root, "link")
	if err := os.Symlink(filepath.Join(root, "real"), link); err != nil {
		t.Fatalf("symlink: %s", err)
	}

	withoutFollow := collect(t, Options{Root: root})
	n, ok := withoutFollow["link"]
	assert(ok, "link should appear in the walk output")
	assert(n.IsSymlink(), "without FollowSymlinks, link should stay a symlink entry")

	withFollow := collect(t, Options{Root: root, FollowSymlinks: true})
	_, hasInside := withFollow["real/inside"]
	assert(hasInside, "with FollowSymlinks, the symlink's target directory should be descended")
}

func TestIndexBuildsRelPathAndInodeViews(t *testing.T) {
	assert := newAsserter(t)

	root := t.TempDir()
	mkfileT(t, root, "one")
	mkdirT(t, root, "sub")
	mkfileT(t, root, "sub/two")

	hardlink := filepath.Join(root, "one-again")
	if err := os.Link(filepath.Join(root, "one"), hardlink); err != nil {
		t.Fatalf("link: %s", err)
	}

	idx, err := Index(Options{Root: root})
	assert(err == nil, "Index: %s", err)

	one, ok := idx.ByRelPath["one"]
	assert(ok, "expected \"one\" in ByRelPath")
	again, ok := idx.ByRelPath["one-again"]
	assert(ok, "expected \"one-again\" in ByRelPath")

	set := idx.ByInode[one.HardlinkKey()]
	assert(len(set) == 2, "expected a 2-member hardlink set, got %d", len(set))
	assert(again.HardlinkKey() == one.HardlinkKey(), "hardlinked files should share a HardlinkKey")

	// Nodes is sorted by relpath, children after parents.
	var prev string
	for _, n := range idx.Nodes {
		assert(prev <= n.RelPath(), "Nodes not sorted: %q came after %q", n.RelPath(), prev)
		prev = n.RelPath()
	}
}

func keys(m map[string]*zfsreplay.Node) []string {
	var ks []string
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}
