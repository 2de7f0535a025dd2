package match

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	zfsreplay "github.com/opencoff/zfsreplay"
)

func newAsserter(t *testing.T) func(cond bool, msg string, args ...interface{}) {
	return func(cond bool, msg string, args ...interface{}) {
		if cond {
			return
		}

		_, file, line, ok := runtime.Caller(1)
		if !ok {
			file = "???"
			line = 0
		}

		s := fmt.Sprintf(msg, args...)
		t.Fatalf("\n%s: %d: Assertion failed: %s\n", file, line, s)
	}
}

// mkfile creates a regular file with some content under root, making
// parent dirs as needed, and returns a Node built from it.
func mkfile(t *testing.T, root, rel string) *zfsreplay.Node {
	t.Helper()
	fn := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(fn), 0700); err != nil {
		t.Fatalf("mkdir %s: %s", filepath.Dir(fn), err)
	}
	if err := os.WriteFile(fn, []byte("hello "+rel), 0644); err != nil {
		t.Fatalf("write %s: %s", fn, err)
	}
	n, err := zfsreplay.NewNode(root, fn, zfsreplay.KindRegular)
	if err != nil {
		t.Fatalf("newnode %s: %s", fn, err)
	}
	return n
}

func mkdir(t *testing.T, root, rel string) *zfsreplay.Node {
	t.Helper()
	dn := filepath.Join(root, rel)
	if err := os.MkdirAll(dn, 0700); err != nil {
		t.Fatalf("mkdir %s: %s", dn, err)
	}
	n, err := zfsreplay.NewNode(root, dn, zfsreplay.KindDirectory)
	if err != nil {
		t.Fatalf("newnode %s: %s", dn, err)
	}
	return n
}

// mklink hardlinks an existing file to a new relpath under root and
// returns a Node for the new name.
func mklink(t *testing.T, root, existingRel, newRel string) *zfsreplay.Node {
	t.Helper()
	src := filepath.Join(root, existingRel)
	dst := filepath.Join(root, newRel)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		t.Fatalf("mkdir %s: %s", filepath.Dir(dst), err)
	}
	if err := os.Link(src, dst); err != nil {
		t.Fatalf("link %s -> %s: %s", src, dst, err)
	}
	n, err := zfsreplay.NewNode(root, dst, zfsreplay.KindRegular)
	if err != nil {
		t.Fatalf("newnode %s: %s", dst, err)
	}
	return n
}

func buildIndex(t *testing.T, root string, nodes ...*zfsreplay.Node) *zfsreplay.Index {
	t.Helper()
	nm := zfsreplay.NewNodeMap()
	for _, n := range nodes {
		nm.Store(n.RelPath(), n)
	}
	return zfsreplay.NewIndex(root, nm)
}
