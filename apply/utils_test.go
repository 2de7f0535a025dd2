package apply

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/opencoff/go-logger"
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

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger("STDOUT", logger.LOG_DEBUG, t.Name(), logger.Ldate|logger.Ltime)
	if err != nil {
		t.Fatalf("logger: %s", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("mkdir %s: %s", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %s", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %s", path, err)
	}
	return string(b)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyTree duplicates src's contents (files, dirs, symlinks) into dst,
// which must not yet exist; it stands in for the real backing command's
// "T already starts byte-equivalent to A" precondition.
func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	if err := os.MkdirAll(dst, 0700); err != nil {
		t.Fatalf("mkdir %s: %s", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("readdir %s: %s", src, err)
	}
	for _, e := range entries {
		sp := filepath.Join(src, e.Name())
		dp := filepath.Join(dst, e.Name())
		fi, err := os.Lstat(sp)
		if err != nil {
			t.Fatalf("lstat %s: %s", sp, err)
		}
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(sp)
			if err != nil {
				t.Fatalf("readlink %s: %s", sp, err)
			}
			if err := os.Symlink(target, dp); err != nil {
				t.Fatalf("symlink %s: %s", dp, err)
			}
		case fi.IsDir():
			copyTree(t, sp, dp)
		default:
			copyFile(t, sp, dp, fi.Mode())
		}
	}
}

func copyFile(t *testing.T, src, dst string, mode os.FileMode) {
	t.Helper()
	s, err := os.Open(src)
	if err != nil {
		t.Fatalf("open %s: %s", src, err)
	}
	defer s.Close()
	d, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		t.Fatalf("create %s: %s", dst, err)
	}
	defer d.Close()
	if _, err := io.Copy(d, s); err != nil {
		t.Fatalf("copy %s -> %s: %s", src, dst, err)
	}
}
