package mutate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/opencoff/go-logger"
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

func nodeAt(t *testing.T, path string) *zfsreplay.Node {
	t.Helper()
	n, err := zfsreplay.Lstat(path)
	if err != nil {
		t.Fatalf("lstat %s: %s", path, err)
	}
	return n
}
