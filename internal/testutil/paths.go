package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// ProjectRoot returns the directory holding go.mod, searching upwards from
// this source file. It fails the test when none is found.
func ProjectRoot(t testing.TB) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to get caller information")
	}

	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
