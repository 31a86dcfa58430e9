//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/sitepatch/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the sitepatch binary once and runs it against site fixtures
type Harness struct {
	t      *testing.T
	binary string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:      t,
		binary: filepath.Join(t.TempDir(), "sitepatch"),
	}
}

// Build compiles ./cmd/sitepatch into a temp directory
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/sitepatch")
	cmd.Dir = testutil.ProjectRoot(h.t)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	h.t.Logf("Binary built at %s", h.binary)
	return nil
}

// Run executes the binary in dir
func (h *Harness) Run(ctx context.Context, dir string, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, dir, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}
