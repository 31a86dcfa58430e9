package patcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/schaermu/sitepatch/internal/rule"
)

// maxLinkHops bounds symlink resolution before a file is patched
const maxLinkHops = 40

// Engine applies a rule chain to a set of files
type Engine struct {
	fs     afero.Fs
	rules  []rule.Rule
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new patch engine
func NewEngine(fs afero.Fs, rules []rule.Rule, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		fs:     fs,
		rules:  rules,
		logger: logger,
		dryRun: dryRun,
	}
}

// Run patches files one at a time in the given order. On error the report
// still lists the files written before the failure.
func (e *Engine) Run(ctx context.Context, files []string) (*Report, error) {
	report := newReport(uuid.NewString(), e.dryRun)
	logger := e.logger.With("run_id", report.RunID)

	logger.Info("starting patch run",
		"files", len(files),
		"rules", ruleNames(e.rules),
		"dry_run", e.dryRun)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("patch run interrupted: %w", err)
		}

		res, err := e.PatchFile(path)
		if err != nil {
			return report, err
		}
		report.record(res)

		if res.Changed {
			if e.dryRun {
				logger.Info("[dry-run] would patch file", "path", path, "rules", res.Rules)
			} else {
				logger.Info("patched file", "path", path, "rules", res.Rules)
			}
		} else {
			logger.Debug("file unchanged", "path", path)
		}
	}

	logger.Info("patch run complete",
		"scanned", report.Scanned,
		"modified", report.Count())
	return report, nil
}

// PatchFile applies the rule chain to one file and writes it back if the
// content changed. In dry-run mode nothing is written. A symlinked page is
// patched at its target, so the link itself survives.
func (e *Engine) PatchFile(path string) (Result, error) {
	res := Result{Path: path}

	target, err := e.resolveLink(path)
	if err != nil {
		return res, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	info, err := e.fs.Stat(target)
	if err != nil {
		return res, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	content, err := afero.ReadFile(e.fs, target)
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", path, err)
	}

	patched, applied := Transform(content, e.rules)
	if bytes.Equal(patched, content) {
		return res, nil
	}
	res.Changed = true
	res.Rules = applied

	if e.dryRun {
		return res, nil
	}

	if err := e.writeFile(target, patched, info.Mode().Perm()); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return res, nil
}

// Transform runs content through rules in order and returns the result
// together with the names of the rules that changed it.
func Transform(content []byte, rules []rule.Rule) ([]byte, []string) {
	var applied []string
	for _, r := range rules {
		var changed bool
		content, changed = r.Apply(content)
		if changed {
			applied = append(applied, r.Name())
		}
	}
	return content, applied
}

// resolveLink follows symlinks until it reaches a non-link path. Filesystems
// without link support return path unchanged.
func (e *Engine) resolveLink(path string) (string, error) {
	lstater, ok := e.fs.(afero.Lstater)
	if !ok {
		return path, nil
	}
	reader, ok := e.fs.(afero.LinkReader)
	if !ok {
		return path, nil
	}

	for i := 0; i < maxLinkHops; i++ {
		info, lstatCalled, err := lstater.LstatIfPossible(path)
		if err != nil {
			return "", err
		}
		if !lstatCalled || info.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}

		dest, err := reader.ReadlinkIfPossible(path)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(path), dest)
		}
		path = dest
	}
	return "", fmt.Errorf("too many levels of symbolic links")
}

// writeFile replaces path with data via a temp file and rename. The new
// file keeps the permission bits but is owned by the running user.
func (e *Engine) writeFile(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := afero.TempFile(e.fs, filepath.Dir(path), ".sitepatch-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = e.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := e.fs.Chmod(tmpPath, mode); err != nil {
		return err
	}

	return e.fs.Rename(tmpPath, path)
}

func ruleNames(rules []rule.Rule) []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name()
	}
	return names
}
