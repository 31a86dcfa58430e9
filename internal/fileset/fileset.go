package fileset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultExtensions are the file extensions patched when none are configured
var DefaultExtensions = []string{".html"}

// Options selects the files of a site to operate on
type Options struct {
	Root       string   // site root, "." if empty
	Dirs       []string // directories relative to Root, in processing order
	Extensions []string // extensions including the dot, matched case-insensitively
	Recursive  bool     // descend into subdirectories
}

// HasExtension returns true if path ends in one of the given extensions
func HasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, valid := range extensions {
		if strings.EqualFold(ext, valid) {
			return true
		}
	}
	return false
}

// IsHidden returns true for dotfiles, including the patcher's temp files
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// DirPaths joins each configured directory onto the root
func (o Options) DirPaths() []string {
	root := o.Root
	if root == "" {
		root = "."
	}
	paths := make([]string, 0, len(o.Dirs))
	for _, dir := range o.Dirs {
		paths = append(paths, filepath.Join(root, dir))
	}
	return paths
}

// Discover finds the files selected by opts. Directories that do not exist
// are skipped. The order is stable: directories in configured order, file
// names sorted within each directory. A path is listed at most once.
func Discover(fs afero.Fs, opts Options) ([]string, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, dir := range opts.DirPaths() {
		info, err := fs.Stat(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}

		var found []string
		if opts.Recursive {
			found, err = walk(fs, dir, extensions)
		} else {
			found, err = list(fs, dir, extensions)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to discover files in %s: %w", dir, err)
		}
		for _, path := range found {
			add(path)
		}
	}

	return files, nil
}

// list returns the matching files directly inside dir
func list(fs afero.Fs, dir string, extensions []string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || IsHidden(entry.Name()) {
			continue
		}
		if HasExtension(entry.Name(), extensions) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// walk returns the matching files below dir. Hidden files and directories
// (names starting with ".") are skipped.
func walk(fs afero.Fs, dir string, extensions []string) ([]string, error) {
	var files []string

	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path != dir && IsHidden(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() && HasExtension(path, extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
