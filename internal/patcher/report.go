package patcher

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Report summarizes one patch run
type Report struct {
	RunID    string
	DryRun   bool
	Scanned  int            // files read
	Modified []string       // files whose content changed, in processing order
	RuleHits map[string]int // rule name -> number of files it changed
}

// Result is the outcome of patching a single file
type Result struct {
	Path    string
	Changed bool
	Rules   []string // rules that changed the content
}

func newReport(runID string, dryRun bool) *Report {
	return &Report{
		RunID:    runID,
		DryRun:   dryRun,
		Modified: make([]string, 0),
		RuleHits: make(map[string]int),
	}
}

func (r *Report) record(res Result) {
	r.Scanned++
	if !res.Changed {
		return
	}
	r.Modified = append(r.Modified, res.Path)
	for _, name := range res.Rules {
		r.RuleHits[name]++
	}
}

// Count returns the number of modified files
func (r *Report) Count() int {
	return len(r.Modified)
}

// Print writes the human readable summary
func (r *Report) Print(w io.Writer) {
	verb := "Updated"
	mark := "✓"
	if r.DryRun {
		verb = "Would update"
		mark = "~"
	}

	for _, path := range r.Modified {
		_, _ = fmt.Fprintf(w, "  %s %s\n", mark, path)
	}
	_, _ = fmt.Fprintln(w)

	if r.Count() == 0 {
		_, _ = fmt.Fprintf(w, "✅ All %d files already up to date!\n", r.Scanned)
		return
	}

	_, _ = fmt.Fprintf(w, "✅ %s %d of %d files", verb, r.Count(), r.Scanned)
	if len(r.RuleHits) > 0 {
		names := make([]string, 0, len(r.RuleHits))
		for name := range r.RuleHits {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s: %d", name, r.RuleHits[name]))
		}
		_, _ = fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	_, _ = fmt.Fprintln(w, "!")
}
