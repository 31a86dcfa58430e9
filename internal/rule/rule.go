package rule

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the transformation a rule performs
type Kind string

const (
	KindInsert        Kind = "insert"
	KindReplaceBlock  Kind = "replace-block"
	KindReplaceString Kind = "replace-string"
	KindComposite     Kind = "composite"
)

// Position selects which side of the landmark an Insert rule writes to
type Position string

const (
	After  Position = "after"
	Before Position = "before"
)

// Rule is a single idempotent text transformation.
//
// Apply returns the transformed content and whether it differs from the
// input. Applying a rule to its own output must not change it again.
type Rule interface {
	Name() string
	Kind() Kind
	Apply(content []byte) ([]byte, bool)
}

// Insert adds content next to the first landmark match unless every marker
// is already present.
type Insert struct {
	name     string
	markers  [][]byte
	landmark *regexp.Regexp
	content  []byte
	position Position
}

// NewInsert builds an Insert rule. The landmark is a regular expression;
// the inserted content must contain every marker, otherwise a second run
// would insert again.
func NewInsert(name string, markers []string, landmark, content string, position Position) (*Insert, error) {
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("rule %s: at least one marker is required", name)
	}
	if landmark == "" {
		return nil, fmt.Errorf("rule %s: landmark is required", name)
	}
	if content == "" {
		return nil, fmt.Errorf("rule %s: content is required", name)
	}
	switch position {
	case After, Before:
	default:
		return nil, fmt.Errorf("rule %s: invalid position %q (must be before or after)", name, position)
	}

	re, err := regexp.Compile(landmark)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid landmark: %w", name, err)
	}

	for _, m := range markers {
		if m == "" {
			return nil, fmt.Errorf("rule %s: empty marker", name)
		}
		if !strings.Contains(content, m) {
			return nil, fmt.Errorf("rule %s: content does not contain marker %q", name, m)
		}
	}

	return &Insert{
		name:     name,
		markers:  toBytes(markers),
		landmark: re,
		content:  []byte(content),
		position: position,
	}, nil
}

func (r *Insert) Name() string { return r.name }
func (r *Insert) Kind() Kind   { return KindInsert }

// Apply implements Rule
func (r *Insert) Apply(content []byte) ([]byte, bool) {
	if containsAll(content, r.markers) {
		return content, false
	}

	loc := r.landmark.FindIndex(content)
	if loc == nil {
		return content, false
	}

	at := loc[1]
	if r.position == Before {
		at = loc[0]
	}

	out := make([]byte, 0, len(content)+len(r.content))
	out = append(out, content[:at]...)
	out = append(out, r.content...)
	out = append(out, content[at:]...)
	return out, true
}

// ReplaceBlock rewrites an existing delimited block. It only acts when
// every marker is present, so files that were never patched stay untouched.
type ReplaceBlock struct {
	name    string
	markers [][]byte
	block   *regexp.Regexp
	content []byte
}

// NewReplaceBlock builds a ReplaceBlock rule. The block pattern is compiled
// with dot-matches-newline and should be non-greedy. The replacement must
// itself match the block pattern in full and carry every marker.
func NewReplaceBlock(name string, markers []string, block, content string) (*ReplaceBlock, error) {
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("rule %s: at least one marker is required", name)
	}
	if block == "" {
		return nil, fmt.Errorf("rule %s: block pattern is required", name)
	}

	re, err := regexp.Compile("(?s)" + block)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid block pattern: %w", name, err)
	}

	for _, m := range markers {
		if m == "" {
			return nil, fmt.Errorf("rule %s: empty marker", name)
		}
		if !strings.Contains(content, m) {
			return nil, fmt.Errorf("rule %s: content does not contain marker %q", name, m)
		}
	}
	if loc := re.FindStringIndex(content); loc == nil || loc[0] != 0 || loc[1] != len(content) {
		return nil, fmt.Errorf("rule %s: content is not matched in full by the block pattern", name)
	}

	return &ReplaceBlock{
		name:    name,
		markers: toBytes(markers),
		block:   re,
		content: []byte(content),
	}, nil
}

func (r *ReplaceBlock) Name() string { return r.name }
func (r *ReplaceBlock) Kind() Kind   { return KindReplaceBlock }

// Apply implements Rule
func (r *ReplaceBlock) Apply(content []byte) ([]byte, bool) {
	if !containsAll(content, r.markers) {
		return content, false
	}
	out := r.block.ReplaceAllLiteral(content, r.content)
	return out, !bytes.Equal(out, content)
}

// ReplaceString swaps every occurrence of a literal string
type ReplaceString struct {
	name string
	old  []byte
	new  []byte
}

// NewReplaceString builds a ReplaceString rule. The replacement may not be
// able to recreate the original string, alone or together with the text
// around it.
func NewReplaceString(name, old, replacement string) (*ReplaceString, error) {
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if old == "" {
		return nil, fmt.Errorf("rule %s: old string is required", name)
	}
	if strings.Contains(replacement, old) {
		return nil, fmt.Errorf("rule %s: replacement contains the original string", name)
	}
	if canRecreate(old, replacement) {
		return nil, fmt.Errorf("rule %s: replacement can recreate the original string with surrounding text", name)
	}
	return &ReplaceString{name: name, old: []byte(old), new: []byte(replacement)}, nil
}

// canRecreate reports whether some text, after every occurrence of old is
// replaced, can contain old again. Such an occurrence must overlap an
// inserted replacement: it contains the replacement, or starts inside it,
// or ends inside it. With an empty replacement old[:k]+old+old[k:] collapses
// back into old.
func canRecreate(old, replacement string) bool {
	if replacement == "" {
		return len(old) > 1
	}
	if strings.Contains(old, replacement) {
		return true
	}
	for k := 1; k < len(old) && k <= len(replacement); k++ {
		// replacement ends with the first k bytes of old
		if strings.HasSuffix(replacement, old[:k]) {
			return true
		}
		// replacement starts with the last k bytes of old
		if strings.HasPrefix(replacement, old[len(old)-k:]) {
			return true
		}
	}
	return false
}

func (r *ReplaceString) Name() string { return r.name }
func (r *ReplaceString) Kind() Kind   { return KindReplaceString }

// Apply implements Rule
func (r *ReplaceString) Apply(content []byte) ([]byte, bool) {
	if !bytes.Contains(content, r.old) {
		return content, false
	}
	return bytes.ReplaceAll(content, r.old, r.new), true
}

// Composite applies its rules in order
type Composite struct {
	name  string
	rules []Rule
}

// NewComposite groups rules under one name
func NewComposite(name string, rules ...Rule) *Composite {
	return &Composite{name: name, rules: rules}
}

func (r *Composite) Name() string { return r.name }
func (r *Composite) Kind() Kind   { return KindComposite }

// Rules returns the grouped rules
func (r *Composite) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Apply implements Rule
func (r *Composite) Apply(content []byte) ([]byte, bool) {
	changed := false
	for _, sub := range r.rules {
		var ok bool
		content, ok = sub.Apply(content)
		changed = changed || ok
	}
	return content, changed
}

func containsAll(content []byte, markers [][]byte) bool {
	for _, m := range markers {
		if !bytes.Contains(content, m) {
			return false
		}
	}
	return true
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
