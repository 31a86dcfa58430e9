package rule

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

// Built-in rule names
const (
	NameInlineFonts   = "inline-fonts"
	NameLocalFonts    = "local-fonts"
	NameFontPreload   = "font-preload"
	NameScriptSwap    = "script-swap"
	NameFixFontsAndJS = "fix-fonts-and-js"
)

// inlineStylesMarker is carried by both inline style blocks
const inlineStylesMarker = "Critical inline styles for immediate text rendering"

//go:embed blocks/*.html
var blocks embed.FS

// Entry is a registered rule with a human readable description
type Entry struct {
	Rule        Rule
	Description string
}

// Catalog holds named rules in registration order
type Catalog struct {
	entries map[string]Entry
	order   []string
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// Register adds a rule. Names must be unique.
func (c *Catalog) Register(r Rule, description string) error {
	if _, exists := c.entries[r.Name()]; exists {
		return fmt.Errorf("duplicate rule name: %s", r.Name())
	}
	c.entries[r.Name()] = Entry{Rule: r, Description: description}
	c.order = append(c.order, r.Name())
	return nil
}

// Lookup returns the rule registered under name
func (c *Catalog) Lookup(name string) (Rule, bool) {
	e, ok := c.entries[name]
	return e.Rule, ok
}

// Resolve maps names to rules, preserving order
func (c *Catalog) Resolve(names []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		r, ok := c.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown rule %q (available: %s)", name, strings.Join(c.Names(), ", "))
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Names returns rule names sorted alphabetically
func (c *Catalog) Names() []string {
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

// Entries returns all entries in registration order
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name])
	}
	return out
}

// DefaultChain is the rule sequence used when nothing else is configured.
// Running it twice leaves every file unchanged the second time.
func DefaultChain() []string {
	return []string{NameInlineFonts, NameLocalFonts, NameFontPreload, NameScriptSwap}
}

// Builtin returns a catalog with the site maintenance rules registered
func Builtin() *Catalog {
	inline := must(NewInsert(NameInlineFonts,
		[]string{inlineStylesMarker},
		`<link rel="stylesheet" href="https://cdnjs\.cloudflare\.com/ajax/libs/font-awesome/[^>]+>`,
		"\n"+block("cdn-fonts.html"),
		After))

	local := must(NewReplaceBlock(NameLocalFonts,
		[]string{inlineStylesMarker},
		`<!-- Critical inline styles.*?</style>`,
		strings.TrimSpace(block("local-fonts.html"))))

	preload := must(NewInsert(NameFontPreload,
		[]string{"preload", "font/woff2"},
		`<link href="\.\./assets/css/output\.css" rel="stylesheet">`,
		strings.TrimSpace(block("font-preload.html"))+"\n  \n  ",
		Before))

	swap := must(NewReplaceString(NameScriptSwap,
		`src="../assets/js/main-minimal.js"`,
		`src="../assets/js/main.js"`))

	c := NewCatalog()
	for _, e := range []Entry{
		{inline, "insert the Inter inline font styles after the Font Awesome stylesheet link"},
		{local, "rewrite the inline font styles to load fonts from ../assets/fonts/inter"},
		{preload, "add font preload links before the output.css stylesheet"},
		{swap, "reference the full main.js instead of main-minimal.js"},
		{NewComposite(NameFixFontsAndJS, preload, swap), "font-preload followed by script-swap"},
	} {
		_ = c.Register(e.Rule, e.Description)
	}
	return c
}

func block(name string) string {
	data, err := blocks.ReadFile("blocks/" + name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded block %s: %v", name, err))
	}
	return string(data)
}

func must[T Rule](r T, err error) T {
	if err != nil {
		panic(err)
	}
	return r
}
