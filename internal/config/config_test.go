package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/sitepatch/internal/rule"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
root: "/srv/site"
dirs: ["page", "blog", "docs"]
extensions: ["html", ".htm"]
recursive: true
rules: ["inline-fonts", "local-fonts", "analytics"]

custom_rules:
  - name: analytics
    description: add the analytics snippet
    kind: insert
    marker: "plausible.io/js/script.js"
    landmark: "</head>"
    position: before
    content: |
      <script defer data-domain="example.com" src="https://plausible.io/js/script.js"></script>

watch:
  debounce: "2s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Root != "/srv/site" {
		t.Errorf("expected root /srv/site, got %s", cfg.Root)
	}
	if len(cfg.Dirs) != 3 || cfg.Dirs[2] != "docs" {
		t.Errorf("unexpected dirs: %v", cfg.Dirs)
	}
	if cfg.Extensions[0] != ".html" || cfg.Extensions[1] != ".htm" {
		t.Errorf("extensions not normalized: %v", cfg.Extensions)
	}
	if !cfg.Recursive {
		t.Error("expected recursive to be true")
	}
	if cfg.Watch.DebounceDelay() != 2*time.Second {
		t.Errorf("expected debounce 2s, got %s", cfg.Watch.DebounceDelay())
	}

	chain, err := cfg.Chain(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 || chain[2].Name() != "analytics" {
		t.Errorf("unexpected chain: %v", chain)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "recursive: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Root != "." {
		t.Errorf("expected default root ., got %s", cfg.Root)
	}
	if strings.Join(cfg.Dirs, ",") != "page,blog" {
		t.Errorf("expected default dirs page,blog, got %v", cfg.Dirs)
	}
	if strings.Join(cfg.Rules, ",") != strings.Join(rule.DefaultChain(), ",") {
		t.Errorf("expected default rule chain, got %v", cfg.Rules)
	}
	if cfg.Watch.DebounceDelay() != DefaultDebounce {
		t.Errorf("expected default debounce, got %s", cfg.Watch.DebounceDelay())
	}
}

func TestLoad_ExpandEnv(t *testing.T) {
	t.Setenv("SITEPATCH_TEST_ROOT", "/var/www")
	dir := t.TempDir()
	path := writeConfig(t, dir, "root: \"${SITEPATCH_TEST_ROOT}/public\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/var/www/public" {
		t.Errorf("expected expanded root, got %s", cfg.Root)
	}
}

func TestLoad_ContentFile(t *testing.T) {
	dir := t.TempDir()
	snippet := "<!-- banner -->\n<div class=\"banner\">Sale</div>\n"
	if err := os.WriteFile(filepath.Join(dir, "banner.html"), []byte(snippet), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `
rules: ["banner"]
custom_rules:
  - name: banner
    kind: insert
    marker: "<!-- banner -->"
    landmark: "<body[^>]*>"
    content_file: banner.html
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CustomRules[0].Content != snippet {
		t.Errorf("content_file not loaded: %q", cfg.CustomRules[0].Content)
	}
	if cfg.CustomRules[0].Position != rule.After {
		t.Errorf("expected default position after, got %s", cfg.CustomRules[0].Position)
	}
}

func TestLoad_ContentFileRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	siteRoot := t.TempDir()
	snippet := "<!-- promo -->\n"
	if err := os.MkdirAll(filepath.Join(dir, "snippets"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snippets", "promo.html"), []byte(snippet), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, "root: \""+siteRoot+"\"\n"+`
custom_rules:
  - name: promo
    kind: insert
    marker: "<!-- promo -->"
    landmark: "<body[^>]*>"
    content_file: snippets/promo.html
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Root != siteRoot {
		t.Errorf("expected root %s, got %s", siteRoot, cfg.Root)
	}
	if cfg.CustomRules[0].Content != snippet {
		t.Errorf("content_file not resolved against config dir: %q", cfg.CustomRules[0].Content)
	}
}

func TestLoad_ZeroDebounce(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "watch:\n  debounce: 0s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watch.Debounce == nil {
		t.Fatal("expected explicit debounce to be kept")
	}
	if cfg.Watch.DebounceDelay() != 0 {
		t.Errorf("expected debounce 0, got %s", cfg.Watch.DebounceDelay())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "dirs: [page\n",
			wantErr: "failed to parse config file",
		},
		{
			name:    "unknown rule",
			content: "rules: [\"missing\"]\n",
			wantErr: `unknown rule "missing"`,
		},
		{
			name: "invalid kind",
			content: `
custom_rules:
  - name: x
    kind: delete
`,
			wantErr: "invalid kind",
		},
		{
			name: "non idempotent insert",
			content: `
custom_rules:
  - name: x
    kind: insert
    marker: "already-there"
    landmark: "</head>"
    content: "<meta name=x>"
`,
			wantErr: "does not contain marker",
		},
		{
			name: "duplicate builtin name",
			content: `
custom_rules:
  - name: script-swap
    kind: replace-string
    old: "a.js"
    new: "b.js"
`,
			wantErr: "duplicate rule name",
		},
		{
			name: "replace-string recreates old",
			content: `
custom_rules:
  - name: collapse
    kind: replace-string
    old: "  "
    new: " "
`,
			wantErr: "can recreate the original string",
		},
		{
			name: "content and content_file",
			content: `
custom_rules:
  - name: x
    kind: insert
    content: "x"
    content_file: "x.html"
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "missing content_file",
			content: `
custom_rules:
  - name: x
    kind: insert
    content_file: "nope.html"
`,
			wantErr: "failed to read content_file",
		},
		{
			name:    "absolute dir",
			content: "dirs: [\"/etc\"]\n",
			wantErr: "must be relative",
		},
		{
			name:    "negative debounce",
			content: "watch:\n  debounce: \"-1s\"\n",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	opts := cfg.FileSet()
	if opts.Root != "." || len(opts.Dirs) != 2 || opts.Extensions[0] != ".html" {
		t.Errorf("unexpected fileset options: %+v", opts)
	}
}

func TestChain_ExplicitNames(t *testing.T) {
	cfg := Default()

	chain, err := cfg.Chain([]string{rule.NameFixFontsAndJS})
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 1 || chain[0].Kind() != rule.KindComposite {
		t.Errorf("unexpected chain: %v", chain)
	}

	if _, err := cfg.Chain([]string{"nope"}); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestCatalog_CustomReplaceBlock(t *testing.T) {
	cfg := Default()
	cfg.CustomRules = []CustomRule{{
		Name:    "footer-year",
		Kind:    rule.KindReplaceBlock,
		Marker:  "<!-- year -->",
		Block:   `<!-- year -->.*?<!-- /year -->`,
		Content: "<!-- year -->2026<!-- /year -->",
	}}

	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	r, ok := cat.Lookup("footer-year")
	if !ok {
		t.Fatal("custom rule not registered")
	}

	out, changed := r.Apply([]byte("<p>&copy; <!-- year -->2025<!-- /year --></p>"))
	if !changed || string(out) != "<p>&copy; <!-- year -->2026<!-- /year --></p>" {
		t.Errorf("unexpected output %q (changed=%v)", out, changed)
	}
}
