package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/sitepatch/internal/fileset"
	"github.com/schaermu/sitepatch/internal/rule"
)

// DefaultFileName is looked up in the site root when no config path is given
const DefaultFileName = "sitepatch.yaml"

// DefaultDebounce is the watch mode delay between the last change and a run
const DefaultDebounce = 500 * time.Millisecond

// Config represents the complete sitepatch configuration
type Config struct {
	Root        string       `yaml:"root"`
	Dirs        []string     `yaml:"dirs"`
	Extensions  []string     `yaml:"extensions"`
	Recursive   bool         `yaml:"recursive"`
	Rules       []string     `yaml:"rules"`
	CustomRules []CustomRule `yaml:"custom_rules"`
	Watch       WatchConfig  `yaml:"watch"`
}

// CustomRule declares a site specific rule
type CustomRule struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Kind        rule.Kind     `yaml:"kind"`
	Marker      string        `yaml:"marker"`
	Markers     []string      `yaml:"markers"`
	Landmark    string        `yaml:"landmark"`
	Position    rule.Position `yaml:"position"`
	Block       string        `yaml:"block"`
	Old         string        `yaml:"old"`
	New         string        `yaml:"new"`
	Content     string        `yaml:"content"`
	ContentFile string        `yaml:"content_file"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	// Debounce is nil when unset; an explicit 0 runs on every event
	Debounce *time.Duration `yaml:"debounce"`
}

// DebounceDelay returns the configured delay, or DefaultDebounce when unset
func (w WatchConfig) DebounceDelay() time.Duration {
	if w.Debounce == nil {
		return DefaultDebounce
	}
	return *w.Debounce
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.loadContentFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path-like fields
func (c *Config) expandEnv() {
	c.Root = os.ExpandEnv(c.Root)
	for i := range c.Dirs {
		c.Dirs[i] = os.ExpandEnv(c.Dirs[i])
	}
	for i := range c.CustomRules {
		c.CustomRules[i].ContentFile = os.ExpandEnv(c.CustomRules[i].ContentFile)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if len(c.Dirs) == 0 {
		c.Dirs = []string{"page", "blog"}
	}
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), fileset.DefaultExtensions...)
	}
	for i, ext := range c.Extensions {
		if ext != "" && ext[0] != '.' {
			c.Extensions[i] = "." + ext
		}
	}
	if len(c.Rules) == 0 {
		c.Rules = rule.DefaultChain()
	}
	if c.Watch.Debounce == nil {
		d := DefaultDebounce
		c.Watch.Debounce = &d
	}
	for i := range c.CustomRules {
		cr := &c.CustomRules[i]
		if cr.Kind == rule.KindInsert && cr.Position == "" {
			cr.Position = rule.After
		}
	}
}

// loadContentFiles reads content_file entries. Relative paths are resolved
// against baseDir, the directory holding the config file, not against root.
func (c *Config) loadContentFiles(baseDir string) error {
	for i := range c.CustomRules {
		cr := &c.CustomRules[i]
		if cr.ContentFile == "" {
			continue
		}
		if cr.Content != "" {
			return fmt.Errorf("custom_rules[%s]: content and content_file are mutually exclusive", cr.Name)
		}
		path := cr.ContentFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("custom_rules[%s]: failed to read content_file: %w", cr.Name, err)
		}
		cr.Content = string(data)
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Dirs) == 0 {
		return fmt.Errorf("dirs must not be empty")
	}
	for _, dir := range c.Dirs {
		if dir == "" {
			return fmt.Errorf("dirs: empty directory")
		}
		if filepath.IsAbs(dir) {
			return fmt.Errorf("dirs: %s must be relative to root", dir)
		}
	}

	if len(c.Extensions) == 0 {
		return fmt.Errorf("extensions must not be empty")
	}
	for _, ext := range c.Extensions {
		if ext == "" || ext == "." {
			return fmt.Errorf("extensions: empty extension")
		}
	}

	if d := c.Watch.DebounceDelay(); d < 0 {
		return fmt.Errorf("watch.debounce must not be negative: %s", d)
	}

	// Builds custom rules and resolves the enabled chain
	if _, err := c.Chain(nil); err != nil {
		return err
	}

	return nil
}

// Catalog returns the built-in rules plus the configured custom rules
func (c *Config) Catalog() (*rule.Catalog, error) {
	cat := rule.Builtin()
	for _, cr := range c.CustomRules {
		r, err := cr.build()
		if err != nil {
			return nil, fmt.Errorf("custom_rules: %w", err)
		}
		if err := cat.Register(r, cr.Description); err != nil {
			return nil, fmt.Errorf("custom_rules: %w", err)
		}
	}
	return cat, nil
}

// Chain resolves rule names against the catalog. With no names the
// configured rules are used.
func (c *Config) Chain(names []string) ([]rule.Rule, error) {
	cat, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = c.Rules
	}
	rules, err := cat.Resolve(names)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return rules, nil
}

// FileSet returns the discovery options for the configured site
func (c *Config) FileSet() fileset.Options {
	return fileset.Options{
		Root:       c.Root,
		Dirs:       c.Dirs,
		Extensions: c.Extensions,
		Recursive:  c.Recursive,
	}
}

// markers merges the single and list marker fields
func (cr CustomRule) markers() []string {
	markers := append([]string(nil), cr.Markers...)
	if cr.Marker != "" {
		markers = append(markers, cr.Marker)
	}
	return markers
}

func (cr CustomRule) build() (rule.Rule, error) {
	var (
		r   rule.Rule
		err error
	)
	switch cr.Kind {
	case rule.KindInsert:
		r, err = rule.NewInsert(cr.Name, cr.markers(), cr.Landmark, cr.Content, cr.Position)
	case rule.KindReplaceBlock:
		r, err = rule.NewReplaceBlock(cr.Name, cr.markers(), cr.Block, cr.Content)
	case rule.KindReplaceString:
		r, err = rule.NewReplaceString(cr.Name, cr.Old, cr.New)
	default:
		return nil, fmt.Errorf("rule %s: invalid kind %q (must be insert, replace-block, or replace-string)", cr.Name, cr.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
