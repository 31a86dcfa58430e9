package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/sitepatch/internal/config"
	"github.com/schaermu/sitepatch/internal/fileset"
	"github.com/schaermu/sitepatch/internal/patcher"
	"github.com/schaermu/sitepatch/internal/rule"
	"github.com/schaermu/sitepatch/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	rootDir   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitepatch",
	Short: "Apply idempotent text patches to a static site's HTML files",
	Long: `sitepatch scans the HTML files of a static site and applies a chain of
idempotent patch rules: inlining font-face styles, switching them to locally
hosted fonts, adding font preload hints and swapping script references.

Without a subcommand it applies the configured rule chain to the page/ and
blog/ directories of the current working directory. Files that already
reflect a rule are left untouched, so running it again changes nothing.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runApply,
}

var applyCmd = &cobra.Command{
	Use:   "apply [rule...]",
	Short: "Apply rules to the site (configured rules if none are named)",
	Long: `Apply discovers the site's HTML files and runs each through the named rules
in order. A file is rewritten only when its content changes.`,
	RunE: runApply,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List available rules",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Apply rules now and again whenever a site file changes",
	Long: `Watch performs an initial run and then re-applies the configured rules
whenever an HTML file in the site directories is written, created or renamed.
Changes are debounced; runs never overlap.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "sitepatch %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFileName+" in the site root, if present)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "site root directory (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing files")

	// Add commands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	chain, err := cfg.Chain(args)
	if err != nil {
		return err
	}

	return apply(ctx, cmd.OutOrStdout(), cfg, chain, logger)
}

// apply runs one patch pass and prints the report
func apply(ctx context.Context, out io.Writer, cfg *config.Config, chain []rule.Rule, logger *slog.Logger) error {
	fs := afero.NewOsFs()

	files, err := fileset.Discover(fs, cfg.FileSet())
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}

	names := make([]string, len(chain))
	for i, r := range chain {
		names[i] = r.Name()
	}
	_, _ = fmt.Fprintf(out, "🔧 Applying %s to %d files in %s...\n\n",
		strings.Join(names, ", "), len(files), strings.Join(cfg.FileSet().DirPaths(), ", "))

	engine := patcher.NewEngine(fs, chain, logger, dryRun)
	report, err := engine.Run(ctx, files)
	if report != nil {
		report.Print(out)
	}
	if err != nil {
		logger.Error("patch run failed", "error", err)
		return err
	}
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}

	enabled := make(map[string]bool)
	for _, name := range cfg.Rules {
		enabled[name] = true
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tDEFAULT\tDESCRIPTION")
	for _, e := range cat.Entries() {
		mark := ""
		if enabled[e.Rule.Name()] {
			mark = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Rule.Name(), e.Rule.Kind(), mark, e.Description)
	}
	return tw.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	chain, err := cfg.Chain(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := watch.New(cfg.FileSet(), cfg.Watch.DebounceDelay(), func(ctx context.Context) error {
		return apply(ctx, out, cfg, chain, logger)
	}, logger)

	return w.Start(ctx)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format. Stdout carries the report.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the explicit config file, or the default file in the site
// root when it exists, or falls back to built-in defaults.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		base := rootDir
		if base == "" {
			base = "."
		}
		configPath = filepath.Join(base, config.DefaultFileName)
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); !explicit && errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file found, using defaults", "path", configPath)
		cfg = config.Default()
	} else {
		logger.Info("loading configuration", "path", configPath)
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	if rootDir != "" {
		cfg.Root = rootDir
	}

	logger.Debug("configuration loaded",
		"root", cfg.Root,
		"dirs", cfg.Dirs,
		"extensions", cfg.Extensions,
		"rules", cfg.Rules)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
