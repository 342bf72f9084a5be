// Command novelgen is the CLI entry point for the narrative generation
// engine: init/run/resume/status/state/rollback/export, plus an optional
// serve subcommand exposing the same operations over HTTP. Grounded on the
// teacher's cmd/shelf/{root,main,version}.go (persistent flags, log-level
// resolution, double-Ctrl+C signal handling).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/concurrency"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string

	// exitCode lets a command request a non-1, non-0 exit status (notably 2,
	// "needs human review") without cobra treating the run as a failure that
	// prints usage. Set this instead of calling os.Exit directly from a
	// RunE so deferred cleanup still runs.
	exitCode = 0

	// globalShutdown is triggered by main's signal handler and threaded into
	// every orchestrator.Config built by run/resume, so a run in progress
	// winds down at the next node boundary instead of being killed outright.
	globalShutdown = concurrency.NewShutdownFlag()
)

var rootCmd = &cobra.Command{
	Use:   "novelgen",
	Short: "Long-form narrative generation engine",
	Long: `novelgen turns a short prompt into a multi-chapter manuscript, enforcing
consistency across chapters via a plugin-driven audit loop and durable
checkpoint/resume.

Each project lives under its own directory beneath --home. A project is
created with "init", advanced with "run"/"resume", inspected with
"status"/"state", and wound back with "rollback".`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.novelgen/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "directory holding all projects (default: ~/.novelgen/projects)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn, error (default: info, env: NOVELGEN_LOG_LEVEL)",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setOutputFormat(outputFormat)
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", level)
	}
}

// currentLogLevel resolves the effective log level: --log-level flag, then
// NOVELGEN_LOG_LEVEL, then "info".
func currentLogLevel() slog.Level {
	level := logLevel
	if level == "" {
		level = os.Getenv("NOVELGEN_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	parsed, err := parseLogLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
		return slog.LevelInfo
	}
	return parsed
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: currentLogLevel()}))
}

// projectsRoot resolves the directory holding every project: --home, or
// ~/.novelgen/projects.
func projectsRoot() (string, error) {
	if homeDir != "" {
		return homeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".novelgen", "projects"), nil
}

// projectRoot resolves one project's directory under projectsRoot.
func projectRoot(project string) (string, error) {
	root, err := projectsRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, project), nil
}
