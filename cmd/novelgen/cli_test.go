package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/jamesenh/novelgen/internal/artifact"
)

// runCLI executes rootCmd with args against a fresh --home directory,
// capturing anything written to stdout. Every invocation resets all command
// flags to their defaults and passes --home and --config explicitly so
// package-level flag state from a prior test in the same process can't leak
// in.
func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	exitCode = 0
	resetFlags := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	resetFlags(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		resetFlags(c.Flags())
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	full := append([]string{"--home", home, "--config", filepath.Join(home, "missing-config.yaml")}, args...)
	rootCmd.SetArgs(full)
	execErr := rootCmd.Execute()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out), execErr
}

func TestCLI_InitCreatesProject(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "init", "alpha"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !artifact.New(filepath.Join(home, "alpha")).Exists() {
		t.Fatal("expected project to exist after init")
	}
}

func TestCLI_InitDuplicateErrors(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "init", "alpha"); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := runCLI(t, home, "init", "alpha"); err == nil {
		t.Fatal("expected second init of the same project to fail")
	}
}

func TestCLI_RunCompletesSingleChapter(t *testing.T) {
	home := t.TempDir()
	out, err := runCLI(t, home, "run", "alpha", "--chapters", "1", "--prompt", "a reluctant hero in an invented world")
	if err != nil {
		t.Fatalf("run: %v\noutput: %s", err, out)
	}
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for a clean completion, got %d", exitCode)
	}

	store := artifact.New(filepath.Join(home, "alpha"))
	if !store.Exists() {
		t.Fatal("expected project directory to exist after run")
	}
	if _, err := store.ReadChapterContent(1); err != nil {
		t.Errorf("expected chapter 1 content to be persisted: %v", err)
	}
}

func TestCLI_StatusReportsChapterTable(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "run", "alpha", "--chapters", "1", "--prompt", "a story"); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, err := runCLI(t, home, "status", "alpha", "--output", "json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	var body struct {
		ChaptersComplete int `json:"chapters_complete"`
	}
	if err := json.Unmarshal(bytes.TrimSpace([]byte(out)), &body); err != nil {
		t.Fatalf("unmarshal status output %q: %v", out, err)
	}
	if body.ChaptersComplete != 1 {
		t.Errorf("expected 1 completed chapter, got %d", body.ChaptersComplete)
	}
}

func TestCLI_StateDumpBeforeAnyRunReportsNoCheckpoint(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "init", "alpha"); err != nil {
		t.Fatalf("init: %v", err)
	}

	out, err := runCLI(t, home, "state", "alpha", "--output", "json")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var body struct {
		Checkpoint string `json:"checkpoint"`
	}
	if err := json.Unmarshal(bytes.TrimSpace([]byte(out)), &body); err != nil {
		t.Fatalf("unmarshal state output %q: %v", out, err)
	}
	if body.Checkpoint != "none" {
		t.Errorf("expected no checkpoint before any run, got %+v", body)
	}
}

func TestCLI_ExportWritesTextFile(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "run", "alpha", "--chapters", "1", "--prompt", "a story"); err != nil {
		t.Fatalf("run: %v", err)
	}

	outPath := filepath.Join(home, "manuscript.txt")
	if _, err := runCLI(t, home, "export", "alpha", "--output", outPath); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read exported manuscript: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a nonempty exported manuscript")
	}
}

func TestCLI_RollbackWithForceDeletesChapter(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "run", "alpha", "--chapters", "1", "--prompt", "a story"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := runCLI(t, home, "rollback", "alpha", "--chapter", "1", "--force"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	store := artifact.New(filepath.Join(home, "alpha"))
	if _, err := store.ReadChapterContent(1); err == nil {
		t.Error("expected chapter 1 content to be removed by rollback")
	}
}

func TestCLI_RollbackRequiresStepOrChapter(t *testing.T) {
	home := t.TempDir()
	if _, err := runCLI(t, home, "init", "alpha"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := runCLI(t, home, "rollback", "alpha", "--force"); err == nil {
		t.Fatal("expected rollback with neither --step nor --chapter to fail")
	}
}
