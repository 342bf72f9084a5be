package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func runNChapters(t *testing.T, o *Orchestrator, n int) {
	t.Helper()
	if _, err := o.Run(context.Background(), testReq("proj", n), time.Now()); err != nil {
		t.Fatalf("Run(%d chapters): %v", n, err)
	}
}

func TestRollbackToStep_RemovesBibleDocsAndChapters(t *testing.T) {
	root := t.TempDir()
	o := New(Config{ProjectRoot: root})
	runNChapters(t, o, 2)

	result, err := o.RollbackToStep(context.Background(), "proj", "characters")
	if err != nil {
		t.Fatalf("RollbackToStep: %v", err)
	}
	if len(result.DeletedFiles) == 0 {
		t.Fatal("expected at least one deleted file")
	}

	if _, err := os.Stat(filepath.Join(root, "characters.json")); !os.IsNotExist(err) {
		t.Error("expected characters.json to be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "outline.json")); !os.IsNotExist(err) {
		t.Error("expected outline.json (a later step) to be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "world.json")); err != nil {
		t.Error("expected world.json (an earlier step) to survive")
	}

	entries, err := os.ReadDir(filepath.Join(root, "chapters"))
	if err != nil {
		t.Fatalf("ReadDir chapters: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected chapters/ to be fully cleared, found %d entries", len(entries))
	}
}

func TestRollbackToStep_RejectsUnknownStep(t *testing.T) {
	o := New(Config{ProjectRoot: t.TempDir()})
	if _, err := o.RollbackToStep(context.Background(), "proj", "not-a-step"); err == nil {
		t.Fatal("expected an error for an unknown rollback step")
	}
}

func TestRollbackToChapter_RemovesChapterAtOrAfterN(t *testing.T) {
	root := t.TempDir()
	o := New(Config{ProjectRoot: root})
	runNChapters(t, o, 3)

	result, err := o.RollbackToChapter(context.Background(), "proj", 2)
	if err != nil {
		t.Fatalf("RollbackToChapter: %v", err)
	}
	if len(result.DeletedFiles) == 0 {
		t.Fatal("expected deleted files for chapters >= 2")
	}

	if _, err := o.store.ReadChapterContent(1); err != nil {
		t.Errorf("expected chapter 1 to survive rollback to chapter 2: %v", err)
	}
	if _, err := o.store.ReadChapterContent(2); err == nil {
		t.Error("expected chapter 2 content to be removed")
	}
	if _, err := o.store.ReadChapterContent(3); err == nil {
		t.Error("expected chapter 3 content to be removed")
	}

	memory, err := o.store.ReadChapterMemory()
	if err != nil {
		t.Fatalf("ReadChapterMemory: %v", err)
	}
	for _, e := range memory.Chapters {
		if e.ChapterID >= 2 {
			t.Errorf("expected no memory entries for chapter >= 2, found %d", e.ChapterID)
		}
	}

	if _, err := os.Stat(o.store.CheckpointDBPath()); !os.IsNotExist(err) {
		t.Error("expected checkpoint db to be deleted by rollback")
	}
}

func TestRollbackToScene_KeepsChapterPlanButDeletesContent(t *testing.T) {
	root := t.TempDir()
	o := New(Config{ProjectRoot: root})
	runNChapters(t, o, 2)

	result, err := o.RollbackToScene(context.Background(), "proj", 1, 0)
	if err != nil {
		t.Fatalf("RollbackToScene: %v", err)
	}
	if len(result.DeletedFiles) == 0 {
		t.Fatal("expected deleted files")
	}

	if _, err := o.store.ReadChapterPlan(1); err != nil {
		t.Errorf("expected chapter 1's plan to survive a scene-level rollback: %v", err)
	}
	if _, err := o.store.ReadChapterContent(1); err == nil {
		t.Error("expected chapter 1's assembled content to be removed")
	}
	if _, err := o.store.ReadChapterPlan(2); err == nil {
		t.Error("expected chapter 2's plan to be removed (a later chapter)")
	}
}

func TestRollbackToChapter_NoChaptersDirIsANoOp(t *testing.T) {
	root := t.TempDir()
	o := New(Config{ProjectRoot: root})
	if err := o.store.InitProject("proj", "author", time.Now()); err != nil {
		t.Fatalf("InitProject: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(root, "chapters")); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	result, err := o.RollbackToChapter(context.Background(), "proj", 1)
	if err != nil {
		t.Fatalf("RollbackToChapter: %v", err)
	}
	if len(result.DeletedFiles) != 0 {
		t.Errorf("expected no deleted files, got %v", result.DeletedFiles)
	}
}

func TestChapterNumberAtOrAfter_MatchesChapterAndPlan(t *testing.T) {
	cases := []struct {
		name    string
		n       int
		wantCh  int
		wantGTE bool
	}{
		{"chapter_003.json", 2, 3, true},
		{"chapter_003_plan.json", 4, 3, false},
		{"chapter_003_plan.json", 3, 3, true},
		{"not_a_chapter_file.txt", 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch, ok := chapterNumberAtOrAfter(tc.name, tc.n)
			if ok != tc.wantGTE || (ok && ch != tc.wantCh) {
				t.Errorf("chapterNumberAtOrAfter(%q, %d) = (%d, %v), want (%d, %v)", tc.name, tc.n, ch, ok, tc.wantCh, tc.wantGTE)
			}
		})
	}
}

func TestIndexOf(t *testing.T) {
	if got := indexOf(stepOrder, "characters"); got != 2 {
		t.Errorf("indexOf(characters) = %d, want 2", got)
	}
	if got := indexOf(stepOrder, "missing"); got != -1 {
		t.Errorf("indexOf(missing) = %d, want -1", got)
	}
}
