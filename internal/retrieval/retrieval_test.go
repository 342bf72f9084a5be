package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeProjectFile(t *testing.T, root, rel string, v any) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestIterProjectChunks(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "world.json", map[string]any{"realms": []string{"Ashfall"}})
	writeProjectFile(t, root, "chapters/chapter_001_plan.json", map[string]any{"chapter_id": 1})
	writeProjectFile(t, root, "chapters/chapter_001.json", map[string]any{"chapter_id": 1})

	chunks, err := IterProjectChunks(root)
	if err != nil {
		t.Fatalf("IterProjectChunks: %v", err)
	}
	var sawWorld, sawPlan, sawContent bool
	for _, c := range chunks {
		switch {
		case c.DocType == "world":
			sawWorld = true
		case c.DocType == "chapter_plan" && c.ChapterID == 1:
			sawPlan = true
		case c.DocType == "chapter_content" && c.ChapterID == 1:
			sawContent = true
		}
	}
	if !sawWorld || !sawPlan || !sawContent {
		t.Errorf("missing expected chunks: world=%v plan=%v content=%v", sawWorld, sawPlan, sawContent)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	got := sanitizeFTSQuery(`escape AND "the" city; OR 1=1 --`)
	if got == "" {
		t.Fatal("expected non-empty sanitized query")
	}
	for _, bad := range []string{`"`, `;`, `--`} {
		if contains(got, bad) {
			t.Errorf("sanitized query %q still contains %q", got, bad)
		}
	}
}

func contains(s, sub string) bool {
	return len(sub) > 0 && (len(s) >= len(sub)) && (indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestOpenAndSearch_FallbackPath(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "world.json", map[string]any{"detail": "Mira escaped through the old gate"})

	idx, err := Open(filepath.Join(root, "data", "retrieval.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	if err := idx.EnsureIndex(ctx, root); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	hits, err := idx.Search(ctx, "old gate", nil, 0, 0, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Error("expected at least one hit for a substring present in world.json")
	}
}

func TestEnsureIndex_DoesNotRebuildWhenPopulated(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "world.json", map[string]any{"detail": "first"})

	idx, err := Open(filepath.Join(root, "data", "retrieval.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.EnsureIndex(ctx, root); err != nil {
		t.Fatalf("first EnsureIndex: %v", err)
	}

	// Mutate the project after indexing; EnsureIndex should not re-scan.
	writeProjectFile(t, root, "world.json", map[string]any{"detail": "second, unindexed"})
	if err := idx.EnsureIndex(ctx, root); err != nil {
		t.Fatalf("second EnsureIndex: %v", err)
	}

	hits, err := idx.Search(ctx, "unindexed", nil, 0, 0, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected EnsureIndex to skip rebuilding an already-populated index, found hit(s): %+v", hits)
	}
}
