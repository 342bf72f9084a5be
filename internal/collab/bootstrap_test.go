package collab

import (
	"context"
	"testing"
	"time"

	"github.com/jamesenh/novelgen/internal/artifact"
)

func TestDefaultBootstrap_GeneratesFromPrompt(t *testing.T) {
	store := artifact.New(t.TempDir())
	if err := store.InitProject("proj", "author", time.Now()); err != nil {
		t.Fatalf("InitProject: %v", err)
	}

	b := DefaultBootstrap{}
	result, err := b.EnsureBackgroundAssets(context.Background(), store, "a reluctant hero in an invented world", 3, "bootstrap", false)
	if err != nil {
		t.Fatalf("EnsureBackgroundAssets: %v", err)
	}
	if len(result.World) == 0 || len(result.Characters) == 0 || len(result.ThemeConflict) == 0 || len(result.Outline) == 0 {
		t.Fatal("expected all four bible documents to be populated")
	}

	var onDisk map[string]any
	if err := store.ReadBibleDoc("world", &onDisk); err != nil {
		t.Fatalf("ReadBibleDoc: %v", err)
	}
}

func TestDefaultBootstrap_FailsWithNoPromptAndNoAssets(t *testing.T) {
	store := artifact.New(t.TempDir())
	if err := store.InitProject("proj", "author", time.Now()); err != nil {
		t.Fatalf("InitProject: %v", err)
	}

	b := DefaultBootstrap{}
	_, err := b.EnsureBackgroundAssets(context.Background(), store, "", 3, "bootstrap", false)
	if err == nil {
		t.Fatal("expected an error when assets are missing and no prompt was given")
	}
}

func TestDefaultBootstrap_ReusesExistingAssets(t *testing.T) {
	store := artifact.New(t.TempDir())
	if err := store.InitProject("proj", "author", time.Now()); err != nil {
		t.Fatalf("InitProject: %v", err)
	}
	b := DefaultBootstrap{}
	if _, err := b.EnsureBackgroundAssets(context.Background(), store, "seed prompt", 2, "bootstrap", false); err != nil {
		t.Fatalf("first EnsureBackgroundAssets: %v", err)
	}

	var before map[string]any
	store.ReadBibleDoc("world", &before)

	if _, err := b.EnsureBackgroundAssets(context.Background(), store, "", 2, "bootstrap", false); err != nil {
		t.Fatalf("second EnsureBackgroundAssets: %v", err)
	}

	var after map[string]any
	store.ReadBibleDoc("world", &after)
	if after["name"] != before["name"] {
		t.Error("expected existing world doc to be reused, not regenerated")
	}
}

func TestNoopDomainMemory_Clear(t *testing.T) {
	var mem NoopDomainMemory
	deleted, err := mem.Clear(context.Background(), "proj", 3, 0)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted, got %d", deleted)
	}
}
