package audit

import (
	"fmt"
	"strings"

	"github.com/jamesenh/novelgen/internal/domain"
)

// NoopPlugin never raises an issue. It exists so the registry always has
// at least one plugin wired without special-casing "zero plugins" in the
// runner, and as the place to hang a future trivial plugin during testing.
type NoopPlugin struct{}

func (NoopPlugin) Name() string { return "noop" }

func (NoopPlugin) Analyze(*domain.State, *domain.ChapterContent) ([]domain.Issue, error) {
	return nil, nil
}

// placeholderMarkers are substrings that mean a scene's prose was never
// actually generated — a template stub or a provider failure leaked
// through instead of real content.
var placeholderMarkers = []string{"TODO", "GENERATED BY LLM", "[chapter", "[scene"}

// ContinuityPlugin is the one always-present blocker-grade check: a
// chapter must have at least one scene, and every scene must carry real,
// non-placeholder prose with a non-zero word count. Grounded on the
// original system's agents/continuity.py.
type ContinuityPlugin struct{}

func (ContinuityPlugin) Name() string { return "continuity" }

func (ContinuityPlugin) Analyze(state *domain.State, draft *domain.ChapterContent) ([]domain.Issue, error) {
	chapterID := state.CurrentChapter

	if draft == nil || len(draft.Scenes) == 0 {
		return []domain.Issue{{
			ID:              fmt.Sprintf("I-%03d-001", chapterID),
			Severity:        domain.SeverityBlocker,
			Category:        domain.CategoryWorldRule,
			Summary:         "chapter has no scenes",
			FixInstructions: "add at least one scene to the chapter",
		}}, nil
	}

	for _, scene := range draft.Scenes {
		upper := strings.ToUpper(scene.Content)
		placeholder := scene.WordCount == 0
		for _, marker := range placeholderMarkers {
			if strings.Contains(upper, strings.ToUpper(marker)) {
				placeholder = true
				break
			}
		}
		if placeholder {
			return []domain.Issue{{
				ID:              fmt.Sprintf("I-%03d-002", chapterID),
				Severity:        domain.SeverityBlocker,
				Category:        domain.CategoryPOVStyle,
				Summary:         "scene contains placeholder content or has zero word count",
				Location:        fmt.Sprintf("scene %d", scene.Index),
				FixInstructions: "generate real prose, remove placeholders, and fill in word_count",
			}}, nil
		}
	}

	return nil, nil
}
