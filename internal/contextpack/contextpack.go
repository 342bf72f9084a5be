// Package contextpack assembles the ContextPack for one chapter: the
// outline slice the writer should follow, a short window of recent
// chapter memory, any blockers still open from earlier chapters, and
// retrieval hits relevant to the run's prompt. Grounded on the original
// system's graph/nodes/build_context_pack.py.
package contextpack

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/retrieval"
	"github.com/jamesenh/novelgen/internal/schema"
)

const recentMemoryWindow = 3

// Builder assembles context packs against one project's store and index.
// ProjectName is the fallback used when a run's Requirements carries none
// of its own (mirroring the original's app_config.project_name fallback).
type Builder struct {
	Store       *artifact.Store
	Index       *retrieval.Index
	Generator   string
	ProjectName string
}

// Build produces the ContextPack for state's current chapter.
func (b *Builder) Build(ctx context.Context, state *domain.State) (*domain.ContextPack, error) {
	chapterID := state.CurrentChapter

	memory, err := b.Store.ReadChapterMemory()
	if err != nil {
		return nil, fmt.Errorf("read chapter memory: %w", err)
	}
	reports, err := b.Store.ReadConsistencyReports()
	if err != nil {
		return nil, fmt.Errorf("read consistency reports: %w", err)
	}

	projectName := state.Requirements.ProjectName
	if projectName == "" {
		projectName = b.ProjectName
	}

	pack := &domain.ContextPack{
		Metadata: domain.Metadata{
			SchemaVersion: 1,
			GeneratedAt:   time.Now().UTC(),
			Generator:     b.Generator,
		},
		ProjectName:        projectName,
		ChapterID:          chapterID,
		Query:              state.Requirements.Prompt,
		OutlineCurrent:     outlineSnippet(state.Outline, chapterID),
		BibleSummary:       bibleSummary(state.World, state.Characters, state.ThemeConflict),
		RecentMemory:       recentMemory(memory, chapterID, recentMemoryWindow),
		OpenBlockerReports: openBlockers(reports, chapterID, state.Requirements.QABlockerMax),
		Sources:            []domain.ContextSource{},
	}

	if b.Index != nil {
		hits, err := b.Index.Search(ctx, state.Requirements.Prompt, nil, 0, chapterID-1, 8)
		if err != nil {
			return nil, fmt.Errorf("search retrieval index: %w", err)
		}
		pack.Sources = make([]domain.ContextSource, 0, len(hits))
		for _, h := range hits {
			pack.Sources = append(pack.Sources, domain.ContextSource{
				DocType:   h.DocType,
				ChapterID: h.ChapterID,
				Score:     h.Score,
				Excerpt:   h.Excerpt,
			})
		}
	}

	raw := mustMarshal(pack)
	if problems := schema.ValidateJSON(schema.KindContextPack, raw); len(problems) > 0 {
		return nil, fmt.Errorf("assembled context pack failed validation: %v", problems)
	}

	return pack, nil
}

// outlineSnippet returns the stored outline chapter entry for chapterID
// (1-indexed) as a decoded JSON object, or an empty map if the outline has
// no entry for it, matching _outline_snippet.
func outlineSnippet(outline map[string]any, chapterID int) map[string]any {
	if outline == nil {
		return map[string]any{}
	}
	chapters, ok := outline["chapters"].([]any)
	if !ok || chapterID < 1 || chapterID > len(chapters) {
		return map[string]any{}
	}
	entry, ok := chapters[chapterID-1].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return entry
}

// bibleSummary extracts the world name, protagonist name, and theme that a
// Planner/Writer needs for continuity without re-reading the full bible
// documents, matching the original's required.bible_summary assembly.
func bibleSummary(world, characters, themeConflict map[string]any) domain.BibleSummary {
	summary := domain.BibleSummary{}
	if world != nil {
		summary.WorldName, _ = world["name"].(string)
	}
	if characters != nil {
		if protagonist, ok := characters["protagonist"].(map[string]any); ok {
			summary.Protagonist, _ = protagonist["name"].(string)
		}
	}
	if themeConflict != nil {
		summary.Theme, _ = themeConflict["theme"].(string)
	}
	return summary
}

// recentMemory returns the memory entries for chapters in
// [max(1,chapterID-n), chapterID), matching the original's _recent_memory
// window exactly (the current chapter is excluded — it has no memory yet).
func recentMemory(memory *domain.ChapterMemoryFile, chapterID, n int) []domain.ChapterMemoryEntry {
	lo := chapterID - n
	if lo < 1 {
		lo = 1
	}
	out := []domain.ChapterMemoryEntry{}
	for _, entry := range memory.Chapters {
		if entry.ChapterID >= lo && entry.ChapterID < chapterID {
			out = append(out, entry)
		}
	}
	return out
}

// openBlockers collects the report entries for earlier chapters whose
// blocker count exceeded the configured threshold when it was stored,
// matching _open_blockers exactly (the full entry is surfaced, not just its
// issues, so a Planner/Writer can see counts and thresholds too).
func openBlockers(reports *domain.ConsistencyReportsFile, chapterID, qaBlockerMax int) []domain.ChapterReportEntry {
	out := []domain.ChapterReportEntry{}
	for _, entry := range reports.Chapters {
		if entry.ChapterID >= chapterID {
			continue
		}
		if entry.BlockerCount > qaBlockerMax {
			out = append(out, entry)
		}
	}
	return out
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal context pack: %v", err))
	}
	return data
}
