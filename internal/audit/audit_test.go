package audit

import (
	"context"
	"testing"

	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/domain"
)

func TestContinuityPlugin_FlagsEmptyScenes(t *testing.T) {
	p := ContinuityPlugin{}
	state := &domain.State{CurrentChapter: 1}
	issues, err := p.Analyze(state, &domain.ChapterContent{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(issues) != 1 || issues[0].Severity != domain.SeverityBlocker {
		t.Fatalf("expected one blocker issue, got %+v", issues)
	}
	if issues[0].FixInstructions == "" {
		t.Error("blocker issue must carry fix instructions")
	}
}

func TestContinuityPlugin_FlagsPlaceholderContent(t *testing.T) {
	p := ContinuityPlugin{}
	state := &domain.State{CurrentChapter: 2}
	draft := &domain.ChapterContent{
		Scenes: []domain.Scene{{Index: 0, Content: "TODO generated by llm", WordCount: 10}},
	}
	issues, err := p.Analyze(state, draft)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(issues))
	}
}

func TestContinuityPlugin_PassesRealContent(t *testing.T) {
	p := ContinuityPlugin{}
	state := &domain.State{CurrentChapter: 3}
	draft := &domain.ChapterContent{
		Scenes: []domain.Scene{{Index: 0, Content: "Mira slipped past the guards at dusk.", WordCount: 7}},
	}
	issues, err := p.Analyze(state, draft)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues for real content, got %+v", issues)
	}
}

func TestRunner_AggregatesAndCounts(t *testing.T) {
	r := &Runner{Registry: DefaultRegistry(), Generator: "test"}
	state := &domain.State{
		CurrentChapter: 1,
		RevisionRound:  0,
		Requirements:   domain.Requirements{QAMajorMax: 3},
	}
	draft := &domain.ChapterContent{
		Scenes: []domain.Scene{{Index: 0, Content: "Mira slipped past the guards at dusk.", WordCount: 7}},
	}

	result, err := r.Run(context.Background(), state, draft)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlockerCount != 0 {
		t.Errorf("expected no blockers for valid content, got %d", result.BlockerCount)
	}
}

func TestRunner_FailsOnEmptyChapter(t *testing.T) {
	r := &Runner{Registry: DefaultRegistry(), Generator: "test"}
	state := &domain.State{CurrentChapter: 1, Requirements: domain.Requirements{QAMajorMax: 3}}

	result, err := r.Run(context.Background(), state, &domain.ChapterContent{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlockerCount != 1 {
		t.Errorf("expected 1 blocker for an empty chapter, got %d", result.BlockerCount)
	}
}

func TestRunner_PoolFanOutPreservesPluginOrder(t *testing.T) {
	r := &Runner{
		Registry:  DefaultRegistry(),
		Generator: "test",
		Pool:      concurrency.NewPool(4, nil),
	}
	state := &domain.State{CurrentChapter: 1, Requirements: domain.Requirements{QAMajorMax: 3}}

	result, err := r.Run(context.Background(), state, &domain.ChapterContent{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlockerCount != 1 {
		t.Errorf("expected the same result running the registry through a Pool, got %d blockers", result.BlockerCount)
	}
	if len(result.Issues) != 1 || result.Issues[0].Plugin != "continuity" {
		t.Errorf("expected the continuity plugin's issue first, got %+v", result.Issues)
	}
}
