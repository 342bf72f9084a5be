// Package providers defines the three generation roles the graph calls
// into — Planner, Writer, Patcher — and ships deterministic, template-based
// default implementations that never produce placeholder output, so the
// revision loop converges on round zero without a real LLM wired up.
// Concrete LLM-backed implementations live in sibling packages (see
// internal/providers/openaiprovider) and are never imported by the core
// graph or orchestrator directly.
package providers

import (
	"context"

	"github.com/jamesenh/novelgen/internal/domain"
)

// Planner turns a chapter's context pack into a scene-by-scene outline.
type Planner interface {
	Plan(ctx context.Context, state *domain.State, pack *domain.ContextPack) (*domain.ChapterPlan, error)
}

// Writer turns a chapter plan into prose.
type Writer interface {
	Write(ctx context.Context, state *domain.State, plan *domain.ChapterPlan, pack *domain.ContextPack) (*domain.ChapterContent, error)
}

// Patcher revises a draft to address a set of blocker issues.
type Patcher interface {
	Apply(ctx context.Context, state *domain.State, draft *domain.ChapterContent, blockers []domain.Issue, pack *domain.ContextPack) (*domain.ChapterContent, error)
}

// GenerationProviders bundles the three roles the graph depends on.
type GenerationProviders struct {
	Planner Planner
	Writer  Writer
	Patcher Patcher
}

// Default returns the deterministic template-based trio.
func Default() GenerationProviders {
	return GenerationProviders{
		Planner: &TemplatePlanner{},
		Writer:  &TemplateWriter{},
		Patcher: &TemplatePatcher{},
	}
}
