package graph

import (
	"context"
	"fmt"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/audit"
	"github.com/jamesenh/novelgen/internal/contextpack"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/providers"
)

// Deps bundles the collaborators node implementations close over. It is
// the graph's only coupling point to the rest of the module; swapping any
// field (e.g. providers.GenerationProviders) changes node behavior without
// touching the routing table in graph.go.
type Deps struct {
	Store           *artifact.Store
	ContextBuilder  *contextpack.Builder
	Providers       providers.GenerationProviders
	AuditRunner     *audit.Runner
}

// Build registers the nine node implementations on g using deps.
func Build(g *Graph, deps *Deps) {
	g.RegisterNode(NodeBuildContextPack, deps.buildContextPack)
	g.RegisterNode(NodePlanChapter, deps.planChapter)
	g.RegisterNode(NodeWriteChapter, deps.writeChapter)
	g.RegisterNode(NodeAuditChapter, deps.auditChapter)
	g.RegisterNode(NodeApplyPatch, deps.applyPatch)
	g.RegisterNode(NodeStoreArtifacts, deps.storeArtifacts)
	g.RegisterNode(NodeAdvanceChapter, deps.advanceChapter)
	g.RegisterNode(NodeMarkHumanReview, deps.markHumanReview)
	g.RegisterNode(NodeMarkComplete, deps.markComplete)
}

func clone(state *domain.State) *domain.State {
	next := *state
	return &next
}

func (d *Deps) buildContextPack(ctx context.Context, state *domain.State) (*domain.State, error) {
	pack, err := d.ContextBuilder.Build(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("build context pack: %w", err)
	}
	next := clone(state)
	next.ContextPack = pack
	return next, nil
}

func (d *Deps) planChapter(ctx context.Context, state *domain.State) (*domain.State, error) {
	plan, err := d.Providers.Planner.Plan(ctx, state, state.ContextPack)
	if err != nil {
		return nil, fmt.Errorf("plan chapter: %w", err)
	}
	next := clone(state)
	next.ChapterPlan = plan
	return next, nil
}

func (d *Deps) writeChapter(ctx context.Context, state *domain.State) (*domain.State, error) {
	content, err := d.Providers.Writer.Write(ctx, state, state.ChapterPlan, state.ContextPack)
	if err != nil {
		return nil, fmt.Errorf("write chapter: %w", err)
	}
	next := clone(state)
	next.ChapterDraft = content
	return next, nil
}

func (d *Deps) auditChapter(ctx context.Context, state *domain.State) (*domain.State, error) {
	result, err := d.AuditRunner.Run(ctx, state, state.ChapterDraft)
	if err != nil {
		return nil, fmt.Errorf("audit chapter: %w", err)
	}
	next := clone(state)
	next.AuditResult = result
	return next, nil
}

// applyPatch increments revision_round, recomputes revision_id, and passes
// the updated revision_id to the Patcher so the new draft carries the
// correct generator string and metadata.
func (d *Deps) applyPatch(ctx context.Context, state *domain.State) (*domain.State, error) {
	next := clone(state)
	next.RevisionRound = state.RevisionRound + 1
	next.RevisionID = domain.FormatRevisionID(state.RunID, state.CurrentChapter, next.RevisionRound)

	blockers := blockerIssues(state.AuditResult)
	patched, err := d.Providers.Patcher.Apply(ctx, next, state.ChapterDraft, blockers, state.ContextPack)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	next.ChapterDraft = patched
	next.AuditResult = nil
	return next, nil
}

func blockerIssues(result *domain.AuditResult) []domain.Issue {
	if result == nil {
		return nil
	}
	var out []domain.Issue
	for _, issue := range result.Issues {
		if issue.Severity == domain.SeverityBlocker {
			out = append(out, issue)
		}
	}
	return out
}

// storeArtifacts validates plan and draft against schema and persists the
// chapter bundle. Any validation failure is fatal for the run — an
// inconsistent draft must never be persisted.
func (d *Deps) storeArtifacts(_ context.Context, state *domain.State) (*domain.State, error) {
	err := d.Store.WriteChapterBundle(state.CurrentChapter, state.ChapterPlan, state.ChapterDraft, state.AuditResult, state.Requirements.QAMajorMax)
	if err != nil {
		return nil, fmt.Errorf("store artifacts: %w", err)
	}
	return clone(state), nil
}

// advanceChapter increments current_chapter, resets revision_round to 0,
// recomputes revision_id for round zero, and clears the prior chapter's
// working artifacts.
func (d *Deps) advanceChapter(_ context.Context, state *domain.State) (*domain.State, error) {
	next := clone(state)
	next.AdvanceChapter()
	return next, nil
}

func (d *Deps) markHumanReview(_ context.Context, state *domain.State) (*domain.State, error) {
	next := clone(state)
	next.HumanReviewNeeded = true
	return next, nil
}

func (d *Deps) markComplete(_ context.Context, state *domain.State) (*domain.State, error) {
	next := clone(state)
	next.Complete = true
	return next, nil
}
