package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/jamesenh/novelgen/internal/checkpoint"
	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
)

func openTestSaver(t *testing.T) *checkpoint.Saver {
	t.Helper()
	saver, err := checkpoint.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { saver.Close() })
	return saver
}

// wireStub registers trivial no-op node implementations that follow the
// fixed routing table without touching real providers or storage, so the
// routing logic itself can be exercised in isolation.
func wireStub(g *Graph, auditSequence []*domain.AuditResult) {
	step := 0
	g.RegisterNode(NodeBuildContextPack, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		return &n, nil
	})
	g.RegisterNode(NodePlanChapter, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		return &n, nil
	})
	g.RegisterNode(NodeWriteChapter, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		return &n, nil
	})
	g.RegisterNode(NodeAuditChapter, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.AuditResult = auditSequence[step]
		step++
		return &n, nil
	})
	g.RegisterNode(NodeApplyPatch, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.RevisionRound++
		return &n, nil
	})
	g.RegisterNode(NodeStoreArtifacts, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		return &n, nil
	})
	g.RegisterNode(NodeAdvanceChapter, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.AdvanceChapter()
		return &n, nil
	})
	g.RegisterNode(NodeMarkHumanReview, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.HumanReviewNeeded = true
		return &n, nil
	})
	g.RegisterNode(NodeMarkComplete, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.Complete = true
		return &n, nil
	})
}

func TestInvoke_SingleChapterCleanAudit(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	wireStub(g, []*domain.AuditResult{{BlockerCount: 0}})

	state := &domain.State{
		RunID:          "run_x",
		RevisionID:     "run_x_ch001_r0",
		CurrentChapter: 1,
		Requirements:   domain.Requirements{NumChapters: 1, MaxRevisionRounds: 3, QABlockerMax: 0},
	}
	final, err := g.Invoke(context.Background(), state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !final.Complete {
		t.Error("expected run to complete after the only chapter clears audit")
	}
	if final.HumanReviewNeeded {
		t.Error("did not expect human review")
	}
}

func TestInvoke_RevisionCycleThenHumanReview(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	wireStub(g, []*domain.AuditResult{
		{BlockerCount: 2}, // round 0: blockers -> patch
		{BlockerCount: 2}, // round 1: still blockers, round >= max -> human review
	})

	state := &domain.State{
		RunID:          "run_x",
		RevisionID:     "run_x_ch001_r0",
		CurrentChapter: 1,
		Requirements:   domain.Requirements{NumChapters: 1, MaxRevisionRounds: 1, QABlockerMax: 0},
	}
	final, err := g.Invoke(context.Background(), state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !final.HumanReviewNeeded {
		t.Error("expected human review after exhausting revision rounds")
	}
	if final.Complete {
		t.Error("did not expect completion when human review was needed")
	}
}

func TestInvoke_MultiChapterAdvances(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	wireStub(g, []*domain.AuditResult{{BlockerCount: 0}, {BlockerCount: 0}})

	state := &domain.State{
		RunID:          "run_x",
		RevisionID:     "run_x_ch001_r0",
		CurrentChapter: 1,
		Requirements:   domain.Requirements{NumChapters: 2, MaxRevisionRounds: 3, QABlockerMax: 0},
	}
	final, err := g.Invoke(context.Background(), state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if final.CurrentChapter != 2 || !final.Complete {
		t.Errorf("expected chapter 2 complete, got chapter=%d complete=%v", final.CurrentChapter, final.Complete)
	}
}

func TestInvoke_RecursionLimitExceeded(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	g.RecursionLimit = 3
	// Always reports blockers with room for more revisions, so the cycle
	// never terminates and the recursion limit must trip.
	g.RegisterNode(NodeBuildContextPack, func(_ context.Context, s *domain.State) (*domain.State, error) { n := *s; return &n, nil })
	g.RegisterNode(NodePlanChapter, func(_ context.Context, s *domain.State) (*domain.State, error) { n := *s; return &n, nil })
	g.RegisterNode(NodeWriteChapter, func(_ context.Context, s *domain.State) (*domain.State, error) { n := *s; return &n, nil })
	g.RegisterNode(NodeAuditChapter, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.AuditResult = &domain.AuditResult{BlockerCount: 5}
		return &n, nil
	})
	g.RegisterNode(NodeApplyPatch, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		n.RevisionRound++
		return &n, nil
	})

	state := &domain.State{
		RunID:          "run_x",
		CurrentChapter: 1,
		Requirements:   domain.Requirements{NumChapters: 1, MaxRevisionRounds: 1000, QABlockerMax: 0},
	}
	_, err := g.Invoke(context.Background(), state)
	if err == nil {
		t.Fatal("expected recursion limit error")
	}
}

func TestInvoke_StopsAtNodeBoundaryWhenShutdownTriggered(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	g.Shutdown = concurrency.NewShutdownFlag()
	wireStub(g, []*domain.AuditResult{{BlockerCount: 0}})
	// Trip the flag as soon as the first node runs, so Invoke should stop
	// right after build_context_pack commits its checkpoint rather than
	// continuing on to plan_chapter.
	g.RegisterNode(NodeBuildContextPack, func(_ context.Context, s *domain.State) (*domain.State, error) {
		n := *s
		g.Shutdown.Trigger()
		return &n, nil
	})

	state := &domain.State{
		RunID:          "run_x",
		RevisionID:     "run_x_ch001_r0",
		CurrentChapter: 1,
		Requirements:   domain.Requirements{NumChapters: 1, MaxRevisionRounds: 3, QABlockerMax: 0},
	}
	_, err := g.Invoke(context.Background(), state)
	var cancelErr *errs.CancellationError
	if !errors.As(err, &cancelErr) {
		t.Fatalf("expected a *errs.CancellationError, got %v", err)
	}
}

func TestLoadLatestState_EmptyThread(t *testing.T) {
	saver := openTestSaver(t)
	g := New(saver, "proj")
	state, err := g.LoadLatestState(context.Background())
	if err != nil {
		t.Fatalf("LoadLatestState: %v", err)
	}
	if state != nil {
		t.Error("expected nil state for a thread with no checkpoints")
	}
}
