// Package orchestrator is the chapter-generation state machine: run,
// resume, rollback, and state inspection, built on top of the generic
// graph engine and the artifact/checkpoint stores. Grounded on the
// original system's novelgen/runtime/orchestrator.py for the
// reconcile-then-resume and file-matching rollback semantics, and on the
// teacher's "fixed named pipeline behind a Config struct" shape for how an
// orchestrator method wraps a multi-stage run end to end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/audit"
	"github.com/jamesenh/novelgen/internal/checkpoint"
	"github.com/jamesenh/novelgen/internal/collab"
	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/contextpack"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
	"github.com/jamesenh/novelgen/internal/graph"
	"github.com/jamesenh/novelgen/internal/providers"
	"github.com/jamesenh/novelgen/internal/retrieval"
)

// Config bundles everything an Orchestrator needs: the project root and the
// collaborators used to build a fresh graph for it. A zero-value Bootstrap
// or DomainMemory is replaced with the default dependency-free
// implementation.
type Config struct {
	ProjectRoot  string
	Generator    string
	Providers    providers.GenerationProviders
	Bootstrap    collab.Bootstrap
	DomainMemory collab.DomainMemory

	// Shutdown, when set, lets a caller (e.g. the HTTP API's stop
	// endpoint) request that an in-flight Run/Resume wind down at the
	// next node boundary instead of running to completion.
	Shutdown *concurrency.ShutdownFlag
	// AuditWorkers bounds concurrent audit-plugin fan-out; <= 0 runs
	// plugins sequentially.
	AuditWorkers int
	// StopAtNode, when set, halts the graph right after the named node
	// completes (the CLI's --stop-at flag).
	StopAtNode string
}

// Orchestrator owns one project's run/resume/rollback lifecycle.
type Orchestrator struct {
	cfg   Config
	store *artifact.Store
}

// New builds an Orchestrator for the given config, filling in defaults for
// any unset collaborator.
func New(cfg Config) *Orchestrator {
	if cfg.Generator == "" {
		cfg.Generator = "novelgen"
	}
	if cfg.Bootstrap == nil {
		cfg.Bootstrap = collab.DefaultBootstrap{}
	}
	if cfg.DomainMemory == nil {
		cfg.DomainMemory = collab.NoopDomainMemory{}
	}
	if cfg.Providers.Planner == nil || cfg.Providers.Writer == nil || cfg.Providers.Patcher == nil {
		cfg.Providers = providers.Default()
	}
	return &Orchestrator{cfg: cfg, store: artifact.New(cfg.ProjectRoot)}
}

// Outcome is what Run/Resume report back to the caller, mapping directly to
// the CLI's exit-code contract: 0 complete, 2 needs human review. Stopped
// is set when a Shutdown flag cut the run short at a node boundary; the
// checkpoint is still valid and Resume picks up from it.
type Outcome struct {
	State             *domain.State
	HumanReviewNeeded bool
	Complete          bool
	Stopped           bool
}

// Run starts a fresh graph invocation for req, bootstrapping bible assets
// if needed. A project whose bible assets are missing and carries no prompt
// is a UserError (fatal, exit 1).
func (o *Orchestrator) Run(ctx context.Context, req domain.Requirements, now time.Time) (*Outcome, error) {
	if err := o.store.InitProject(req.ProjectName, req.Author, now); err != nil {
		return nil, fmt.Errorf("init project: %w", err)
	}

	boot, err := o.cfg.Bootstrap.EnsureBackgroundAssets(ctx, o.store, req.Prompt, req.NumChapters, o.cfg.Generator, false)
	if err != nil {
		return nil, errs.NewUserError("bootstrap background assets: %v", err)
	}

	state := domain.NewInitialState(now, req)
	state.World = boot.World
	state.Characters = boot.Characters
	state.ThemeConflict = boot.ThemeConflict
	state.Outline = boot.Outline

	g, err := o.buildGraph(state.ThreadID)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	final, err := g.graph.Invoke(ctx, state)
	if out, ok := stoppedOutcome(final, err); ok {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}
	return &Outcome{State: final, HumanReviewNeeded: final.HumanReviewNeeded, Complete: final.Complete}, nil
}

// stoppedOutcome recognizes a graceful shutdown-flag stop (an
// *errs.CancellationError from Invoke) and turns it into a Stopped outcome
// instead of a fatal error, per the documented CancellationError contract.
func stoppedOutcome(state *domain.State, err error) (*Outcome, bool) {
	var cancelErr *errs.CancellationError
	if !errors.As(err, &cancelErr) {
		return nil, false
	}
	return &Outcome{State: state, HumanReviewNeeded: state.HumanReviewNeeded, Complete: state.Complete, Stopped: true}, true
}

// Resume reconciles filesystem state with the checkpoint, then continues
// the graph from the latest checkpointed state. If no checkpoint exists, or
// the resumed graph ends neither complete nor awaiting human review while
// the filesystem shows incomplete chapters, it falls back to a fresh Run,
// since the filesystem is authoritative.
func (o *Orchestrator) Resume(ctx context.Context, req domain.Requirements, now time.Time) (*Outcome, error) {
	threadID := domain.ThreadID(req.ProjectName)
	g, err := o.buildGraph(threadID)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	checkpointed, err := g.graph.LoadLatestState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if checkpointed == nil {
		return o.Run(ctx, req, now)
	}

	reconciled := o.reconcileFileState(checkpointed)

	final, err := g.graph.Invoke(ctx, reconciled)
	if out, ok := stoppedOutcome(final, err); ok {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume graph: %w", err)
	}

	if !final.Complete && !final.HumanReviewNeeded && o.hasIncompleteChapters(final.Requirements.NumChapters) {
		return o.Run(ctx, req, now)
	}
	return &Outcome{State: final, HumanReviewNeeded: final.HumanReviewNeeded, Complete: final.Complete}, nil
}

// reconcileFileState merges chapters the filesystem shows as persisted but
// the checkpoint does not yet reflect — the common case after an
// interrupted bundle write completed on disk just before the crash.
func (o *Orchestrator) reconcileFileState(state *domain.State) *domain.State {
	next := *state
	if content, err := o.store.ReadChapterContent(state.CurrentChapter); err == nil && next.ChapterDraft == nil {
		next.ChapterDraft = content
	}
	if plan, err := o.store.ReadChapterPlan(state.CurrentChapter); err == nil && next.ChapterPlan == nil {
		next.ChapterPlan = plan
	}
	return &next
}

// hasIncompleteChapters reports whether any chapter up to numChapters has a
// plan but no stored content, per the filesystem-authoritative corruption
// check.
func (o *Orchestrator) hasIncompleteChapters(numChapters int) bool {
	for ch := 1; ch <= numChapters; ch++ {
		_, planErr := o.store.ReadChapterPlan(ch)
		if planErr != nil {
			continue
		}
		if _, contentErr := o.store.ReadChapterContent(ch); contentErr != nil {
			return true
		}
	}
	return false
}

// State returns the most recently checkpointed state for projectName, or
// nil if the project has never been run. Unlike Resume, it never invokes
// the graph; it's a read-only inspection used by the state/status surfaces.
func (o *Orchestrator) State(ctx context.Context, projectName string) (*domain.State, error) {
	saver, err := checkpoint.Open(o.store.CheckpointDBPath())
	if err != nil {
		return nil, fmt.Errorf("open checkpointer: %w", err)
	}
	defer saver.Close()

	g := graph.New(saver, domain.ThreadID(projectName))
	state, err := g.LoadLatestState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return state, nil
}

type boundGraph struct {
	graph *graph.Graph
	saver *checkpoint.Saver
	index *retrieval.Index
}

func (g *boundGraph) Close() {
	g.saver.Close()
	g.index.Close()
}

func (o *Orchestrator) buildGraph(threadID string) (*boundGraph, error) {
	saver, err := checkpoint.Open(o.store.CheckpointDBPath())
	if err != nil {
		return nil, fmt.Errorf("open checkpointer: %w", err)
	}

	idx, err := retrieval.Open(o.store.RetrievalDBPath())
	if err != nil {
		saver.Close()
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}

	g := graph.New(saver, threadID)
	g.Shutdown = o.cfg.Shutdown
	g.StopAfterNode = o.cfg.StopAtNode

	var pool *concurrency.Pool
	if o.cfg.AuditWorkers > 0 {
		pool = concurrency.NewPool(o.cfg.AuditWorkers, o.cfg.Shutdown)
	}

	graph.Build(g, &graph.Deps{
		Store:          o.store,
		ContextBuilder: &contextpack.Builder{Store: o.store, Index: idx, Generator: o.cfg.Generator},
		Providers:      o.cfg.Providers,
		AuditRunner:    &audit.Runner{Registry: audit.DefaultRegistry(), Generator: o.cfg.Generator, Pool: pool},
	})
	return &boundGraph{graph: g, saver: saver, index: idx}, nil
}
