// Package graph implements the generic node/edge execution engine that
// drives chapter generation: a fixed set of named nodes connected by linear
// and conditional edges, checkpointed after every node, with a bounded
// recursion limit guarding the patch/audit revision cycle. Grounded on the
// teacher's scheduler shape (a central dispatcher stepping through named
// stages, persisting progress between each) generalized to the graph's
// conditional-routing requirements from the narrative engine's own
// node/edge model.
package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jamesenh/novelgen/internal/checkpoint"
	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
)

// Node names, fixed by the graph's shape.
const (
	NodeBuildContextPack = "build_context_pack"
	NodePlanChapter      = "plan_chapter"
	NodeWriteChapter     = "write_chapter"
	NodeAuditChapter     = "audit_chapter"
	NodeApplyPatch       = "apply_patch"
	NodeStoreArtifacts   = "store_artifacts"
	NodeAdvanceChapter   = "advance_chapter"
	NodeMarkHumanReview  = "mark_human_review"
	NodeMarkComplete     = "mark_complete"

	end = "__end__"
)

// DefaultRecursionLimit caps total node executions per Invoke call.
const DefaultRecursionLimit = 25

// NodeFunc computes the next state from state. It must not mutate state in
// place; it returns the full next State, which Invoke adopts as its current
// state.
type NodeFunc func(ctx context.Context, state *domain.State) (*domain.State, error)

// Graph is the fixed nine-node chapter-generation state machine. Node
// implementations are injected so the engine stays decoupled from any
// specific Provider wiring.
type Graph struct {
	nodes  map[string]NodeFunc
	saver  *checkpoint.Saver
	thread string

	// RecursionLimit overrides DefaultRecursionLimit when non-zero.
	RecursionLimit int

	// Shutdown, when set, is polled between node executions so an
	// operator-requested stop takes effect at the next node boundary
	// instead of running the chapter to completion.
	Shutdown *concurrency.ShutdownFlag

	// StopAfterNode, when set, halts Invoke right after the named node
	// completes and its checkpoint commits — a debugging aid for
	// inspecting intermediate state without running a whole chapter.
	StopAfterNode string
}

// New builds a Graph bound to a checkpoint saver and thread id (the
// project name). Register node implementations with RegisterNode before
// calling Invoke.
func New(saver *checkpoint.Saver, threadID string) *Graph {
	return &Graph{nodes: make(map[string]NodeFunc), saver: saver, thread: threadID}
}

// RegisterNode installs the implementation for a named node.
func (g *Graph) RegisterNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// Invoke runs the graph to completion (END) or until the recursion limit
// is exceeded, starting from the given state. It returns the final state.
func (g *Graph) Invoke(ctx context.Context, state *domain.State) (*domain.State, error) {
	limit := g.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}

	current := NodeBuildContextPack
	steps := 0
	for current != end {
		if steps >= limit {
			return state, fmt.Errorf("graph exceeded recursion limit of %d node executions", limit)
		}
		steps++

		fn, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("no implementation registered for node %q", current)
		}

		if err := g.recordPendingWrite(ctx, current, state); err != nil {
			return state, err
		}

		next, err := fn(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		state = next

		if err := g.commitCheckpoint(ctx, current, state); err != nil {
			return state, err
		}

		if g.Shutdown != nil && g.Shutdown.Triggered() {
			return state, errs.NewCancellationError(fmt.Sprintf("stopped after node %s", current))
		}
		if g.StopAfterNode != "" && current == g.StopAfterNode {
			return state, errs.NewCancellationError(fmt.Sprintf("stopped after node %s (--stop-at)", current))
		}

		current, err = g.route(current, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// route computes the next node name (or end) given the node that just
// completed and the resulting state, per the graph's fixed edge set.
func (g *Graph) route(completed string, state *domain.State) (string, error) {
	switch completed {
	case NodeBuildContextPack:
		return NodePlanChapter, nil
	case NodePlanChapter:
		return NodeWriteChapter, nil
	case NodeWriteChapter:
		return NodeAuditChapter, nil
	case NodeAuditChapter:
		return shouldRevise(state), nil
	case NodeApplyPatch:
		return NodeAuditChapter, nil
	case NodeStoreArtifacts:
		return shouldContinueChapters(state), nil
	case NodeAdvanceChapter:
		return NodeBuildContextPack, nil
	case NodeMarkHumanReview:
		return end, nil
	case NodeMarkComplete:
		return end, nil
	default:
		return "", fmt.Errorf("unknown node %q has no routing rule", completed)
	}
}

// shouldRevise implements the audit_chapter conditional edge.
func shouldRevise(state *domain.State) string {
	if state.AuditResult == nil || state.AuditResult.BlockerCount <= state.Requirements.QABlockerMax {
		return NodeStoreArtifacts
	}
	if state.RevisionRound >= state.Requirements.MaxRevisionRounds {
		return NodeMarkHumanReview
	}
	return NodeApplyPatch
}

// shouldContinueChapters implements the store_artifacts conditional edge.
func shouldContinueChapters(state *domain.State) string {
	if state.CurrentChapter < state.Requirements.NumChapters {
		return NodeAdvanceChapter
	}
	return NodeMarkComplete
}

// recordPendingWrite persists a pending-write marker for the node about to
// run, so a crash mid-node can be detected and the node replayed on resume
// rather than silently skipped.
func (g *Graph) recordPendingWrite(ctx context.Context, node string, state *domain.State) error {
	if g.saver == nil {
		return nil
	}
	value, err := json.Marshal(state)
	if err != nil {
		return errs.NewCorruptionError("graph state", err)
	}
	cpID, _, err := g.latestCheckpoint(ctx)
	if err != nil || cpID == "" {
		return nil // first node of a fresh run: nothing to attach pending writes to yet
	}
	return g.saver.PutWrites(ctx, g.thread, "", cpID, node, node, []checkpoint.Write{
		{TaskID: node, TaskPath: node, Channel: "state", Value: value},
	})
}

// commitCheckpoint persists state after a node completes, with a fresh
// monotonic checkpoint id and an updated channel version for "state".
func (g *Graph) commitCheckpoint(ctx context.Context, node string, state *domain.State) error {
	if g.saver == nil {
		return nil
	}
	value, err := json.Marshal(state)
	if err != nil {
		return errs.NewCorruptionError("graph state", err)
	}

	parent, currentVersion, err := g.latestCheckpoint(ctx)
	if err != nil {
		return err
	}
	nextVersion := checkpoint.NextVersion(currentVersion)

	// The version prefix is fixed-width and monotonically increasing
	// (see checkpoint.NextVersion), so prefixing the checkpoint id with it
	// keeps lexicographic id order equal to temporal order regardless of
	// which node produced the checkpoint — "latest" must mean "most
	// recent", not "alphabetically last node name".
	cp := checkpoint.Checkpoint{
		ID:              fmt.Sprintf("%s_%s", nextVersion, node),
		ChannelVersions: map[string]string{"state": nextVersion},
	}
	return g.saver.Put(ctx, g.thread, "", cp,
		map[string]any{"source": "graph", "node": node, "step": nextVersion},
		map[string]string{"state": nextVersion},
		map[string]json.RawMessage{"state": value},
		parent,
	)
}

// latestCheckpoint returns the current checkpoint id and the "state"
// channel's current version (both empty for a fresh thread).
func (g *Graph) latestCheckpoint(ctx context.Context) (id, stateVersion string, err error) {
	tuple, err := g.saver.GetTuple(ctx, g.thread, "", "")
	if err != nil {
		return "", "", nil
	}
	if tuple == nil {
		return "", "", nil
	}
	return tuple.Checkpoint.ID, tuple.Checkpoint.ChannelVersions["state"], nil
}

// LoadLatestState reads the most recent checkpointed state for the
// thread, or nil if no checkpoint exists yet.
func (g *Graph) LoadLatestState(ctx context.Context) (*domain.State, error) {
	if g.saver == nil {
		return nil, nil
	}
	tuple, err := g.saver.GetTuple(ctx, g.thread, "", "")
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if tuple == nil {
		return nil, nil
	}
	raw, ok := tuple.ChannelValues["state"]
	if !ok {
		return nil, nil
	}
	var state domain.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errs.NewCorruptionError("checkpointed state", err)
	}
	return &state, nil
}
