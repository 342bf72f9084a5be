// Package collab defines the external collaborator contracts the
// orchestrator depends on but does not implement in full: background-asset
// bootstrap, domain-memory cleanup on rollback, and an optional task queue
// wrapper. Default, dependency-free implementations are provided so the
// core runs standalone; production deployments are expected to supply
// richer ones (an LLM-backed bootstrap, a vector-memory store, a real task
// broker) without changing the orchestrator.
package collab

import (
	"context"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/domain"
)

// Bootstrap ensures the bible/outline artifacts a run needs exist before
// generation starts, idempotently reusing whatever is already on disk
// unless allowOverwrite is set.
type Bootstrap interface {
	EnsureBackgroundAssets(ctx context.Context, store *artifact.Store, prompt string, numChapters int, generator string, allowOverwrite bool) (*BootstrapResult, error)
}

// BootstrapResult is everything a bootstrap run produces, destined for the
// initial graph state.
type BootstrapResult struct {
	Requirements  domain.Requirements
	World         map[string]any
	Characters    map[string]any
	ThemeConflict map[string]any
	Outline       map[string]any
}

// DomainMemory is an external long-term memory store (e.g. a vector index
// over generated prose) kept consistent with the filesystem by rollback.
type DomainMemory interface {
	Clear(ctx context.Context, project string, chapterGTE, sceneGTE int) (deleted int, err error)
}

// TaskQueue optionally wraps run/resume as queued jobs. The core never
// requires one; when present, its shutdown handler shares the same
// shutdown-flag primitive the engine polls between sub-tasks.
type TaskQueue interface {
	Submit(ctx context.Context, job func(ctx context.Context) error) (taskID string, err error)
	Revoke(ctx context.Context, taskID string) error
	OnShutdown(handler func())
}

// NoopDomainMemory is the default DomainMemory: no external memory store is
// configured, so rollback has nothing to reconcile.
type NoopDomainMemory struct{}

func (NoopDomainMemory) Clear(_ context.Context, _ string, _, _ int) (int, error) {
	return 0, nil
}
