// Package audit runs the registered consistency-checking plugins against a
// chapter draft and aggregates their findings into an AuditResult. Plugins
// are pure and read-only: they inspect state and a draft and return
// issues, never mutate anything. Grounded on the original system's
// agents/{registry,base}.py.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/schema"
)

// Plugin is a read-only consistency check. Implementations must not
// mutate state or draft.
type Plugin interface {
	Name() string
	Analyze(state *domain.State, draft *domain.ChapterContent) ([]domain.Issue, error)
}

// Registry holds the plugins a Runner will execute, in registration order.
// Unlike the original's module-level auto-registration via import side
// effects, this registry is populated explicitly at construction time.
type Registry struct {
	plugins []Plugin
}

// NewRegistry builds a Registry from an explicit plugin list.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// DefaultRegistry returns the registry used when no project-specific
// plugins are configured: the always-present built-in checks.
func DefaultRegistry() *Registry {
	return NewRegistry(&NoopPlugin{}, &ContinuityPlugin{})
}

// Register appends a plugin to the registry.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// Plugins returns the registered plugins in order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// Runner executes a Registry's plugins against one chapter draft. Pool is
// optional: when set, plugins run concurrently across it (they're pure and
// read-only, so fan-out is safe); nil runs them sequentially in
// registration order.
type Runner struct {
	Registry  *Registry
	Generator string
	Pool      *concurrency.Pool
}

// Run calls every registered plugin, validates each plugin's issues
// against the issue schema (a plugin producing a malformed issue is a
// fatal error for the run, not a silently dropped finding — matching
// audit_chapter.py), and aggregates the result. Per-plugin issue order is
// preserved regardless of completion order when Pool is set.
func (r *Runner) Run(ctx context.Context, state *domain.State, draft *domain.ChapterContent) (*domain.AuditResult, error) {
	result := &domain.AuditResult{
		Metadata: domain.Metadata{
			SchemaVersion: 1,
			GeneratedAt:   time.Now().UTC(),
			Generator:     r.Generator,
		},
		ChapterID:     state.CurrentChapter,
		RevisionID:    state.RevisionID,
		RevisionRound: state.RevisionRound,
	}

	plugins := r.Registry.Plugins()
	perPlugin := make([][]domain.Issue, len(plugins))

	analyze := func(_ context.Context, i int) error {
		p := plugins[i]
		issues, err := p.Analyze(state, draft)
		if err != nil {
			return fmt.Errorf("plugin %s failed: %w", p.Name(), err)
		}
		for j := range issues {
			issues[j].Plugin = p.Name()
			raw, err := json.Marshal(issues[j])
			if err != nil {
				return fmt.Errorf("plugin %s produced unmarshalable issue: %w", p.Name(), err)
			}
			if problems := schema.ValidateJSON(schema.KindIssue, raw); len(problems) > 0 {
				return fmt.Errorf("plugin %s produced an invalid issue: %v", p.Name(), problems)
			}
		}
		perPlugin[i] = issues
		return nil
	}

	if r.Pool != nil {
		if err := r.Pool.Run(ctx, len(plugins), analyze); err != nil {
			return nil, err
		}
	} else {
		for i := range plugins {
			if err := analyze(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	for _, issues := range perPlugin {
		result.Issues = append(result.Issues, issues...)
	}

	result.Recount(state.Requirements.QAMajorMax)
	return result, nil
}
