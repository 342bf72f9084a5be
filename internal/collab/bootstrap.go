package collab

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/domain"
)

// DefaultBootstrap is a dependency-free, rule-based Bootstrap: it expands a
// short prompt into a requirements sketch and fills in genre-neutral
// placeholder world/characters/theme/outline documents whenever the
// corresponding bible file is missing, reusing whatever already exists
// otherwise. Grounded on the original system's app/bootstrap/bootstrap.py,
// translated from its genre-specific (xianxia) defaults to a
// genre-agnostic fantasy-adventure sketch appropriate to a general-purpose
// narrative engine.
type DefaultBootstrap struct{}

func (DefaultBootstrap) EnsureBackgroundAssets(_ context.Context, store *artifact.Store, prompt string, numChapters int, generator string, allowOverwrite bool) (*BootstrapResult, error) {
	prompt = strings.TrimSpace(prompt)

	var world, characters, themeConflict, outline map[string]any
	worldMissing := !readExisting(store, "world", &world)
	charsMissing := !readExisting(store, "characters", &characters)
	themeMissing := !readExisting(store, "theme_conflict", &themeConflict)
	outlineMissing := !readExisting(store, "outline", &outline)

	anyMissing := worldMissing || charsMissing || themeMissing || outlineMissing
	if anyMissing && prompt == "" {
		return nil, fmt.Errorf("project is missing background assets (world/characters/theme_conflict/outline) and no --prompt was given")
	}

	now := time.Now().UTC()
	meta := func() domain.Metadata {
		return domain.Metadata{SchemaVersion: 1, GeneratedAt: now, Generator: generator}
	}

	if worldMissing || allowOverwrite {
		world = defaultWorld(prompt)
		world["metadata"] = meta()
		if err := store.WriteBibleDoc("world", world); err != nil {
			return nil, fmt.Errorf("write world: %w", err)
		}
	}
	if charsMissing || allowOverwrite {
		characters = defaultCharacters()
		characters["metadata"] = meta()
		if err := store.WriteBibleDoc("characters", characters); err != nil {
			return nil, fmt.Errorf("write characters: %w", err)
		}
	}
	if themeMissing || allowOverwrite {
		themeConflict = defaultThemeConflict()
		themeConflict["metadata"] = meta()
		if err := store.WriteBibleDoc("theme_conflict", themeConflict); err != nil {
			return nil, fmt.Errorf("write theme_conflict: %w", err)
		}
	}
	if outlineMissing || allowOverwrite {
		outline = defaultOutline(numChapters)
		outline["metadata"] = meta()
		if err := store.WriteBibleDoc("outline", outline); err != nil {
			return nil, fmt.Errorf("write outline: %w", err)
		}
	}

	return &BootstrapResult{
		Requirements:  domain.Requirements{Prompt: prompt, NumChapters: numChapters},
		World:         world,
		Characters:    characters,
		ThemeConflict: themeConflict,
		Outline:       outline,
	}, nil
}

func readExisting(store *artifact.Store, name string, dst *map[string]any) bool {
	var doc map[string]any
	if err := store.ReadBibleDoc(name, &doc); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		return false
	}
	*dst = doc
	return len(doc) > 0
}

func defaultWorld(prompt string) map[string]any {
	return map[string]any{
		"name":    "The Span",
		"premise": firstNonEmpty(prompt, "A wholly invented secondary world, consistent in its own rules and open to indefinite expansion."),
		"regions": []any{
			map[string]any{"name": "the Hearthlands", "overview": "settled, governed territory; the protagonist's starting point."},
			map[string]any{"name": "the Reach", "overview": "contested frontier where factions compete for resources and leverage."},
			map[string]any{"name": "the Deep", "overview": "largely unmapped territory that sets the outer bound of what is known."},
		},
		"rules": []any{
			"power always has a traceable cost; nothing is free",
			"crossing between regions requires a toll, a permit, or a broken rule",
		},
		"factions": []any{
			map[string]any{"name": "the Accord", "region": "the Hearthlands", "goal": "preserve the current order and its trade routes"},
			map[string]any{"name": "the Unbound", "region": "the Deep", "goal": "break the rules that keep the regions apart"},
		},
	}
}

func defaultCharacters() map[string]any {
	return map[string]any{
		"protagonist": map[string]any{
			"name":   "the protagonist",
			"role":   "protagonist",
			"wants":  "to grow capable enough to act on their own judgment",
			"fear":   "being used as an instrument of someone else's plan",
			"secret": "carries something, or knows something, that several factions want",
		},
		"supporting": []any{
			map[string]any{"name": "a companion", "role": "ally", "wants": "to restore what their own side has lost"},
			map[string]any{"name": "a rival", "role": "rival", "wants": "to prove they deserve the position they were denied"},
		},
		"antagonist": map[string]any{
			"name":    "the antagonist",
			"role":    "antagonist",
			"wants":   "to remove the constraint that holds the current order in place",
			"methods": []any{"persuasion", "leverage", "force, as a last resort"},
		},
	}
}

func defaultThemeConflict() map[string]any {
	return map[string]any{
		"theme":         "freedom weighed against cost",
		"core_question": "does gaining real power always mean losing some part of yourself?",
		"conflict": map[string]any{
			"external": "factions compete for a resource or advantage only the protagonist can unlock",
			"internal": "the protagonist must choose between the easier path and the one that costs less of who they are",
		},
		"stakes": []any{
			"personal: the protagonist's sense of self",
			"communal: whether the current order holds or breaks",
		},
	}
}

func defaultOutline(numChapters int) map[string]any {
	if numChapters <= 0 {
		numChapters = 1
	}
	chapters := make([]any, 0, numChapters)
	for i := 1; i <= numChapters; i++ {
		chapters = append(chapters, map[string]any{
			"chapter_id": i,
			"goal":       fmt.Sprintf("chapter %d: advance the main thread and surface a concrete new piece of information", i),
			"conflict":   "resistance comes from faction maneuvering and the protagonist's own limitations",
			"turn":       "an unplanned event exposes a larger scheme",
			"threads":    []any{fmt.Sprintf("T-%02d", i)},
			"must_include": []any{"a concrete world-building detail", "forward motion on a character's stated want"},
			"must_avoid":   []any{"resolving the central mystery too early"},
		})
	}
	return map[string]any{
		"num_chapters": numChapters,
		"chapters":     chapters,
		"high_level_arc": []any{
			"opening: drawn into the conflict",
			"rising: the cost of power becomes concrete",
			"turn: the scheme beneath events comes into view",
			"climax: a decisive, costly choice",
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
