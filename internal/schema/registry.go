// Package schema embeds the JSON Schema documents for every artifact kind
// novelgen persists and validates, and exposes a single Validate entry
// point used at every store/plugin boundary named in SPEC_FULL.md §4.9.
package schema

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names a registered artifact schema.
type Kind string

const (
	KindBibleDoc           Kind = "bible_doc"
	KindChapterPlan        Kind = "chapter_plan"
	KindChapterContent     Kind = "chapter_content"
	KindAuditResult        Kind = "audit_result"
	KindIssue              Kind = "issue"
	KindConsistencyReports Kind = "consistency_reports"
	KindChapterMemory      Kind = "chapter_memory"
	KindContextPack        Kind = "context_pack"
)

// entry pairs a registered Kind with its initialization order, matching
// the teacher's ordered-registry shape: dependencies (metadata, issue,
// scene) load before the documents that $ref them.
type entry struct {
	Kind  Kind
	Order int
}

var registry = []entry{
	{Kind: KindIssue, Order: 0},
	{Kind: KindBibleDoc, Order: 1},
	{Kind: KindChapterPlan, Order: 2},
	{Kind: KindChapterContent, Order: 3},
	{Kind: KindAuditResult, Order: 4},
	{Kind: KindConsistencyReports, Order: 5},
	{Kind: KindChapterMemory, Order: 6},
	{Kind: KindContextPack, Order: 7},
}

var (
	once       sync.Once
	compiled   map[Kind]*jsonschema.Schema
	compileErr error
)

// filename returns the schema file backing a Kind.
func filename(k Kind) string {
	return fmt.Sprintf("schemas/%s.json", string(k))
}

func compileAll() (map[Kind]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7

	// Shared fragments referenced via $ref by the documents above.
	for _, shared := range []string{"metadata.json", "scene.json", "issue.json"} {
		data, err := schemaFS.ReadFile("schemas/" + shared)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", shared, err)
		}
		if err := c.AddResource(shared, mustJSON(data)); err != nil {
			return nil, fmt.Errorf("register %s: %w", shared, err)
		}
	}

	ordered := make([]entry, len(registry))
	copy(ordered, registry)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	out := make(map[Kind]*jsonschema.Schema, len(ordered))
	for _, e := range ordered {
		name := filename(e.Kind)
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.AddResource(string(e.Kind)+".json", mustJSON(data)); err != nil {
			return nil, fmt.Errorf("register %s: %w", e.Kind, err)
		}
		sch, err := c.Compile(string(e.Kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", e.Kind, err)
		}
		out[e.Kind] = sch
	}
	return out, nil
}

func get() (map[Kind]*jsonschema.Schema, error) {
	once.Do(func() {
		compiled, compileErr = compileAll()
	})
	return compiled, compileErr
}

// Validate checks data (a JSON document, already unmarshaled into an
// any-typed tree as jsonschema/v5 requires) against the schema for kind.
// Returns nil on success, or the validation errors flattened to strings.
func Validate(kind Kind, data any) []string {
	schemas, err := get()
	if err != nil {
		return []string{fmt.Sprintf("schema registry failed to compile: %v", err)}
	}
	sch, ok := schemas[kind]
	if !ok {
		return []string{fmt.Sprintf("unknown schema kind %q", kind)}
	}
	if err := sch.Validate(data); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return flatten(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

// ValidateJSON decodes raw JSON bytes and validates them against kind's
// schema. This is the entry point artifact/audit callers use, since they
// hold already-marshaled bundle files rather than decoded trees.
func ValidateJSON(kind Kind, data []byte) []string {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Validate(kind, v)
}

// flatten walks a jsonschema ValidationError tree into flat messages.
func flatten(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			out = append(out, fmt.Sprintf("%s: %s", v.InstanceLocation, v.Message))
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// mustJSON decodes an embedded schema document; embedded files are part of
// the binary and known-good at build time, so any decode failure here is a
// programmer error in the schema file itself, not a runtime condition to
// recover from.
func mustJSON(data []byte) any {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("embedded schema is not valid JSON: %v", err))
	}
	return v
}
