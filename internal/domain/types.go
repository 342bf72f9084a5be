// Package domain holds the data shapes shared by every layer of the
// generation engine: the graph state, the artifacts it persists, and the
// audit findings it produces. None of these types know how they are
// stored, validated, or transmitted — that is the job of internal/schema,
// internal/artifact, and internal/httpapi respectively.
package domain

import "time"

// Severity is how serious an audit Issue is.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityMajor   Severity = "major"
	SeverityMinor   Severity = "minor"
)

// Category classifies what kind of consistency problem an Issue describes.
type Category string

const (
	CategoryWorldRule  Category = "world_rule"
	CategoryCharacter  Category = "character"
	CategoryTimeline   Category = "timeline"
	CategoryKnowledge  Category = "knowledge"
	CategoryThread     Category = "thread"
	CategoryPOVStyle   Category = "pov_style"
)

// Metadata is the envelope every persisted artifact carries.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Generator     string    `json:"generator"`
}

// Issue is a single consistency finding raised by an audit plugin.
type Issue struct {
	ID              string         `json:"id"`
	Severity        Severity       `json:"severity"`
	Category        Category       `json:"category"`
	Summary         string         `json:"summary"`
	Evidence        map[string]any `json:"evidence,omitempty"`
	Location        string         `json:"location,omitempty"`
	FixInstructions string         `json:"fix_instructions,omitempty"`
	Plugin          string         `json:"plugin"`
}

// AuditResult aggregates every plugin's issues for one chapter revision.
type AuditResult struct {
	Metadata         Metadata `json:"metadata"`
	ChapterID        int      `json:"chapter_id"`
	RevisionID       string   `json:"revision_id,omitempty"`
	RevisionRound    int      `json:"revision_round"`
	Issues           []Issue  `json:"issues"`
	BlockerCount     int      `json:"blocker_count"`
	MajorCount       int      `json:"major_count"`
	MinorCount       int      `json:"minor_count"`
	MajorOverThreshold bool   `json:"major_over_threshold"`
}

// Recount recomputes the severity tallies from Issues.
func (a *AuditResult) Recount(qaMajorMax int) {
	a.BlockerCount, a.MajorCount, a.MinorCount = 0, 0, 0
	for _, iss := range a.Issues {
		switch iss.Severity {
		case SeverityBlocker:
			a.BlockerCount++
		case SeverityMajor:
			a.MajorCount++
		case SeverityMinor:
			a.MinorCount++
		}
	}
	a.MajorOverThreshold = a.MajorCount > qaMajorMax
}

// Scene is one beat of a chapter plan, later filled in with prose.
type Scene struct {
	Index       int      `json:"index"`
	Location    string   `json:"location"`
	POV         string   `json:"pov"`
	Goal        string   `json:"goal"`
	Conflict    string   `json:"conflict"`
	Turn        string   `json:"turn,omitempty"`
	MustInclude []string `json:"must_include,omitempty"`
	Characters  []string `json:"characters,omitempty"`
	Content     string   `json:"content,omitempty"`
	WordCount   int      `json:"word_count,omitempty"`
}

// ChapterPlan is the outline for one chapter before prose is written.
type ChapterPlan struct {
	Metadata    Metadata `json:"metadata"`
	ChapterID   int      `json:"chapter_id"`
	RevisionID  string   `json:"revision_id,omitempty"`
	POV         string   `json:"pov"`
	Goal        string   `json:"goal"`
	Conflict    string   `json:"conflict"`
	Turn        string   `json:"turn,omitempty"`
	Reveal      string   `json:"reveal,omitempty"`
	Threads     []string `json:"threads,omitempty"`
	MustInclude []string `json:"must_include,omitempty"`
	MustAvoid   []string `json:"must_avoid,omitempty"`
	Scenes      []Scene  `json:"scenes"`
}

// ChapterContent is the written-out prose for a chapter, scene by scene.
type ChapterContent struct {
	Metadata      Metadata `json:"metadata"`
	ChapterID     int      `json:"chapter_id"`
	Title         string   `json:"title,omitempty"`
	RevisionID    string   `json:"revision_id,omitempty"`
	RevisionRound int      `json:"revision_round"`
	Scenes        []Scene  `json:"scenes"`
	WordCount     int      `json:"word_count"`
}

// TotalWordCount sums scene word counts and refreshes WordCount.
func (c *ChapterContent) TotalWordCount() int {
	total := 0
	for _, s := range c.Scenes {
		total += s.WordCount
	}
	c.WordCount = total
	return total
}

// ContextSource is one retrieval hit surfaced into a chapter's context pack.
type ContextSource struct {
	DocType   string  `json:"doc_type"`
	ChapterID int     `json:"chapter_id,omitempty"`
	Score     float64 `json:"score"`
	Excerpt   string  `json:"excerpt"`
}

// BibleSummary is the top-level bible picks a context pack carries so a
// Planner/Writer can see world/protagonist/theme without re-reading the
// full bible documents.
type BibleSummary struct {
	WorldName   string `json:"world_name"`
	Protagonist string `json:"protagonist"`
	Theme       string `json:"theme"`
}

// ContextPack is everything assembled for one chapter before planning.
type ContextPack struct {
	Metadata           Metadata             `json:"metadata"`
	ProjectName        string               `json:"project_name"`
	ChapterID          int                  `json:"chapter_id"`
	Query              string               `json:"query"`
	OutlineCurrent     map[string]any       `json:"outline_current"`
	BibleSummary       BibleSummary         `json:"bible_summary"`
	RecentMemory       []ChapterMemoryEntry `json:"recent_memory"`
	OpenBlockerReports []ChapterReportEntry `json:"open_blocker_reports"`
	Sources            []ContextSource      `json:"sources"`
}

// ChapterReportEntry summarizes one chapter's final audit outcome, keyed by
// chapter id string inside ConsistencyReportsFile.Chapters.
type ChapterReportEntry struct {
	ChapterID          int       `json:"chapter_id"`
	Issues             []Issue   `json:"issues"`
	BlockerCount       int       `json:"blocker_count"`
	MajorCount         int       `json:"major_count"`
	MinorCount         int       `json:"minor_count"`
	UpdatedAt          time.Time `json:"updated_at"`
	MajorOverThreshold bool      `json:"major_over_threshold"`
	QAMajorMax         int       `json:"qa_major_max"`
	HumanReview        bool      `json:"human_review"`
}

// ConsistencyReportsFile is the project-wide aggregate of chapter reports,
// keyed by chapter id as a string (e.g. "1"), matching the original
// system's artifact_store.py persistence shape exactly.
type ConsistencyReportsFile struct {
	Metadata Metadata                      `json:"metadata"`
	Chapters map[string]ChapterReportEntry `json:"chapters"`
}

// ChapterMemoryEntry is a compact summary of one completed chapter, used to
// give later chapters continuity without re-reading full prose. Title,
// SceneCount, WordCount, and UpdatedAt are the narrow required shape;
// TimelineAnchor and CharacterStates are additive, richer continuity data
// some deployments track on top of it.
type ChapterMemoryEntry struct {
	ChapterID       int               `json:"chapter_id"`
	Title           string            `json:"title"`
	SceneCount      int               `json:"scene_count"`
	WordCount       int               `json:"word_count"`
	UpdatedAt       time.Time         `json:"updated_at"`
	TimelineAnchor  string            `json:"timeline_anchor,omitempty"`
	CharacterStates map[string]string `json:"character_states,omitempty"`
}

// ChapterMemoryFile is the project-wide aggregate of chapter memory, keyed
// by chapter id as a string (e.g. "1").
type ChapterMemoryFile struct {
	Metadata Metadata                      `json:"metadata"`
	Chapters map[string]ChapterMemoryEntry `json:"chapters"`
}

// Requirements captures the user-provided generation parameters that seed a
// run: how many chapters, what prompt, and the thresholds governing the
// revision loop.
type Requirements struct {
	ProjectName      string `json:"project_name"`
	Author           string `json:"author"`
	NumChapters      int    `json:"num_chapters"`
	Prompt           string `json:"prompt"`
	MaxRevisionRounds int   `json:"max_revision_rounds"`
	QABlockerMax     int    `json:"qa_blocker_max"`
	QAMajorMax       int    `json:"qa_major_max"`
}

// State is the graph's blackboard — the single mutable record threaded
// through every node of one run. Fields are grouped by how long they live:
// identifiers and requirements are set once; current-chapter fields are
// reset by AdvanceChapter; status flags are terminal signals.
type State struct {
	// Identifiers
	RunID        string `json:"run_id"`
	ThreadID     string `json:"thread_id"`
	RevisionID   string `json:"revision_id"`

	// Requirements (set once at run start)
	Requirements Requirements `json:"requirements"`

	// Bible / outline (loaded once, read-only during the run)
	World          map[string]any `json:"world,omitempty"`
	Characters     map[string]any `json:"characters,omitempty"`
	ThemeConflict  map[string]any `json:"theme_conflict,omitempty"`
	Outline        map[string]any `json:"outline,omitempty"`

	// Runtime control
	CurrentChapter int `json:"current_chapter"`
	RevisionRound  int `json:"revision_round"`

	// Current-chapter artifacts, reset by AdvanceChapter
	ContextPack  *ContextPack    `json:"context_pack,omitempty"`
	ChapterPlan  *ChapterPlan    `json:"chapter_plan,omitempty"`
	ChapterDraft *ChapterContent `json:"chapter_draft,omitempty"`
	AuditResult  *AuditResult    `json:"audit_result,omitempty"`

	// Status flags
	HumanReviewNeeded bool `json:"human_review_needed"`
	Complete          bool `json:"complete"`
}

// AdvanceChapter moves the state to the next chapter, resetting the
// per-chapter working fields and recomputing RevisionID. It mirrors the
// original system's advance_chapter graph node exactly.
func (s *State) AdvanceChapter() {
	s.CurrentChapter++
	s.RevisionRound = 0
	s.RevisionID = FormatRevisionID(s.RunID, s.CurrentChapter, s.RevisionRound)
	s.ContextPack = nil
	s.ChapterPlan = nil
	s.ChapterDraft = nil
	s.AuditResult = nil
}
