// Package artifact is the filesystem persistence layer for a novelgen
// project: bible documents, chapter plans/content, and the two project-wide
// aggregates (consistency reports, chapter memory). Every chapter write
// goes through an atomic bundle so a crash mid-write can never leave a
// chapter half-persisted; OverwriteAggregates writes its two files one
// after the other.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
	"github.com/jamesenh/novelgen/internal/schema"
)

// Store reads and writes every artifact under one project root.
type Store struct {
	ProjectRoot string
}

// New returns a Store rooted at projectRoot. It does not touch the
// filesystem; call InitProject or rely on the directories already
// existing.
func New(projectRoot string) *Store {
	return &Store{ProjectRoot: projectRoot}
}

func (s *Store) chaptersDir() string { return filepath.Join(s.ProjectRoot, "chapters") }
func (s *Store) dataDir() string     { return filepath.Join(s.ProjectRoot, "data") }

// CheckpointDBPath is where the checkpointer keeps its SQLite file.
func (s *Store) CheckpointDBPath() string { return filepath.Join(s.dataDir(), "checkpoint.db") }

// RetrievalDBPath is where the retrieval index keeps its SQLite file.
func (s *Store) RetrievalDBPath() string { return filepath.Join(s.dataDir(), "retrieval.db") }

func (s *Store) projectFile() string          { return filepath.Join(s.ProjectRoot, "settings.json") }
func (s *Store) bibleDocPath(name string) string {
	return filepath.Join(s.ProjectRoot, name+".json")
}
func (s *Store) consistencyReportsPath() string {
	return filepath.Join(s.ProjectRoot, "consistency_reports.json")
}
func (s *Store) chapterMemoryPath() string {
	return filepath.Join(s.ProjectRoot, "chapter_memory.json")
}
func (s *Store) chapterPlanPath(chapterID int) string {
	return filepath.Join(s.chaptersDir(), fmt.Sprintf("chapter_%03d_plan.json", chapterID))
}
func (s *Store) chapterContentPath(chapterID int) string {
	return filepath.Join(s.chaptersDir(), fmt.Sprintf("chapter_%03d.json", chapterID))
}

// ProjectMeta is the contents of settings.json.
type ProjectMeta struct {
	ProjectName string    `json:"project_name"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
}

// InitProject creates the project directory layout: chapters/, data/, and
// an initial settings.json. Safe to call again on an existing project (the
// directories are created idempotently); it never overwrites an existing
// settings.json.
func (s *Store) InitProject(name, author string, now time.Time) error {
	for _, dir := range []string{s.ProjectRoot, s.chaptersDir(), s.dataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(s.projectFile()); err == nil {
		return nil
	}
	meta := ProjectMeta{ProjectName: name, Author: author, CreatedAt: now}
	return writeJSON(s.projectFile(), meta)
}

// Exists reports whether this project has been initialized (its
// settings.json is present).
func (s *Store) Exists() bool {
	_, err := os.Stat(s.projectFile())
	return err == nil
}

// ReadMeta reads the project's settings.json.
func (s *Store) ReadMeta() (*ProjectMeta, error) {
	var meta ProjectMeta
	if err := readJSON(s.projectFile(), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Delete removes the entire project directory tree, including the
// checkpoint and retrieval databases. Irreversible.
func (s *Store) Delete() error {
	return os.RemoveAll(s.ProjectRoot)
}

// ListProjects returns the names of every initialized project found as an
// immediate subdirectory of root (a directory containing a settings.json).
// A missing root is not an error; it just has no projects.
func ListProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if New(filepath.Join(root, e.Name())).Exists() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadBibleDoc reads one of world/characters/theme_conflict/outline.json
// into dst.
func (s *Store) ReadBibleDoc(name string, dst any) error {
	return readJSON(s.bibleDocPath(name), dst)
}

// WriteBibleDoc validates and writes one bible document. Bible documents
// are written individually (not part of the atomic chapter bundle) since
// they are produced once at bootstrap time, before any chapter exists.
func (s *Store) WriteBibleDoc(name string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if problems := schema.ValidateJSON(schema.KindBibleDoc, data); len(problems) > 0 {
		return errs.NewValidationError(name, problems)
	}
	return writeFile(s.bibleDocPath(name), data)
}

// ReadChapterPlan loads chapters/chapter_<id>_plan.json.
func (s *Store) ReadChapterPlan(chapterID int) (*domain.ChapterPlan, error) {
	var p domain.ChapterPlan
	if err := readJSON(s.chapterPlanPath(chapterID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReadChapterContent loads chapters/chapter_<id>.json.
func (s *Store) ReadChapterContent(chapterID int) (*domain.ChapterContent, error) {
	var c domain.ChapterContent
	if err := readJSON(s.chapterContentPath(chapterID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReadConsistencyReports loads the project-wide aggregate, or a zero value
// if it does not exist yet.
func (s *Store) ReadConsistencyReports() (*domain.ConsistencyReportsFile, error) {
	var f domain.ConsistencyReportsFile
	if err := readJSON(s.consistencyReportsPath(), &f); err != nil {
		if os.IsNotExist(err) {
			return &domain.ConsistencyReportsFile{}, nil
		}
		return nil, err
	}
	return &f, nil
}

// ReadChapterMemory loads the project-wide aggregate, or a zero value if it
// does not exist yet.
func (s *Store) ReadChapterMemory() (*domain.ChapterMemoryFile, error) {
	var f domain.ChapterMemoryFile
	if err := readJSON(s.chapterMemoryPath(), &f); err != nil {
		if os.IsNotExist(err) {
			return &domain.ChapterMemoryFile{}, nil
		}
		return nil, err
	}
	return &f, nil
}

// bundleAlreadyPersisted checks whether the chapter content file on disk
// already carries this revision id, making the write a no-op. This is what
// makes WriteChapterBundle idempotent under graph replay.
func (s *Store) bundleAlreadyPersisted(chapterID int, revisionID string) bool {
	existing, err := s.ReadChapterContent(chapterID)
	if err != nil {
		return false
	}
	return existing.RevisionID == revisionID
}

// WriteChapterBundle validates a chapter's plan, content, and audit result,
// then persists exactly four files in one atomic write: the plan, the
// content, and the two project-wide aggregates (consistency reports and
// chapter memory) folding the audit result in. It is idempotent: replaying
// the same revision id is a no-op. A nil issue list on the audit result is
// stored as an empty list.
func (s *Store) WriteChapterBundle(chapterID int, plan *domain.ChapterPlan, content *domain.ChapterContent, audit *domain.AuditResult, qaMajorMax int) error {
	if s.bundleAlreadyPersisted(chapterID, content.RevisionID) {
		return nil
	}
	if audit.Issues == nil {
		audit.Issues = []domain.Issue{}
	}

	for _, v := range []struct {
		kind schema.Kind
		data any
	}{
		{schema.KindChapterPlan, plan},
		{schema.KindChapterContent, content},
		{schema.KindAuditResult, audit},
	} {
		raw, err := json.Marshal(v.data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", v.kind, err)
		}
		if problems := schema.ValidateJSON(v.kind, raw); len(problems) > 0 {
			return errs.NewValidationError(string(v.kind), problems)
		}
	}

	reports, err := s.ReadConsistencyReports()
	if err != nil {
		return fmt.Errorf("read consistency reports: %w", err)
	}
	memory, err := s.ReadChapterMemory()
	if err != nil {
		return fmt.Errorf("read chapter memory: %w", err)
	}
	if reports.Chapters == nil {
		reports.Chapters = make(map[string]domain.ChapterReportEntry)
	}
	if memory.Chapters == nil {
		memory.Chapters = make(map[string]domain.ChapterMemoryEntry)
	}
	key := strconv.Itoa(chapterID)
	reports.Chapters[key] = reportEntryFor(chapterID, audit, qaMajorMax)
	memory.Chapters[key] = memoryEntryFor(chapterID, content)

	files := []fileWrite{
		{path: s.chapterPlanPath(chapterID), data: mustMarshal(plan)},
		{path: s.chapterContentPath(chapterID), data: mustMarshal(content)},
		{path: s.consistencyReportsPath(), data: mustMarshal(reports)},
		{path: s.chapterMemoryPath(), data: mustMarshal(memory)},
	}

	return atomicWriteBundle(s.ProjectRoot, files)
}

// OverwriteAggregates rewrites the two project-wide aggregate files
// directly, bypassing the per-chapter bundle path. Used by rollback, which
// prunes entries rather than appending one.
func (s *Store) OverwriteAggregates(memory *domain.ChapterMemoryFile, reports *domain.ConsistencyReportsFile) error {
	if memory == nil {
		memory = &domain.ChapterMemoryFile{}
	}
	if reports == nil {
		reports = &domain.ConsistencyReportsFile{}
	}
	if err := writeJSON(s.chapterMemoryPath(), memory); err != nil {
		return fmt.Errorf("write chapter memory: %w", err)
	}
	if err := writeJSON(s.consistencyReportsPath(), reports); err != nil {
		return fmt.Errorf("write consistency reports: %w", err)
	}
	return nil
}

func reportEntryFor(chapterID int, audit *domain.AuditResult, qaMajorMax int) domain.ChapterReportEntry {
	return domain.ChapterReportEntry{
		ChapterID:          chapterID,
		Issues:             audit.Issues,
		BlockerCount:       audit.BlockerCount,
		MajorCount:         audit.MajorCount,
		MinorCount:         audit.MinorCount,
		UpdatedAt:          time.Now().UTC(),
		MajorOverThreshold: audit.MajorOverThreshold,
		QAMajorMax:         qaMajorMax,
	}
}

func memoryEntryFor(chapterID int, content *domain.ChapterContent) domain.ChapterMemoryEntry {
	title := content.Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", chapterID)
	}
	return domain.ChapterMemoryEntry{
		ChapterID:  chapterID,
		Title:      title,
		SceneCount: len(content.Scenes),
		WordCount:  content.WordCount,
		UpdatedAt:  time.Now().UTC(),
	}
}

func mustMarshal(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("marshal artifact: %v", err))
	}
	return data
}

func writeJSON(path string, v any) error {
	return writeFile(path, mustMarshal(v))
}

// writeFile stages data to a temp file in the same directory as path, then
// renames it into place, so a crash mid-write can never leave a torn
// bible/settings document — the non-bundled counterpart to
// atomicWriteBundle's per-file rename step.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".novelgen_tmp_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
