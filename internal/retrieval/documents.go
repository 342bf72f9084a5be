package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// Chunk is one unit of retrievable text: a whole project file, pretty
// printed, tagged with the doc type and (when applicable) chapter number
// that let Search filter relevantly for a chapter's context pack.
type Chunk struct {
	DocType   string
	ChapterID int
	Path      string
	Text      string
}

var chapterFileRe = regexp.MustCompile(`^chapter_(\d+)(_plan)?\.json$`)

// IterProjectChunks walks a project directory and emits one chunk per
// bible/aggregate document plus one per chapter plan/content file,
// matching the original system's iter_project_chunks.
func IterProjectChunks(projectRoot string) ([]Chunk, error) {
	var chunks []Chunk

	for _, name := range []string{"world", "characters", "theme_conflict", "outline", "chapter_memory", "consistency_reports", "settings"} {
		path := filepath.Join(projectRoot, name+".json")
		text, ok, err := readPretty(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if ok {
			chunks = append(chunks, Chunk{DocType: name, Path: path, Text: text})
		}
	}

	chaptersDir := filepath.Join(projectRoot, "chapters")
	entries, err := os.ReadDir(chaptersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return chunks, nil
		}
		return nil, fmt.Errorf("read chapters dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := chapterFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		chapterNum, _ := strconv.Atoi(m[1])
		docType := "chapter_content"
		if m[2] != "" {
			docType = "chapter_plan"
		}
		path := filepath.Join(chaptersDir, e.Name())
		text, ok, err := readPretty(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if ok {
			chunks = append(chunks, Chunk{DocType: docType, ChapterID: chapterNum, Path: path, Text: text})
		}
	}

	return chunks, nil
}

// readPretty loads a JSON file and re-renders it indented so retrieval
// excerpts read as structured text rather than a single minified line. A
// missing file is not an error — many bible documents don't exist yet
// early in a run — so callers get (text, false, nil) for that case.
func readPretty(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data), true, nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data), true, nil
	}
	return string(pretty), true, nil
}
