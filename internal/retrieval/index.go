// Package retrieval is a small full-text index over a project's bible
// documents and chapters, used to assemble a chapter's context pack. It
// prefers SQLite FTS5 with BM25 ranking, grounded on the original system's
// retrieval/index.py, and falls back to a linear substring scan when FTS5
// isn't available in the compiled SQLite driver.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// Hit is one scored retrieval result.
type Hit struct {
	DocType   string
	ChapterID int
	Score     float64
	Excerpt   string
}

// Index is a retrieval database backed by one SQLite file.
type Index struct {
	db          *sql.DB
	ftsEnabled  bool
}

// Open opens (creating if needed) the retrieval database at path and
// probes whether FTS5 is available in this build of the driver.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create retrieval db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open retrieval db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	idx := &Index{db: db}
	idx.ftsEnabled = idx.ensureFTS() == nil
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks_plain (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_type TEXT NOT NULL,
		chapter_id INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL,
		body TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fallback table: %w", err)
	}

	return idx, nil
}

// ensureFTS attempts to create the FTS5 virtual table. Returns a non-nil
// error if FTS5 isn't compiled into this SQLite build — modernc.org/sqlite
// does not include it by default, so the fallback path below is what
// actually runs in the default environment; both paths are implemented and
// tested.
func (idx *Index) ensureFTS() error {
	_, err := idx.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts
		USING fts5(doc_type, chapter_id UNINDEXED, path UNINDEXED, body, tokenize='unicode61')`)
	return err
}

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

// RebuildIndex clears and re-populates the index from the project's
// current files. The original system does the same — a full rebuild, no
// incremental updates — which is fine at the small corpus sizes a
// generation project reaches.
func (idx *Index) RebuildIndex(ctx context.Context, projectRoot string) error {
	chunks, err := IterProjectChunks(projectRoot)
	if err != nil {
		return fmt.Errorf("collect chunks: %w", err)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if idx.ftsEnabled {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts"); err != nil {
			return fmt.Errorf("clear fts table: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_plain"); err != nil {
		return fmt.Errorf("clear fallback table: %w", err)
	}

	for _, c := range chunks {
		if idx.ftsEnabled {
			if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (doc_type, chapter_id, path, body) VALUES (?, ?, ?, ?)`,
				c.DocType, c.ChapterID, c.Path, c.Text); err != nil {
				return fmt.Errorf("insert fts chunk %s: %w", c.Path, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_plain (doc_type, chapter_id, path, body) VALUES (?, ?, ?, ?)`,
			c.DocType, c.ChapterID, c.Path, c.Text); err != nil {
			return fmt.Errorf("insert fallback chunk %s: %w", c.Path, err)
		}
	}

	return tx.Commit()
}

// EnsureIndex builds the index if it is empty, otherwise leaves the
// existing index in place (matching the original's "build if missing,
// else reuse" policy).
func (idx *Index) EnsureIndex(ctx context.Context, projectRoot string) error {
	var n int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_plain").Scan(&n); err != nil {
		return fmt.Errorf("count existing chunks: %w", err)
	}
	if n > 0 {
		return nil
	}
	return idx.RebuildIndex(ctx, projectRoot)
}

var ftsSanitizeRe = regexp.MustCompile(`[^\w\p{Han}]+`)

// sanitizeFTSQuery strips everything that isn't a word character or CJK
// ideograph, collapsing runs of separators to a single space, so free-text
// prompts never trip FTS5's query syntax.
func sanitizeFTSQuery(q string) string {
	cleaned := ftsSanitizeRe.ReplaceAllString(q, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

// Search returns up to topK hits for query, optionally restricted to
// docTypes and to chapters in [chapterMin, chapterMax] (either bound 0
// means unbounded). It prefers FTS5 with BM25 ranking and falls back to a
// linear substring scan when FTS5 is unavailable or the query sanitizes to
// nothing usable.
func (idx *Index) Search(ctx context.Context, query string, docTypes []string, chapterMin, chapterMax, topK int) ([]Hit, error) {
	if idx.ftsEnabled {
		hits, err := idx.searchFTS(ctx, query, docTypes, chapterMin, chapterMax, topK)
		if err == nil {
			return hits, nil
		}
	}
	return idx.searchFallback(ctx, query, docTypes, chapterMin, chapterMax, topK)
}

func (idx *Index) searchFTS(ctx context.Context, query string, docTypes []string, chapterMin, chapterMax, topK int) ([]Hit, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty sanitized query")
	}

	sqlQuery := `SELECT doc_type, chapter_id, -bm25(chunks_fts) AS score,
		snippet(chunks_fts, 3, '', '', '...', 24) AS excerpt
		FROM chunks_fts WHERE chunks_fts MATCH ?`
	args := []any{sanitized}
	sqlQuery, args = appendFilters(sqlQuery, args, docTypes, chapterMin, chapterMax, "chapter_id")
	sqlQuery += " ORDER BY score DESC LIMIT ?"
	args = append(args, topK)

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocType, &h.ChapterID, &h.Score, &h.Excerpt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (idx *Index) searchFallback(ctx context.Context, query string, docTypes []string, chapterMin, chapterMax, topK int) ([]Hit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	sqlQuery := `SELECT doc_type, chapter_id, body FROM chunks_plain WHERE 1=1`
	var args []any
	sqlQuery, args = appendFilters(sqlQuery, args, docTypes, chapterMin, chapterMax, "chapter_id")

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var docType, body string
		var chapterID int
		if err := rows.Scan(&docType, &chapterID, &body); err != nil {
			return nil, err
		}
		if needle == "" {
			continue
		}
		lower := strings.ToLower(body)
		pos := strings.Index(lower, needle)
		if pos < 0 {
			continue
		}
		start := pos - 40
		if start < 0 {
			start = 0
		}
		end := pos + len(needle) + 40
		if end > len(body) {
			end = len(body)
		}
		hits = append(hits, Hit{DocType: docType, ChapterID: chapterID, Score: 1.0, Excerpt: body[start:end]})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func appendFilters(query string, args []any, docTypes []string, chapterMin, chapterMax int, chapterCol string) (string, []any) {
	if len(docTypes) > 0 {
		placeholders := make([]string, len(docTypes))
		for i, d := range docTypes {
			placeholders[i] = "?"
			args = append(args, d)
		}
		query += fmt.Sprintf(" AND doc_type IN (%s)", strings.Join(placeholders, ","))
	}
	if chapterMin > 0 {
		query += fmt.Sprintf(" AND (%s = 0 OR %s >= ?)", chapterCol, chapterCol)
		args = append(args, chapterMin)
	}
	if chapterMax > 0 {
		query += fmt.Sprintf(" AND (%s = 0 OR %s <= ?)", chapterCol, chapterCol)
		args = append(args, chapterMax)
	}
	return query, args
}
