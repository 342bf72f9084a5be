// Package export is a read-only manuscript renderer: it turns a project's
// stored chapter content into a plain-text manuscript (the default, always
// available) or an assembled PDF. Grounded on the original system's
// orchestrator.py export_chapter(s) methods for what gets rendered, and on
// the teacher's use of github.com/pdfcpu/pdfcpu for the PDF path — there
// used to extract page images out of scanned books, here used in the
// opposite, document-assembly direction.
package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/errs"
)

// Exporter renders chapters already persisted under one project's Store.
// It never writes back to the project; rollback and regeneration are the
// orchestrator's concern, not this package's.
type Exporter struct {
	Store *artifact.Store
}

type chapterText struct {
	id   int
	body string
}

// WriteText renders chapters (in the given order) as concatenated plain
// text, one "Chapter N" heading per chapter, to w.
func (e *Exporter) WriteText(chapters []int, w io.Writer) error {
	for _, id := range chapters {
		content, err := e.Store.ReadChapterContent(id)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "Chapter %d\n\n", id); err != nil {
			return fmt.Errorf("write chapter %d heading: %w", id, err)
		}
		for _, scene := range content.Scenes {
			if scene.Content == "" {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\n\n", scene.Content); err != nil {
				return fmt.Errorf("write chapter %d scene %d: %w", id, scene.Index, err)
			}
		}
	}
	return nil
}

// WriteTextFile is WriteText against a file at path, creating parent
// directories as needed.
func (e *Exporter) WriteTextFile(chapters []int, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return e.WriteText(chapters, f)
}

// WritePDFFile assembles chapters into a PDF manuscript at path: one blank
// page per chapter, with the chapter's full text stamped onto it as a
// watermark-style text overlay. This is a best-effort rendering (no
// pagination within a long chapter) suitable for a quick read-through
// export, not a typeset manuscript.
func (e *Exporter) WritePDFFile(chapters []int, path string) error {
	var texts []chapterText
	for _, id := range chapters {
		content, err := e.Store.ReadChapterContent(id)
		if err != nil {
			continue
		}
		body := ""
		for _, scene := range content.Scenes {
			if scene.Content != "" {
				body += scene.Content + "\n\n"
			}
		}
		texts = append(texts, chapterText{id: id, body: body})
	}
	if len(texts) == 0 {
		return errs.NewUserError("no chapters are available to export yet")
	}

	blankDir, err := os.MkdirTemp("", "novelgen-export-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(blankDir)

	blankPath := filepath.Join(blankDir, "blank.png")
	if err := writeBlankPage(blankPath); err != nil {
		return fmt.Errorf("render blank page: %w", err)
	}

	imageFiles := make([]string, len(texts))
	for i := range texts {
		imageFiles[i] = blankPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := api.ImportImagesFile(imageFiles, path, pdfcpu.DefaultImportConfig(), nil); err != nil {
		return fmt.Errorf("assemble blank manuscript pages: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	for i, ct := range texts {
		page := fmt.Sprintf("%d", i+1)
		wm, err := api.TextWatermark(
			fmt.Sprintf("Chapter %d\n\n%s", ct.id, ct.body),
			"font:Helvetica, points:11, scale:0.85 abs, color:0 0 0, pos:tl, rot:0",
			true, false, types.POINTS,
		)
		if err != nil {
			return fmt.Errorf("build watermark for chapter %d: %w", ct.id, err)
		}
		if err := api.AddWatermarksFile(path, path, []string{page}, wm, conf); err != nil {
			return fmt.Errorf("stamp chapter %d: %w", ct.id, err)
		}
	}
	return nil
}

// writeBlankPage renders a single white US-Letter-proportioned PNG used as
// the base page for every chapter before its text is stamped on.
func writeBlankPage(path string) error {
	const w, h = 850, 1100
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, white)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
