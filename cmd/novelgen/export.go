package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/export"
)

var (
	exportChapter int
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Render a manuscript (read-only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := args[0]
		root, err := projectRoot(project)
		if err != nil {
			return err
		}
		store := artifact.New(root)
		if !store.Exists() {
			return fmt.Errorf("project %q not found at %s", project, root)
		}

		memory, err := store.ReadChapterMemory()
		if err != nil {
			return err
		}
		chapters := make([]int, 0, len(memory.Chapters))
		if exportChapter > 0 {
			chapters = append(chapters, exportChapter)
		} else {
			for _, c := range memory.Chapters {
				chapters = append(chapters, c.ChapterID)
			}
		}
		if len(chapters) == 0 {
			return fmt.Errorf("no chapters have been generated yet for %q", project)
		}

		exporter := &export.Exporter{Store: store}
		out := exportOutput
		if out == "" {
			out = filepath.Join(root, fmt.Sprintf("%s.txt", project))
		}

		if strings.HasSuffix(strings.ToLower(out), ".pdf") {
			if err := exporter.WritePDFFile(chapters, out); err != nil {
				return err
			}
		} else {
			if err := exporter.WriteTextFile(chapters, out); err != nil {
				return err
			}
		}

		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("export did not produce %s: %w", out, err)
		}
		fmt.Printf("exported %d chapter(s) to %s\n", len(chapters), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportChapter, "chapter", 0, "export a single chapter (default: all generated chapters)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output path (default: <project>.txt in the project directory; .pdf renders a PDF)")
	rootCmd.AddCommand(exportCmd)
}
