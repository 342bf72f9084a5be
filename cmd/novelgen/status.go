package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/artifact"
)

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Print step completion, chapter table, and memory summary",
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
		reports, err := store.ReadConsistencyReports()
		if err != nil {
			return err
		}

		type chapterStatus struct {
			ChapterID    int  `json:"chapter_id" yaml:"chapter_id"`
			BlockerCount int  `json:"blocker_count" yaml:"blocker_count"`
			MajorCount   int  `json:"major_count" yaml:"major_count"`
			HumanReview  bool `json:"human_review" yaml:"human_review"`
		}
		chapters := make([]chapterStatus, 0, len(reports.Chapters))
		for _, r := range reports.Chapters {
			chapters = append(chapters, chapterStatus{
				ChapterID:    r.ChapterID,
				BlockerCount: r.BlockerCount,
				MajorCount:   r.MajorCount,
				HumanReview:  r.HumanReview,
			})
		}

		steps := make(map[string]bool, 4)
		for _, step := range []string{"world", "theme_conflict", "characters", "outline"} {
			_, statErr := os.Stat(filepath.Join(root, step+".json"))
			steps[step] = statErr == nil
		}

		return printResult(map[string]any{
			"project":           project,
			"steps":             steps,
			"chapters_complete": len(memory.Chapters),
			"chapters":          chapters,
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
