package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/errs"
	"github.com/jamesenh/novelgen/internal/orchestrator"
)

var (
	rollbackStep    string
	rollbackChapter int
	rollbackScene   int
	rollbackForce   bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <project>",
	Short: "Destructively roll a project back to a step, chapter, or scene",
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
		if rollbackStep == "" && rollbackChapter <= 0 {
			return errs.NewUserError("rollback requires either --step or --chapter")
		}
		if !rollbackForce && !confirmDestructive(project) {
			fmt.Println("aborted")
			return nil
		}

		o := orchestrator.New(orchestrator.Config{ProjectRoot: root})
		ctx := cmd.Context()

		var result *orchestrator.RollbackResult
		switch {
		case rollbackStep != "":
			result, err = o.RollbackToStep(ctx, project, rollbackStep)
		case rollbackScene > 0:
			result, err = o.RollbackToScene(ctx, project, rollbackChapter, rollbackScene)
		default:
			result, err = o.RollbackToChapter(ctx, project, rollbackChapter)
		}
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

// confirmDestructive prompts the operator for an explicit "y" before a
// rollback without --force proceeds.
func confirmDestructive(project string) bool {
	fmt.Printf("this will permanently delete generated artifacts for project %q. Continue? [y/N] ", project)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackStep, "step", "", "bootstrap step to roll back to: world, theme_conflict, characters, outline")
	rollbackCmd.Flags().IntVar(&rollbackChapter, "chapter", 0, "chapter number to roll back to")
	rollbackCmd.Flags().IntVar(&rollbackScene, "scene", 0, "scene index within --chapter to roll back to")
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(rollbackCmd)
}
