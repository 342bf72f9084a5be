package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/orchestrator"
)

var stateCmd = &cobra.Command{
	Use:   "state <project>",
	Short: "Print a detailed state dump for rollback planning",
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

		o := orchestrator.New(orchestrator.Config{ProjectRoot: root})
		state, err := o.State(cmd.Context(), project)
		if err != nil {
			return err
		}
		if state == nil {
			return printResult(map[string]any{"project": project, "checkpoint": "none"})
		}
		return printResult(state)
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}
