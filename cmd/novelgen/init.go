package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/artifact"
)

var (
	initChapters int
	initAuthor   string
)

var initCmd = &cobra.Command{
	Use:   "init <project>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := args[0]
		root, err := projectRoot(project)
		if err != nil {
			return err
		}

		store := artifact.New(root)
		if store.Exists() {
			return fmt.Errorf("project %q already exists at %s", project, root)
		}
		if err := store.InitProject(project, initAuthor, time.Now().UTC()); err != nil {
			return err
		}

		fmt.Printf("initialized project %q at %s\n", project, root)
		return nil
	},
}

func init() {
	initCmd.Flags().IntVar(&initChapters, "chapters", 1, "number of chapters (accepted but not recorded by init; run takes its own --chapters)")
	initCmd.Flags().StringVar(&initAuthor, "author", "", "project author")
	rootCmd.AddCommand(initCmd)
}
