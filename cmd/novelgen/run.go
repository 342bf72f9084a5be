package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/graph"
	"github.com/jamesenh/novelgen/internal/orchestrator"
)

var (
	runChapters int
	runPrompt   string
	runStopAt   string
	runVerbose  bool
	runAuthor   string
)

var stopAtNodes = map[string]string{
	"build_context_pack": graph.NodeBuildContextPack,
	"plan_chapter":       graph.NodePlanChapter,
	"write_chapter":      graph.NodeWriteChapter,
	"audit_chapter":      graph.NodeAuditChapter,
	"apply_patch":        graph.NodeApplyPatch,
	"store_artifacts":    graph.NodeStoreArtifacts,
	"advance_chapter":    graph.NodeAdvanceChapter,
}

var runCmd = &cobra.Command{
	Use:   "run <project>",
	Short: "Run a project from the start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrResume(cmd, args[0], false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <project>",
	Short: "Resume a project from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrResume(cmd, args[0], true)
	},
}

func runOrResume(cmd *cobra.Command, project string, resume bool) error {
	root, err := projectRoot(project)
	if err != nil {
		return err
	}

	stopAt := ""
	if runStopAt != "" {
		node, ok := stopAtNodes[runStopAt]
		if !ok {
			return fmt.Errorf("unknown --stop-at step %q", runStopAt)
		}
		stopAt = node
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger()
	o := orchestrator.New(orchestrator.Config{
		ProjectRoot:  root,
		Generator:    "novelgen",
		Providers:    resolveProviders(cfg),
		Shutdown:     globalShutdown,
		AuditWorkers: 4,
		StopAtNode:   stopAt,
	})

	req := domain.Requirements{
		ProjectName:       project,
		Author:            runAuthor,
		NumChapters:       runChapters,
		Prompt:            runPrompt,
		MaxRevisionRounds: cfg.MaxRevisionRounds,
		QABlockerMax:      cfg.QABlockerMax,
		QAMajorMax:        cfg.QAMajorMax,
	}
	if req.MaxRevisionRounds <= 0 {
		req.MaxRevisionRounds = 3
	}
	if req.QAMajorMax <= 0 {
		req.QAMajorMax = 3
	}

	ctx := cmd.Context()
	var out *orchestrator.Outcome
	if resume {
		out, err = o.Resume(ctx, req, time.Now().UTC())
	} else {
		out, err = o.Run(ctx, req, time.Now().UTC())
	}
	if err != nil {
		return err
	}

	if runVerbose || !out.Complete {
		if err := printResult(map[string]any{
			"complete":            out.Complete,
			"stopped":             out.Stopped,
			"human_review_needed": out.HumanReviewNeeded,
			"current_chapter":     out.State.CurrentChapter,
		}); err != nil {
			logger.Warn("failed to print result", "error", err)
		}
	}

	switch {
	case out.Stopped:
		fmt.Printf("stopped at chapter %d\n", out.State.CurrentChapter)
	case out.HumanReviewNeeded:
		fmt.Printf("chapter %d needs human review\n", out.State.CurrentChapter)
		exitCode = 2
	case out.Complete:
		fmt.Printf("completed %d chapter(s)\n", out.State.Requirements.NumChapters)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringVar(&runStopAt, "stop-at", "", "halt after the named graph node completes (debugging aid)")
		c.Flags().BoolVar(&runVerbose, "verbose", false, "print the full outcome even on a clean completion")
	}
	runCmd.Flags().IntVar(&runChapters, "chapters", 1, "number of chapters to generate")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt driving a fresh project's bible bootstrap")
	runCmd.Flags().StringVar(&runAuthor, "author", "", "project author")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}
