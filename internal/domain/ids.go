package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID mints a run_<yyyymmdd_hhmmss>_<8 hex> identifier, matching the
// original system's run id format exactly.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// FormatRevisionID builds a revision id of the form
// <run_id>_ch<chapter:03d>_r<round>.
func FormatRevisionID(runID string, chapter, round int) string {
	return fmt.Sprintf("%s_ch%03d_r%d", runID, chapter, round)
}

// ThreadID is the checkpoint thread identifier for a project: the project
// name itself, so every run of the same project shares checkpoint history.
func ThreadID(projectName string) string {
	return projectName
}

// NewInitialState builds a fresh State for a new run, matching
// create_initial_state from the original system.
func NewInitialState(now time.Time, req Requirements) *State {
	runID := NewRunID(now)
	return &State{
		RunID:          runID,
		ThreadID:       ThreadID(req.ProjectName),
		RevisionID:     FormatRevisionID(runID, 1, 0),
		Requirements:   req,
		CurrentChapter: 1,
		RevisionRound:  0,
	}
}
