package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// ErrStuckPipeline is matched by every StuckPipelineError via errors.Is.
var ErrStuckPipeline = errors.New("workflow engine: pipeline is stuck")

// StuckPipelineError reports a run that can no longer progress: nothing is
// ready, nothing is running, and the graph is not complete.
type StuckPipelineError struct {
	Counts graph.StatusCounts
	Failed []string
	// Blocked maps each pending node to its unsatisfied dependencies.
	Blocked map[string][]string
}

func (e *StuckPipelineError) Error() string {
	msg := fmt.Sprintf("%s (%s)", ErrStuckPipeline.Error(), e.Counts)
	if len(e.Failed) > 0 {
		msg += "; failed: " + strings.Join(e.Failed, ", ")
	}
	return msg
}

// Is lets errors.Is(err, ErrStuckPipeline) match.
func (e *StuckPipelineError) Is(target error) bool {
	return target == ErrStuckPipeline
}

// PersistError reports that a snapshot could not be written after every
// configured attempt. The run stops because resumability can no longer be
// guaranteed.
type PersistError struct {
	Attempts int
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("workflow engine: persist snapshot failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
