package runner

import "fmt"

// PipelineStage identifies one of the four pipeline steps applied to an item.
type PipelineStage string

const (
	StageSynthesis     PipelineStage = "synthesis"
	StageTranscription PipelineStage = "transcription"
	StageAgent         PipelineStage = "agent"
	StageScoring       PipelineStage = "scoring"
)

// StageError marks which pipeline stage failed for an item. Stage errors are
// recovered at item granularity: the item goes terminal with the stage's
// message and the run moves on to the next item.
type StageError struct {
	Stage PipelineStage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
