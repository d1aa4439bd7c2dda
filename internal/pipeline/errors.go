package pipeline

import "fmt"

// Stage is a step of the run state machine:
// created -> detecting -> extracting -> persisting_artifacts -> complete.
// Any stage before complete can move to aborted.
type Stage string

const (
	StageCreated             Stage = "created"
	StageDetecting           Stage = "detecting"
	StageExtracting          Stage = "extracting"
	StagePersistingArtifacts Stage = "persisting_artifacts"
	StageComplete            Stage = "complete"
	StageAborted             Stage = "aborted"
)

// RunError is a failure tagged with the stage it happened in. RunID is empty
// when the header was never created.
type RunError struct {
	Stage Stage
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("run failed while %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("run %s failed while %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Cause returns the message of the underlying failure.
func (e *RunError) Cause() string {
	if e.Err == nil {
		return string(e.Stage)
	}
	return e.Err.Error()
}
