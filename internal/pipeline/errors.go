package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. A *StageError matches its kind with errors.Is.
var (
	ErrRetrieval        = errors.New("table retrieval failed")
	ErrGeneration       = errors.New("language model generation failed")
	ErrExecution        = errors.New("sql execution failed")
	ErrCacheUnavailable = errors.New("semantic cache unavailable")
)

// StageError is a terminal pipeline failure.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageError(stage Stage, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
