package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTask          = errors.New("task description is empty")
	ErrInvalidComposition = errors.New("invalid pipeline composition")
)

// StageError reports the stage that aborted a run.
type StageError struct {
	RunID string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("run %s: stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidComposition, fmt.Sprintf(format, args...))
}
