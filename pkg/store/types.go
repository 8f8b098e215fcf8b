package store

import (
	"errors"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
)

// ErrRunNotFound is returned for run IDs the journal does not know.
var ErrRunNotFound = errors.New("run not found")

// HeaderType marks the first line of a run file.
const HeaderType = "run"

// Header is the first line of the file (metadata).
type Header struct {
	Type      string    `json:"type"` // Always "run"
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"timestamp"`
}

// Entry is one journaled pipeline event.
type Entry struct {
	ID    string         `json:"id"`
	Seq   int            `json:"seq"`
	Event pipeline.Event `json:"event"`
}

// RunInfo provides metadata about a run file.
type RunInfo struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
	EntryCount int       `json:"entry_count"`
}

const (
	// RunStatusRunning is set when the run file is created.
	RunStatusRunning = "running"
	// RunStatusSucceeded means the script ran and exited cleanly.
	RunStatusSucceeded = "succeeded"
	// RunStatusFailed means the script ran but the sandbox reported a failure.
	RunStatusFailed = "failed"
	// RunStatusAborted means a stage returned an error and the run stopped.
	RunStatusAborted = "aborted"
)

// OutcomeStatus maps the return values of pipeline.Pipeline.Run to a run status.
func OutcomeStatus(out *pipeline.Outcome, err error) string {
	switch {
	case err != nil:
		return RunStatusAborted
	case out != nil && out.Result != nil && !out.Result.Succeeded():
		return RunStatusFailed
	default:
		return RunStatusSucceeded
	}
}

// Terminal reports whether status is final.
func Terminal(status string) bool {
	return status == RunStatusSucceeded || status == RunStatusFailed || status == RunStatusAborted
}
