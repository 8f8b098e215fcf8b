package store

import "github.com/mariozechner/guiding-agent/pkg/pipeline"

// Manager defines the interface for managing run journals in a directory.
type Manager interface {
	// NewRun creates the journal file for a run and adds it to the index.
	NewRun(id, task string) (Run, error)

	// LoadRun opens an existing run journal by its ID.
	LoadRun(id string) (Run, error)

	// GetRun returns the index metadata of one run.
	GetRun(id string) (RunInfo, error)

	// ListRuns returns metadata for all runs, most recently modified first.
	ListRuns() ([]RunInfo, error)

	// Subscribe returns a channel that emits run IDs whenever a run changes.
	Subscribe() <-chan string

	// Unsubscribe stops delivery to a channel returned by Subscribe.
	Unsubscribe(ch <-chan string)

	// SetRunStatus updates the status of a run. errMsg may be empty.
	SetRunStatus(id, status, errMsg string) error
}

// Run is a single append-only run journal.
type Run interface {
	// ID returns the run's unique identifier.
	ID() string

	// Path returns the absolute path to the run's storage file.
	Path() string

	// Header returns the run metadata.
	Header() Header

	// Append persists an event as the next entry.
	Append(ev pipeline.Event) (Entry, error)

	// Entries returns the entries in append order.
	Entries() []Entry

	// Refresh reloads entries written by another handle to the same file.
	Refresh() error

	// Close releases the file handle.
	Close() error
}
