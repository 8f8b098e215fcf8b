package store

import (
	"log/slog"
	"sync"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

// Recorder is a pipeline.Observer that journals every event of every run it
// sees. Journal failures are logged and never affect the run.
type Recorder struct {
	manager Manager
	logger  *slog.Logger

	mu   sync.Mutex
	runs map[string]*recording
}

type recording struct {
	run    Run
	result *sandbox.Result
}

var _ pipeline.Observer = (*Recorder)(nil)

func NewRecorder(m Manager, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{manager: m, logger: logger, runs: make(map[string]*recording)}
}

func (r *Recorder) Observe(ev pipeline.Event) {
	logger := r.logger.With("runID", ev.RunID)

	r.mu.Lock()
	rec, ok := r.runs[ev.RunID]
	if !ok && ev.Type == pipeline.EventRunStarted {
		run, err := r.manager.NewRun(ev.RunID, ev.Task)
		if err != nil {
			r.mu.Unlock()
			logger.Error("Failed to create run journal", "error", err)
			return
		}
		rec = &recording{run: run}
		r.runs[ev.RunID] = rec
		ok = true
	}
	if ev.Type == pipeline.EventRunFinished {
		delete(r.runs, ev.RunID)
	}
	r.mu.Unlock()

	if !ok {
		logger.Debug("Dropping event for unjournaled run", "type", ev.Type)
		return
	}

	if _, err := rec.run.Append(ev); err != nil {
		logger.Error("Failed to append journal entry", "type", ev.Type, "error", err)
	}
	if ev.Artifact != nil && ev.Artifact.Result != nil {
		rec.result = ev.Artifact.Result
	}

	if ev.Type != pipeline.EventRunFinished {
		return
	}
	status := RunStatusSucceeded
	switch {
	case ev.Error != "":
		status = RunStatusAborted
	case rec.result != nil && !rec.result.Succeeded():
		status = RunStatusFailed
	}
	if err := r.manager.SetRunStatus(ev.RunID, status, ev.Error); err != nil {
		logger.Error("Failed to set run status", "error", err)
	}
	if err := rec.run.Close(); err != nil {
		logger.Warn("Failed to close run journal", "error", err)
	}
}
