package pipeline

import "time"

// EventType identifies a run lifecycle event.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventStageStarted    EventType = "stage_started"
	EventArtifactWritten EventType = "artifact_written"
	EventStageFailed     EventType = "stage_failed"
	EventRunFinished     EventType = "run_finished"
)

// Event is emitted to observers as a run progresses.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Stage string    `json:"stage,omitempty"`
	// Task is set on EventRunStarted.
	Task string `json:"task,omitempty"`
	// Slot and Artifact are set on EventArtifactWritten.
	Slot     *Slot     `json:"slot,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	// Error is set on EventStageFailed, and on EventRunFinished for aborted runs.
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"timestamp"`
}

// Observer receives run events synchronously, in order. Implementations must
// not block for long since the run waits on them.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
