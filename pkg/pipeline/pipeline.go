// Package pipeline runs a fixed, ordered list of stages against one shared
// Context per run.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

// Stage is one step of a pipeline. It reads its declared input slots and
// produces exactly one artifact for its output slot.
type Stage interface {
	Name() string
	Inputs() []Slot
	Output() Slot
	Run(ctx context.Context, in Inputs) (Artifact, error)
}

// Outcome is what a run leaves behind.
type Outcome struct {
	RunID     string   `json:"run_id"`
	Task      string   `json:"task"`
	Artifacts []Record `json:"artifacts"`
	// Final is the last stage's artifact; nil when the run aborted.
	Final *Artifact `json:"final,omitempty"`
	// Result is the sandbox result carried by Final, if any.
	Result *sandbox.Result `json:"result,omitempty"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver adds an observer notified of every run event.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithIDFunc overrides run ID generation.
func WithIDFunc(f func() string) Option {
	return func(p *Pipeline) { p.newID = f }
}

// Pipeline is a validated, reusable stage composition. It is safe to call Run
// from multiple goroutines; every run gets its own Context.
type Pipeline struct {
	stages    []Stage
	slots     []Slot
	observers []Observer
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// New validates the composition and returns a Pipeline. Every input slot must
// be the task slot or the output of an earlier stage, and no slot may have
// more than one writer.
func New(stages []Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, invalidf("no stages")
	}

	written := map[string]Slot{SlotTask.Name: SlotTask}
	slots := []Slot{SlotTask}
	names := make(map[string]bool, len(stages))

	for i, st := range stages {
		if st == nil {
			return nil, invalidf("stage %d is nil", i)
		}
		name := st.Name()
		if name == "" {
			return nil, invalidf("stage %d has no name", i)
		}
		if names[name] {
			return nil, invalidf("duplicate stage name %q", name)
		}
		names[name] = true

		for _, in := range st.Inputs() {
			have, ok := written[in.Name]
			if !ok {
				return nil, invalidf("stage %q reads slot %q before any stage writes it", name, in.Name)
			}
			if have.Kind != in.Kind {
				return nil, invalidf("stage %q reads slot %q as %s, but it holds %s", name, in.Name, in.Kind, have.Kind)
			}
		}

		out := st.Output()
		if out.Name == "" {
			return nil, invalidf("stage %q has no output slot", name)
		}
		if _, ok := written[out.Name]; ok {
			return nil, invalidf("stage %q writes slot %q which already has a writer", name, out.Name)
		}
		written[out.Name] = out
		slots = append(slots, out)
	}

	p := &Pipeline{
		stages: stages,
		slots:  slots,
		logger: slog.Default(),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type runIDKey struct{}

// ContextWithRunID makes Run use id instead of generating one, so a caller can
// hand out the ID before the run starts.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the ID set by ContextWithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name()
	}
	return names
}

// Run executes every stage once, in order. A stage error aborts the run and
// is returned as a *StageError; the partial Outcome is returned alongside it.
// A failed script execution is not an error: it is reported in Outcome.Result.
func (p *Pipeline) Run(ctx context.Context, task string) (*Outcome, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		runID = p.newID()
	}
	logger := p.logger.With("runID", runID)
	c := NewContext(p.slots...)
	out := &Outcome{RunID: runID, Task: task}

	p.emit(Event{Type: EventRunStarted, RunID: runID, Task: task})
	logger.Info("Run started", "stages", len(p.stages))

	taskArtifact := Artifact{Kind: KindRawText, Text: task}
	if err := c.Set(SlotTask.Name, taskArtifact); err != nil {
		return nil, err
	}
	p.emitArtifact(runID, "", SlotTask, taskArtifact)

	var final Artifact
	for _, st := range p.stages {
		name := st.Name()
		if err := ctx.Err(); err != nil {
			return p.abort(out, c, logger, name, err)
		}

		p.emit(Event{Type: EventStageStarted, RunID: runID, Stage: name})
		logger.Info("Stage started", "stage", name)

		a, err := st.Run(ctx, NewInputs(c, st.Inputs()...))
		if err != nil {
			return p.abort(out, c, logger, name, err)
		}
		if err := c.Set(st.Output().Name, a); err != nil {
			return p.abort(out, c, logger, name, err)
		}
		p.emitArtifact(runID, name, st.Output(), a)
		logger.Debug("Stage finished", "stage", name, "slot", st.Output().Name)
		final = a
	}

	out.Artifacts = c.Snapshot()
	out.Final = &final
	out.Result = final.Result

	p.emit(Event{Type: EventRunFinished, RunID: runID})
	if out.Result != nil {
		logger.Info("Run finished", "status", out.Result.Status, "failure", out.Result.Failure)
	} else {
		logger.Info("Run finished")
	}
	return out, nil
}

func (p *Pipeline) abort(out *Outcome, c *Context, logger *slog.Logger, stage string, err error) (*Outcome, error) {
	serr := &StageError{RunID: out.RunID, Stage: stage, Err: err}
	logger.Error("Stage failed", "stage", stage, "error", err)

	p.emit(Event{Type: EventStageFailed, RunID: out.RunID, Stage: stage, Error: err.Error()})
	p.emit(Event{Type: EventRunFinished, RunID: out.RunID, Error: serr.Error()})

	out.Artifacts = c.Snapshot()
	return out, serr
}

func (p *Pipeline) emitArtifact(runID, stage string, slot Slot, a Artifact) {
	p.emit(Event{Type: EventArtifactWritten, RunID: runID, Stage: stage, Slot: &slot, Artifact: &a})
}

func (p *Pipeline) emit(e Event) {
	e.Time = p.now()
	for _, o := range p.observers {
		o.Observe(e)
	}
}
