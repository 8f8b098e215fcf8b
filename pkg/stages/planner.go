package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
)

// Planner turns the task description into a numbered step list.
type Planner struct {
	completer Completer
	logger    *slog.Logger
}

var _ pipeline.Stage = (*Planner)(nil)

func NewPlanner(c Completer, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{completer: c, logger: logger.With("stage", "planner")}
}

func (p *Planner) Name() string            { return "planner" }
func (p *Planner) Inputs() []pipeline.Slot { return []pipeline.Slot{pipeline.SlotTask} }
func (p *Planner) Output() pipeline.Slot   { return pipeline.SlotSteps }

func (p *Planner) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	task, err := in.Text(pipeline.SlotTask)
	if err != nil {
		return pipeline.Artifact{}, err
	}

	steps, err := p.completer.Complete(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Artifact{}, ctx.Err()
		}
		return pipeline.Artifact{}, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}

	steps = strings.TrimSpace(steps)
	if steps == "" {
		return pipeline.Artifact{}, fmt.Errorf("%w: empty step list", ErrPlanningFailed)
	}

	p.logger.Debug("Planned steps", "steps", steps)
	return pipeline.Artifact{Kind: pipeline.KindStepList, Text: steps}, nil
}
