package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

// Runner executes the generated script in a sandbox. A script that fails is
// a normal outcome and is written to the result slot, not returned as error.
type Runner struct {
	executor sandbox.Executor
	logger   *slog.Logger
}

var _ pipeline.Stage = (*Runner)(nil)

func NewRunner(e sandbox.Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{executor: e, logger: logger.With("stage", "runner")}
}

func (r *Runner) Name() string            { return "runner" }
func (r *Runner) Inputs() []pipeline.Slot { return []pipeline.Slot{pipeline.SlotCode} }
func (r *Runner) Output() pipeline.Slot   { return pipeline.SlotResult }

func (r *Runner) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	code, err := in.Text(pipeline.SlotCode)
	if err != nil {
		return pipeline.Artifact{}, err
	}

	if sandbox.Normalize(code) == "" {
		return pipeline.Artifact{}, fmt.Errorf("%w: refusing to execute an empty script", ErrSynthesisFailed)
	}

	res := r.executor.Execute(ctx, code)
	if res.CleanupError != "" {
		r.logger.Warn("Sandbox file was not cleaned up", "path", res.ScriptPath, "error", res.CleanupError)
	}
	r.logger.Info("Script executed", "status", res.Status, "failure", res.Failure, "exitCode", res.ExitCode, "duration", res.Duration)

	return pipeline.Artifact{Kind: pipeline.KindResult, Text: res.Summary(), Result: &res}, nil
}
