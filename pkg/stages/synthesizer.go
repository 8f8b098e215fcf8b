package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

// Synthesizer turns a step list into an automation script. The script is
// stored as produced, fences included; the runner strips them.
type Synthesizer struct {
	completer Completer
	logger    *slog.Logger
}

var _ pipeline.Stage = (*Synthesizer)(nil)

func NewSynthesizer(c Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{completer: c, logger: logger.With("stage", "synthesizer")}
}

func (s *Synthesizer) Name() string            { return "synthesizer" }
func (s *Synthesizer) Inputs() []pipeline.Slot { return []pipeline.Slot{pipeline.SlotSteps} }
func (s *Synthesizer) Output() pipeline.Slot   { return pipeline.SlotCode }

func (s *Synthesizer) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	steps, err := in.Text(pipeline.SlotSteps)
	if err != nil {
		return pipeline.Artifact{}, err
	}

	code, err := s.completer.Complete(ctx, SynthesisPrompt(steps))
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Artifact{}, ctx.Err()
		}
		return pipeline.Artifact{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	if strings.TrimSpace(code) == "" || sandbox.Normalize(code) == "" {
		return pipeline.Artifact{}, fmt.Errorf("%w: generator returned no code", ErrSynthesisFailed)
	}

	s.logger.Debug("Synthesized script", "bytes", len(code))
	return pipeline.Artifact{Kind: pipeline.KindScript, Text: code}, nil
}
