// Package stages holds the planner, synthesizer and runner stages of the
// guiding pipeline.
package stages

import (
	"context"
	"errors"
)

var (
	// ErrPlanningFailed is returned when no usable step list could be produced.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrSynthesisFailed is returned when no runnable script could be produced.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// Completer turns a prompt into text. It is typically an LLM agent.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
