// Package agent runs an LLM with tools until it produces a final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mariozechner/guiding-agent/pkg/models"
	"github.com/mariozechner/guiding-agent/pkg/tools"
)

// DefaultMaxTurns bounds the model calls made for one prompt.
const DefaultMaxTurns = 8

// ErrMaxTurns is returned when the model keeps calling tools past MaxTurns.
var ErrMaxTurns = errors.New("agent exceeded maximum turns")

type Config struct {
	Name         string
	Model        string
	Instructions string
	// Tools may be nil for an agent without tools.
	Tools    *tools.Registry
	MaxTurns int
	Logger   *slog.Logger
}

// Agent drives the model/tool loop for a single prompt at a time. It holds no
// conversation state between calls, so one Agent can serve concurrent runs.
type Agent struct {
	provider models.ModelProvider
	cfg      Config
	logger   *slog.Logger
}

func New(provider models.ModelProvider, cfg Config) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{provider: provider, cfg: cfg, logger: logger.With("agent", cfg.Name)}
}

// Complete sends prompt as a user message and returns the model's final text.
func (a *Agent) Complete(ctx context.Context, prompt string) (string, error) {
	history, err := a.Run(ctx, []models.AgentMessage{models.TextMessage(models.RoleUser, prompt)})
	if err != nil {
		return "", err
	}
	return history[len(history)-1].Text(), nil
}

// Run continues the conversation until the model answers without tool calls.
// It returns the full history including the final assistant message.
func (a *Agent) Run(ctx context.Context, messages []models.AgentMessage) ([]models.AgentMessage, error) {
	history := append([]models.AgentMessage(nil), messages...)
	specs := a.toolSpecs()

	for turn := 0; turn < a.cfg.MaxTurns; turn++ {
		a.logger.Info("Calling model", "model", a.cfg.Model, "turn", turn)
		msg, err := a.callModel(ctx, specs, history)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)

		calls := msg.ToolUses()
		if len(calls) == 0 {
			return history, nil
		}
		history = append(history, a.executeTools(ctx, calls))
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxTurns, a.cfg.MaxTurns)
}

func (a *Agent) callModel(ctx context.Context, specs []models.ToolSpec, history []models.AgentMessage) (models.AgentMessage, error) {
	stream, err := a.provider.Stream(ctx, models.Request{
		Model:        a.cfg.Model,
		Instructions: a.cfg.Instructions,
		Tools:        specs,
		Messages:     history,
	})
	if err != nil {
		return models.AgentMessage{}, fmt.Errorf("model stream error: %w", err)
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		return models.AgentMessage{}, fmt.Errorf("model response error: %w", err)
	}
	return msg, nil
}

// executeTools runs every requested call and collects the results in one tool
// message. Tool failures are reported to the model, not returned.
func (a *Agent) executeTools(ctx context.Context, calls []models.ToolUseContent) models.AgentMessage {
	content := make([]models.Content, 0, len(calls))
	for _, call := range calls {
		result := &models.ToolResultContent{ToolUseID: call.ID, Name: call.Name}

		if a.cfg.Tools == nil {
			result.IsError = true
			result.Content = fmt.Sprintf("Error: Tool '%s' not found.", call.Name)
			a.logger.Warn("Unknown tool called", "tool", call.Name)
		} else if out, err := a.cfg.Tools.Run(ctx, call.Name, call.Input); err != nil {
			result.IsError = true
			result.Content = fmt.Sprintf("Error: %v", err)
			a.logger.Warn("Tool execution failed", "tool", call.Name, "error", err)
		} else {
			result.Content = out
			a.logger.Info("Tool execution successful", "tool", call.Name)
		}

		content = append(content, models.Content{Type: models.ContentTypeToolResult, ToolResult: result})
	}
	return models.AgentMessage{Role: models.RoleTool, Content: content}
}

func (a *Agent) toolSpecs() []models.ToolSpec {
	if a.cfg.Tools == nil {
		return nil
	}
	var specs []models.ToolSpec
	for _, t := range a.cfg.Tools.List() {
		specs = append(specs, models.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return specs
}
