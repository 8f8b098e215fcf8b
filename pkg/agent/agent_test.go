package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariozechner/guiding-agent/pkg/agent"
	"github.com/mariozechner/guiding-agent/pkg/models"
	"github.com/mariozechner/guiding-agent/pkg/search"
	"github.com/mariozechner/guiding-agent/pkg/tools"
)

// MockModel replays scripted replies and records every request.
type MockModel struct {
	Replies  []models.AgentMessage
	Err      error
	Requests []models.Request
}

func (m *MockModel) List(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

func (m *MockModel) Stream(ctx context.Context, req models.Request) (models.ModelStream, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	i := len(m.Requests) - 1
	if i >= len(m.Replies) {
		i = len(m.Replies) - 1
	}
	return &MockStream{Msg: m.Replies[i]}, nil
}

type MockStream struct {
	Msg models.AgentMessage
}

func (s *MockStream) FullMessage() (models.AgentMessage, error) { return s.Msg, nil }
func (s *MockStream) Close() error                              { return nil }

type fakeSearcher struct{}

func (fakeSearcher) Search(_ context.Context, q string) ([]search.Result, error) {
	if q == "fail" {
		return nil, errors.New("search down")
	}
	return []search.Result{{Title: "Result for " + q, URL: "https://example.com"}}, nil
}

func toolCall(id, query string) models.AgentMessage {
	return models.AgentMessage{Role: models.RoleAssistant, Content: []models.Content{{
		Type:    models.ContentTypeToolUse,
		ToolUse: &models.ToolUseContent{ID: id, Name: "web_search", Input: map[string]any{"query": query}},
	}}}
}

func TestComplete_NoTools(t *testing.T) {
	model := &MockModel{Replies: []models.AgentMessage{
		models.TextMessage(models.RoleAssistant, "1. Goto example.com"),
	}}
	a := agent.New(model, agent.Config{Name: "planner", Model: "mock-model", Instructions: "be brief"})

	out, err := a.Complete(context.Background(), "open example")
	require.NoError(t, err)
	assert.Equal(t, "1. Goto example.com", out)

	require.Len(t, model.Requests, 1)
	req := model.Requests[0]
	assert.Equal(t, "mock-model", req.Model)
	assert.Equal(t, "be brief", req.Instructions)
	assert.Empty(t, req.Tools)
	assert.Equal(t, "open example", req.Messages[0].Text())
}

func TestComplete_ToolLoop(t *testing.T) {
	model := &MockModel{Replies: []models.AgentMessage{
		toolCall("call-1", "github new repo"),
		models.TextMessage(models.RoleAssistant, "1. Goto github.com"),
	}}
	reg := tools.NewRegistry(tools.NewWebSearchTool(fakeSearcher{}))
	a := agent.New(model, agent.Config{Name: "planner", Model: "mock-model", Tools: reg})

	out, err := a.Complete(context.Background(), "create a repo")
	require.NoError(t, err)
	assert.Equal(t, "1. Goto github.com", out)

	require.Len(t, model.Requests, 2)
	require.Len(t, model.Requests[0].Tools, 1)
	assert.Equal(t, "web_search", model.Requests[0].Tools[0].Name)

	second := model.Requests[1].Messages
	require.Len(t, second, 3)
	toolMsg := second[2]
	assert.Equal(t, models.RoleTool, toolMsg.Role)
	res := toolMsg.Content[0].ToolResult
	require.NotNil(t, res)
	assert.Equal(t, "call-1", res.ToolUseID)
	assert.Equal(t, "web_search", res.Name)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "Result for github new repo")
}

func TestComplete_ToolErrorsGoBackToModel(t *testing.T) {
	model := &MockModel{Replies: []models.AgentMessage{
		toolCall("call-1", "fail"),
		models.TextMessage(models.RoleAssistant, "done"),
	}}
	reg := tools.NewRegistry(tools.NewWebSearchTool(fakeSearcher{}))
	a := agent.New(model, agent.Config{Tools: reg})

	out, err := a.Complete(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	res := model.Requests[1].Messages[2].Content[0].ToolResult
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: search down", res.Content)
}

func TestComplete_UnknownToolWithoutRegistry(t *testing.T) {
	model := &MockModel{Replies: []models.AgentMessage{
		toolCall("call-1", "x"),
		models.TextMessage(models.RoleAssistant, "ok"),
	}}
	a := agent.New(model, agent.Config{})

	_, err := a.Complete(context.Background(), "task")
	require.NoError(t, err)
	res := model.Requests[1].Messages[2].Content[0].ToolResult
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not found")
}

func TestComplete_MaxTurns(t *testing.T) {
	model := &MockModel{Replies: []models.AgentMessage{toolCall("call-1", "again")}}
	reg := tools.NewRegistry(tools.NewWebSearchTool(fakeSearcher{}))
	a := agent.New(model, agent.Config{Tools: reg, MaxTurns: 3})

	_, err := a.Complete(context.Background(), "task")
	assert.ErrorIs(t, err, agent.ErrMaxTurns)
	assert.Len(t, model.Requests, 3)
}

func TestComplete_ModelError(t *testing.T) {
	model := &MockModel{Err: errors.New("quota exceeded")}
	a := agent.New(model, agent.Config{})

	_, err := a.Complete(context.Background(), "task")
	assert.ErrorContains(t, err, "quota exceeded")
}
