package models

import (
	"context"
	"strings"
)

// MessageRole defines the role of a message in the conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool" // For tool results
)

// ContentType defines the kind of message content.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// Content represents a single component of a message. Only the field matching
// Type is set.
type Content struct {
	Type       ContentType        `json:"type"`
	Text       string             `json:"text,omitempty"`
	ToolUse    *ToolUseContent    `json:"tool_use,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
}

// ToolUseContent represents a call to a tool.
type ToolUseContent struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultContent represents the outcome of a tool call.
type ToolResultContent struct {
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name"`
	IsError   bool   `json:"is_error"`
	Content   string `json:"content"`
}

// AgentMessage represents a message in the agent's context.
type AgentMessage struct {
	Role    MessageRole `json:"role"`
	Content []Content   `json:"content"`
}

// TextMessage builds a single-part text message.
func TextMessage(role MessageRole, text string) AgentMessage {
	return AgentMessage{Role: role, Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// Text concatenates the text parts of the message.
func (m AgentMessage) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool calls requested by the message.
func (m AgentMessage) ToolUses() []ToolUseContent {
	var calls []ToolUseContent
	for _, c := range m.Content {
		if c.Type == ContentTypeToolUse && c.ToolUse != nil {
			calls = append(calls, *c.ToolUse)
		}
	}
	return calls
}

// ToolSpec declares a tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one model invocation.
type Request struct {
	Model        string
	Instructions string
	Tools        []ToolSpec
	Messages     []AgentMessage
}

// ModelProvider represents a service that provides LLMs (e.g. Gemini).
type ModelProvider interface {
	// List returns the names of available models.
	List(ctx context.Context) ([]string, error)

	// Stream sends a request to the LLM and returns a stream of the reply.
	Stream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the full message is available.
	FullMessage() (AgentMessage, error)
	Close() error
}
