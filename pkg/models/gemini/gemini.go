package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mariozechner/guiding-agent/pkg/logging"
	"github.com/mariozechner/guiding-agent/pkg/models"
)

// LevelTrace is the level Gemini HTTP dumps are logged at.
const LevelTrace = logging.LevelTrace

// GeminiModel implements models.ModelProvider using the Google Gemini API.
type GeminiModel struct {
	client *genai.Client
}

var _ models.ModelProvider = (*GeminiModel)(nil)

// New creates a new GeminiModel.
func New(ctx context.Context, apiKey string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	httpClient := &http.Client{
		Transport: &loggingTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiModel{client: client}, nil
}

type loggingTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A custom http.Client bypasses the library's API key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Request", "url", req.URL.Redacted(), "dump", redact(string(reqDump), t.apiKey))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Streaming bodies are not dumped so the SSE stream is left unread.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Response", "isStream", isStream, "dump", string(respDump))
	}

	return resp, nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}

// Close releases resources.
func (m *GeminiModel) Close() {
	m.client.Close()
}

// List returns available models.
func (m *GeminiModel) List(ctx context.Context) ([]string, error) {
	iter := m.client.ListModels(ctx)
	var names []string
	for {
		model, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		slog.Debug("Found Gemini model", "name", model.Name)
		names = append(names, model.Name)
	}
	return names, nil
}

// Stream sends the request to Gemini and returns a stream of the reply.
func (m *GeminiModel) Stream(ctx context.Context, req models.Request) (models.ModelStream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: no messages to send")
	}
	slog.Debug("Gemini.Stream: Request Parameters", "model", req.Model, "messageCount", len(req.Messages), "tools", len(req.Tools))

	gm := m.client.GenerativeModel(req.Model)
	if req.Instructions != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instructions)}}
	}
	if len(req.Tools) > 0 {
		gm.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(req.Tools)}}
	}

	history := toContents(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("gemini: messages have no content")
	}

	cs := gm.StartChat()
	cs.History = history[:len(history)-1]
	last := history[len(history)-1]

	iter := cs.SendMessageStream(ctx, last.Parts...)
	return &geminiStream{iter: iter}, nil
}

func functionDeclarations(specs []models.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toSchema(s.Parameters),
		})
	}
	return decls
}

// toSchema converts a JSON schema object to the genai representation. Only
// the subset used by tool parameters is supported.
func toSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if enum, ok := m["enum"].([]string); ok {
		s.Enum = enum
	}
	return s
}

// toContents converts agent messages to genai history. Tool results go back
// with the "user" role.
func toContents(messages []models.AgentMessage) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		var parts []genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case models.ContentTypeText:
				if c.Text != "" {
					parts = append(parts, genai.Text(c.Text))
				}
			case models.ContentTypeToolUse:
				parts = append(parts, genai.FunctionCall{
					Name: c.ToolUse.Name,
					Args: c.ToolUse.Input,
				})
			case models.ContentTypeToolResult:
				key := "result"
				if c.ToolResult.IsError {
					key = "error"
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     c.ToolResult.Name,
					Response: map[string]any{key: c.ToolResult.Content},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (s *geminiStream) FullMessage() (models.AgentMessage, error) {
	var fullText strings.Builder
	var toolCalls []models.Content

	slog.Debug("Aggregating Gemini response stream")

	for {
		resp, err := s.iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return models.AgentMessage{}, err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					fullText.WriteString(string(p))
				case genai.FunctionCall:
					toolCalls = append(toolCalls, models.Content{
						Type: models.ContentTypeToolUse,
						ToolUse: &models.ToolUseContent{
							ID:    "call-" + uuid.New().String(),
							Name:  p.Name,
							Input: p.Args,
						},
					})
				}
			}
		}
	}

	content := []models.Content{}
	if fullText.Len() > 0 {
		content = append(content, models.Content{Type: models.ContentTypeText, Text: fullText.String()})
	}
	content = append(content, toolCalls...)

	return models.AgentMessage{Role: models.RoleAssistant, Content: content}, nil
}

func (s *geminiStream) Close() error {
	return nil
}
