package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mariozechner/guiding-agent/pkg/search"
)

// WebSearchTool lets the planning agent look up how a task is done.
type WebSearchTool struct {
	searcher search.Searcher
}

func NewWebSearchTool(s search.Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: s}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, links and snippets of the top results. Arguments: query (string)."
}

func (t *WebSearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	query, _ := input["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("argument 'query' is required and must be a non-empty string")
	}

	slog.Info("Searching the web", "query", query)
	results, err := t.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return search.Format(results), nil
}
