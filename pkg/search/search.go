// Package search is the retrieval collaborator used while planning.
package search

import (
	"context"
	"fmt"
	"strings"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher answers a free-text query. Results are best-effort.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Format renders results as a numbered plain-text list.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
