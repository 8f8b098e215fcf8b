// Package duckduckgo implements search.Searcher against the DuckDuckGo HTML
// endpoint, which needs no API key.
package duckduckgo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/mariozechner/guiding-agent/pkg/search"
)

const (
	DefaultEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultMaxResults = 5
	DefaultTimeout    = 10 * time.Second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

type Config struct {
	Endpoint   string
	MaxResults int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client queries DuckDuckGo and scrapes the result page.
type Client struct {
	http       *resty.Client
	endpoint   string
	maxResults int
	logger     *slog.Logger
}

var _ search.Searcher = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return &Client{
		http:       hc,
		endpoint:   cfg.Endpoint,
		maxResults: cfg.MaxResults,
		logger:     logger.With("searcher", "duckduckgo"),
	}
}

func (c *Client) Search(ctx context.Context, query string) ([]search.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"q": query}).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search request failed: HTTP %d", resp.StatusCode())
	}

	results, err := c.parse(resp.Body())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Search finished", "query", query, "results", len(results))
	return results, nil
}

func (c *Client) parse(body []byte) ([]search.Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var results []search.Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if title == "" || !ok {
			return true
		}
		results = append(results, search.Result{
			Title:   title,
			URL:     resolveLink(href),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " "),
		})
		return len(results) < c.maxResults
	})
	return results, nil
}

// resolveLink unwraps DuckDuckGo redirect links ("//duckduckgo.com/l/?uddg=...").
func resolveLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
