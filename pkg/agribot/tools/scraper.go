package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// maxScrapeChars caps the extracted article text fed back to the reasoning
// steps.
const maxScrapeChars = 4000

// ScraperTool extracts the readable text content of a webpage.
type ScraperTool struct {
	client *http.Client
}

// NewScraperTool creates the web scraper tool.
func NewScraperTool() *ScraperTool {
	return &ScraperTool{client: newHTTPClient(10 * time.Second)}
}

// Definition returns the tool schema.
func (t *ScraperTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "web_scraper",
			Description: "Scrapes the readable text content of a given URL.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "The URL of the webpage to scrape."}
				},
				"required": ["url"]
			}`),
		},
	}
}

// Invoke downloads the page and extracts its main text via readability.
func (t *ScraperTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	rawURL := stringArg(args, "url")

	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL.Scheme == "" || pageURL.Host == "" {
		return "", fmt.Errorf("invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scraping %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scraping %s: status %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), pageURL)
	if err != nil {
		return "", fmt.Errorf("extracting content from %s: %w", rawURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", rawURL)
	}
	if len(text) > maxScrapeChars {
		text = text[:maxScrapeChars]
	}
	return text, nil
}
