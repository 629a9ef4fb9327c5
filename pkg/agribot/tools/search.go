package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// SearchTool performs general web search via the Tavily API.
type SearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSearchTool creates the web search tool.
func NewSearchTool(apiKey string) *SearchTool {
	return &SearchTool{
		apiKey:  apiKey,
		baseURL: "https://api.tavily.com",
		client:  newHTTPClient(15 * time.Second),
	}
}

// Definition returns the tool schema.
func (t *SearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "web_search",
			Description: "Searches the web for current information on any topic (news, government schemes, farming techniques).",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The search query."}
				},
				"required": ["query"]
			}`),
		},
	}
}

// tavilyResponse is the subset of the Tavily response we read.
type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Invoke runs a Tavily search, returning up to 5 result summaries.
func (t *SearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")

	payload, err := json.Marshal(map[string]any{
		"api_key":     t.apiKey,
		"query":       query,
		"max_results": 5,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("searching for %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	var b strings.Builder
	if parsed.Answer != "" {
		b.WriteString(parsed.Answer)
		b.WriteString("\n\n")
	}
	for _, res := range parsed.Results {
		fmt.Fprintf(&b, "%s: %s\n", res.Title, res.Content)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no search results for %q", query)
	}
	return b.String(), nil
}
