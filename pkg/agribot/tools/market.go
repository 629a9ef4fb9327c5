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

	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// MarketPriceTool fetches real-time mandi rates for a crop in a location
// via the SerpAPI Google results API.
type MarketPriceTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewMarketPriceTool creates the market price tool.
func NewMarketPriceTool(apiKey string) *MarketPriceTool {
	return &MarketPriceTool{
		apiKey:  apiKey,
		baseURL: "https://serpapi.com",
		client:  newHTTPClient(15 * time.Second),
	}
}

// Definition returns the tool schema.
func (t *MarketPriceTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "market_price",
			Description: "Gets accurate, real-time market prices (mandi rates) for a specific crop in a given location.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"crop_name": {"type": "string", "description": "The name of the agricultural crop, e.g. 'potato', 'tomato'."},
					"location": {"type": "string", "description": "The city or mandi name for the price query, e.g. 'Lucknow'."}
				},
				"required": ["crop_name", "location"]
			}`),
		},
	}
}

// serpResponse is the subset of the SerpAPI response we read.
type serpResponse struct {
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answer_box"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
	Error string `json:"error"`
}

// Invoke queries SerpAPI for today's mandi rate.
func (t *MarketPriceTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	crop := stringArg(args, "crop_name")
	location := stringArg(args, "location")
	query := fmt.Sprintf("today's %s price in %s mandi", crop, location)

	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", t.apiKey)
	params.Set("engine", "google")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching market price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed serpResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("search API error: %s", parsed.Error)
	}

	if parsed.AnswerBox.Answer != "" {
		return parsed.AnswerBox.Answer, nil
	}
	if parsed.AnswerBox.Snippet != "" {
		return parsed.AnswerBox.Snippet, nil
	}

	var b strings.Builder
	for i, res := range parsed.OrganicResults {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", res.Title, res.Snippet)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no price results found for %s in %s", crop, location)
	}
	return b.String(), nil
}
