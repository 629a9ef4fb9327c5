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

// DisasterAlertTool fetches natural disaster alerts (floods, cyclones, etc.)
// for a location from the NDMA public CAP feed.
type DisasterAlertTool struct {
	baseURL string
	client  *http.Client
}

// NewDisasterAlertTool creates the disaster alert tool. The NDMA feed is
// public, so no API key is required.
func NewDisasterAlertTool() *DisasterAlertTool {
	return &DisasterAlertTool{
		baseURL: "https://sachet.ndma.gov.in",
		client:  newHTTPClient(15 * time.Second),
	}
}

// Definition returns the tool schema.
func (t *DisasterAlertTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "disaster_alerts",
			Description: "Fetches natural disaster alerts (floods, cyclones, etc.) for a specific location from NDMA.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"location": {"type": "string", "description": "The location for which to fetch disaster alerts, e.g. 'Prayagraj, Uttar Pradesh'."}
				},
				"required": ["location"]
			}`),
		},
	}
}

// capAlert is one alert entry from the NDMA feed.
type capAlert struct {
	Event    string `json:"event"`
	Severity string `json:"severity"`
	Headline string `json:"headline"`
}

// Invoke fetches active alerts within a 50 km radius of the location.
func (t *DisasterAlertTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	location := stringArg(args, "location")

	form := url.Values{}
	form.Set("address", location)
	form.Set("radius", "50")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/cap_public_website/FetchAddressWiseAlerts",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching disaster alerts for %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("alert feed returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var alerts []capAlert
	if err := json.Unmarshal(raw, &alerts); err != nil {
		return "", fmt.Errorf("parsing alert feed: %w", err)
	}

	if len(alerts) == 0 {
		return fmt.Sprintf("No active disaster alerts found for %s.", location), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DISASTER ALERTS FOR %s:\n\n", strings.ToUpper(location))
	for i, alert := range alerts {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "- Event: %s\n", orNA(alert.Event))
		fmt.Fprintf(&b, "- Severity: %s\n", orNA(alert.Severity))
		fmt.Fprintf(&b, "- Headline: %s\n\n", orNA(alert.Headline))
	}
	return b.String(), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
