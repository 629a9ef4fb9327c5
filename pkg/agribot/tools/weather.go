package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// WeatherTool fetches the current weather forecast for a location from
// OpenWeatherMap.
type WeatherTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWeatherTool creates the weather forecast tool.
func NewWeatherTool(apiKey string) *WeatherTool {
	return &WeatherTool{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org",
		client:  newHTTPClient(10 * time.Second),
	}
}

// Definition returns the tool schema.
func (t *WeatherTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "weather_forecast",
			Description: "Fetches the current weather forecast for a specified location.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"location": {"type": "string", "description": "The city and state for which to get the weather forecast, e.g. 'Bhubaneswar, Odisha'."}
				},
				"required": ["location"]
			}`),
		},
	}
}

// owmResponse is the subset of the OpenWeatherMap response we read.
type owmResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Message string `json:"message"`
}

// Invoke fetches current conditions for the location.
func (t *WeatherTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	location := stringArg(args, "location")

	params := url.Values{}
	params.Set("q", location)
	params.Set("appid", t.apiKey)
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/data/2.5/weather?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching weather data for %s: %w", location, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed owmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Message != "" {
			return "", fmt.Errorf("weather API: %s", parsed.Message)
		}
		return "", fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	condition := "unknown"
	if len(parsed.Weather) > 0 {
		condition = parsed.Weather[0].Description
	}

	return fmt.Sprintf(
		"Weather forecast for %s:\n"+
			"- Condition: %s\n"+
			"- Temperature: %.1f°C (feels like %.1f°C)\n"+
			"- Humidity: %d%%\n"+
			"- Wind Speed: %.1f m/s\n",
		parsed.Name, condition,
		parsed.Main.Temp, parsed.Main.FeelsLike,
		parsed.Main.Humidity, parsed.Wind.Speed), nil
}
