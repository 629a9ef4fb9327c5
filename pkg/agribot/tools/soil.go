package tools

import (
	"context"
	"encoding/json"

	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// SoilDataTool is a placeholder for soil data retrieval. The retrieval
// backend is not implemented in this version; the tool returns a fixed
// observation so the SoilCropAdvisor can state what it cannot determine.
type SoilDataTool struct{}

// NewSoilDataTool creates the soil data placeholder tool.
func NewSoilDataTool() *SoilDataTool { return &SoilDataTool{} }

// Definition returns the tool schema.
func (t *SoilDataTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "soil_data",
			Description: "Retrieves soil health data for a query. Currently limited.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The soil or crop question to look up."}
				},
				"required": ["query"]
			}`),
		},
	}
}

// Invoke always reports the data source as unavailable.
func (t *SoilDataTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return "Soil data information is currently unavailable. I can help with market prices, weather, and government schemes.", nil
}
