// Package tools implements the tool gateway: a registry of callable external
// data tools that dispatches tool calls from the reasoning graph to the
// appropriate handlers. The tool set is closed and built once at startup from
// the enabled-tool configuration — a missing API key disables a tool instead
// of failing startup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/config"
	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

// DefaultTimeout is the maximum time a single tool invocation can take.
const DefaultTimeout = 20 * time.Second

// Tool is a single external data source exposed to the reasoning graph.
type Tool interface {
	// Definition returns the OpenAI-compatible schema the graph binds against.
	Definition() llm.ToolDefinition

	// Invoke runs the tool with validated arguments and returns a text result.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ToolError wraps a tool failure with the tool name and cause.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Invocation records one tool execution: arguments, result or error, latency.
// Scoped to a single turn; never persisted.
type Invocation struct {
	Tool    string
	Args    map[string]any
	Result  string
	Err     error
	Latency time.Duration
}

// Observation renders the invocation as a line of context for the reasoning
// steps. Failed tools become negative observations instead of aborting.
func (inv Invocation) Observation() string {
	if inv.Err != nil {
		return fmt.Sprintf("[%s] unavailable: %v", inv.Tool, inv.Err)
	}
	return fmt.Sprintf("[%s] %s", inv.Tool, inv.Result)
}

// Registry holds the enabled tools, keyed by name.
type Registry struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logger.With("component", "tools"),
	}
}

// Build constructs the registry from config. Tools whose API key is absent
// are skipped with a log line; keyless tools are always registered.
func Build(cfg config.ToolsConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(time.Duration(cfg.TimeoutSeconds)*time.Second, logger)

	if cfg.SerpAPIKey != "" {
		r.Register(NewMarketPriceTool(cfg.SerpAPIKey))
	} else {
		r.logger.Info("market price tool disabled: no SerpAPI key")
	}

	if cfg.OpenWeatherMapKey != "" {
		r.Register(NewWeatherTool(cfg.OpenWeatherMapKey))
	} else {
		r.logger.Info("weather tool disabled: no OpenWeatherMap key")
	}

	if cfg.TavilyKey != "" {
		r.Register(NewSearchTool(cfg.TavilyKey))
	} else {
		r.logger.Info("web search tool disabled: no Tavily key")
	}

	// No credentials needed for these.
	r.Register(NewDisasterAlertTool())
	r.Register(NewScraperTool())
	r.Register(NewSoilDataTool())

	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Function.Name
	r.tools[name] = t
	r.logger.Debug("tool registered", "name", name)
}

// Definitions returns the schemas of all registered tools in stable order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Invoke executes a single tool call requested by the LLM. Arguments are
// parsed and validated against the tool's schema before dispatch; execution
// runs under the registry timeout. Failures are captured in the returned
// Invocation — they never abort the surrounding turn.
func (r *Registry) Invoke(ctx context.Context, call llm.ToolCall) Invocation {
	name := call.Function.Name
	inv := Invocation{Tool: name}

	tool, ok := r.tools[name]
	if !ok {
		inv.Err = &ToolError{Tool: name, Err: fmt.Errorf("unknown or disabled tool")}
		return inv
	}

	args := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			inv.Err = &ToolError{Tool: name, Err: fmt.Errorf("invalid arguments JSON: %w", err)}
			return inv
		}
	}
	inv.Args = args

	if err := validateArgs(tool.Definition().Function, args); err != nil {
		inv.Err = &ToolError{Tool: name, Err: err}
		return inv
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Invoke(callCtx, args)
	inv.Latency = time.Since(start)

	if err != nil {
		inv.Err = &ToolError{Tool: name, Err: err}
		r.logger.Warn("tool invocation failed",
			"tool", name, "error", err, "latency", inv.Latency)
		return inv
	}

	inv.Result = result
	r.logger.Debug("tool invoked", "tool", name, "latency", inv.Latency)
	return inv
}

// paramSchema is the subset of JSON Schema the tool definitions use.
type paramSchema struct {
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// validateArgs checks required parameters and basic types against the
// tool's declared schema.
func validateArgs(def llm.FunctionDef, args map[string]any) error {
	var schema paramSchema
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}

	for _, name := range schema.Required {
		val, ok := args[name]
		if !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
		if s, isStr := val.(string); isStr && s == "" {
			return fmt.Errorf("required argument %q is empty", name)
		}
	}

	for name, val := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			return fmt.Errorf("unexpected argument %q", name)
		}
		if prop.Type == "string" {
			if _, isStr := val.(string); !isStr {
				return fmt.Errorf("argument %q must be a string", name)
			}
		}
	}

	return nil
}

// stringArg extracts a string argument; validation guarantees presence of
// required ones, so tools use this after validateArgs has run.
func stringArg(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// newHTTPClient returns the shared HTTP client shape used by all tools.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
