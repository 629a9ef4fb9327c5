package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/config"
	"github.com/agrovoice/agribot/pkg/agribot/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTool is a configurable in-memory tool for registry tests.
type fakeTool struct {
	name   string
	result string
	err    error
	delay  time.Duration
}

func (f *fakeTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        f.name,
			Description: "fake tool",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"location": {"type": "string"}},
				"required": ["location"]
			}`),
		},
	}
}

func (f *fakeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry(time.Second, testLogger())
	r.Register(&fakeTool{name: "fake", result: "42 quintals"})

	t.Run("successful invocation records result and latency", func(t *testing.T) {
		inv := r.Invoke(context.Background(), call("fake", `{"location":"Punjab"}`))
		if inv.Err != nil {
			t.Fatalf("unexpected error: %v", inv.Err)
		}
		if inv.Result != "42 quintals" {
			t.Errorf("unexpected result %q", inv.Result)
		}
		if inv.Latency < 0 {
			t.Error("latency not recorded")
		}
	})

	t.Run("unknown tool yields ToolError", func(t *testing.T) {
		inv := r.Invoke(context.Background(), call("nope", `{}`))
		if inv.Err == nil {
			t.Fatal("expected error for unknown tool")
		}
		toolErr, ok := inv.Err.(*ToolError)
		if !ok {
			t.Fatalf("expected *ToolError, got %T", inv.Err)
		}
		if toolErr.Tool != "nope" {
			t.Errorf("error should carry the tool name, got %q", toolErr.Tool)
		}
	})

	t.Run("missing required argument rejected before dispatch", func(t *testing.T) {
		inv := r.Invoke(context.Background(), call("fake", `{}`))
		if inv.Err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("unexpected argument rejected", func(t *testing.T) {
		inv := r.Invoke(context.Background(), call("fake", `{"location":"x","bogus":1}`))
		if inv.Err == nil {
			t.Fatal("expected validation error for unexpected argument")
		}
	})

	t.Run("malformed arguments JSON rejected", func(t *testing.T) {
		inv := r.Invoke(context.Background(), call("fake", `{not json`))
		if inv.Err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("tool failure captured, not raised", func(t *testing.T) {
		r2 := NewRegistry(time.Second, testLogger())
		r2.Register(&fakeTool{name: "failing", err: fmt.Errorf("upstream down")})
		// Reuse the fake schema: required location.
		inv := r2.Invoke(context.Background(), call("failing", `{"location":"x"}`))
		if inv.Err == nil {
			t.Fatal("expected captured error")
		}
		obs := inv.Observation()
		if obs == "" {
			t.Fatal("expected negative observation text")
		}
	})

	t.Run("slow tool hits registry timeout", func(t *testing.T) {
		r2 := NewRegistry(50*time.Millisecond, testLogger())
		r2.Register(&fakeTool{name: "slow", result: "late", delay: time.Second})
		inv := r2.Invoke(context.Background(), call("slow", `{"location":"x"}`))
		if inv.Err == nil {
			t.Fatal("expected timeout error")
		}
	})
}

func TestObservation(t *testing.T) {
	t.Run("success renders tool and result", func(t *testing.T) {
		inv := Invocation{Tool: "weather_forecast", Result: "sunny"}
		if got := inv.Observation(); got != "[weather_forecast] sunny" {
			t.Errorf("unexpected observation %q", got)
		}
	})

	t.Run("failure renders unavailable", func(t *testing.T) {
		inv := Invocation{Tool: "market_price", Err: fmt.Errorf("no key")}
		if got := inv.Observation(); got != "[market_price] unavailable: no key" {
			t.Errorf("unexpected observation %q", got)
		}
	})
}

func TestBuildHonorsOptionalKeys(t *testing.T) {
	t.Run("no keys registers only keyless tools", func(t *testing.T) {
		r := Build(config.ToolsConfig{}, testLogger())
		for _, name := range []string{"disaster_alerts", "web_scraper", "soil_data"} {
			if !r.Has(name) {
				t.Errorf("expected keyless tool %q registered", name)
			}
		}
		for _, name := range []string{"market_price", "weather_forecast", "web_search"} {
			if r.Has(name) {
				t.Errorf("tool %q must be disabled without its key", name)
			}
		}
	})

	t.Run("keys enable their tools", func(t *testing.T) {
		r := Build(config.ToolsConfig{
			SerpAPIKey:        "sk",
			OpenWeatherMapKey: "ow",
			TavilyKey:         "tv",
		}, testLogger())
		if r.Len() != 6 {
			t.Errorf("expected 6 tools, got %d", r.Len())
		}
	})
}

func TestDefinitionsStableOrder(t *testing.T) {
	r := Build(config.ToolsConfig{SerpAPIKey: "sk"}, testLogger())
	first := r.Definitions()
	second := r.Definitions()
	if len(first) != len(second) {
		t.Fatal("definition count changed between calls")
	}
	for i := range first {
		if first[i].Function.Name != second[i].Function.Name {
			t.Errorf("definition order not stable at %d: %q vs %q",
				i, first[i].Function.Name, second[i].Function.Name)
		}
	}
}
