// Package config defines all configuration structures for the AgriBot
// webhook service and loads them from YAML with environment expansion.
package config

import (
	"fmt"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Server configures the HTTP webhook server.
	Server ServerConfig `yaml:"server"`

	// WPP configures the WPPConnect gateway used for outbound delivery.
	WPP WPPConfig `yaml:"wppconnect"`

	// LLM configures the reasoning backend endpoint.
	LLM LLMConfig `yaml:"llm"`

	// Language configures the Sarvam translation backend.
	Language LanguageConfig `yaml:"language"`

	// Speech configures transcription and voice synthesis.
	Speech SpeechConfig `yaml:"speech"`

	// Tools configures per-tool API keys. An empty key disables that tool.
	Tools ToolsConfig `yaml:"tools"`

	// Buffer configures message burst aggregation.
	Buffer BufferConfig `yaml:"buffer"`

	// Reply configures outbound reply modality.
	Reply ReplyConfig `yaml:"reply"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	// Address is the listen address (e.g. ":8080").
	Address string `yaml:"address"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// WPPConfig configures the WPPConnect REST gateway.
type WPPConfig struct {
	// BaseURL is the WPPConnect server base URL.
	BaseURL string `yaml:"base_url"`

	// Session is the WPPConnect session name.
	Session string `yaml:"session"`

	// Token is the bearer token for the session.
	Token string `yaml:"token"`

	// SecretKey is the WPPConnect secret key (used for token generation).
	SecretKey string `yaml:"secret_key"`

	// TimeoutSeconds bounds each outbound send call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LLMConfig configures the OpenAI-compatible reasoning backend.
type LLMConfig struct {
	// BaseURL is the API base URL (default: Groq).
	BaseURL string `yaml:"base_url"`

	// APIKey is the backend API key.
	APIKey string `yaml:"api_key"`

	// Model is the chat model (e.g. "llama-3.3-70b-versatile").
	Model string `yaml:"model"`

	// TimeoutSeconds bounds each chat completion call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LanguageConfig configures the Sarvam translation backend.
type LanguageConfig struct {
	// BaseURL is the Sarvam API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is the Sarvam API key. Empty disables remote detection and
	// translation; the service then reasons in the user's own language.
	APIKey string `yaml:"api_key"`

	// Pivot is the language all reasoning happens in.
	Pivot string `yaml:"pivot"`

	// TimeoutSeconds bounds each detect/translate call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SpeechConfig configures transcription and text-to-speech.
type SpeechConfig struct {
	// TranscriptionModel is the Whisper model used for voice notes.
	TranscriptionModel string `yaml:"transcription_model"`

	// TTSEnabled enables voice replies (requires the Sarvam key).
	TTSEnabled bool `yaml:"tts_enabled"`

	// TimeoutSeconds bounds each transcription/synthesis call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ToolsConfig holds per-tool API keys. Each key is optional: a missing key
// disables the tool instead of failing startup.
type ToolsConfig struct {
	// SerpAPIKey enables the market price tool.
	SerpAPIKey string `yaml:"serpapi_key"`

	// OpenWeatherMapKey enables the weather forecast tool.
	OpenWeatherMapKey string `yaml:"openweathermap_key"`

	// TavilyKey enables the web search tool.
	TavilyKey string `yaml:"tavily_key"`

	// TimeoutSeconds bounds each tool invocation.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// BufferConfig configures message burst aggregation.
type BufferConfig struct {
	// WaitTimeSeconds is the debounce interval: a burst flushes once no new
	// fragment has arrived for this long.
	WaitTimeSeconds int `yaml:"wait_time_seconds"`
}

// WaitTime returns the debounce interval as a duration.
func (b BufferConfig) WaitTime() time.Duration {
	secs := b.WaitTimeSeconds
	if secs <= 0 {
		secs = 2
	}
	return time.Duration(secs) * time.Second
}

// ReplyMode selects the outbound reply modality policy.
type ReplyMode string

const (
	// ReplyModeMirror replies with voice to voice notes and text to text.
	ReplyModeMirror ReplyMode = "mirror"

	// ReplyModeText always replies with text.
	ReplyModeText ReplyMode = "text"
)

// ReplyConfig configures reply dispatch.
type ReplyConfig struct {
	// Mode is the modality policy ("mirror" or "text").
	Mode ReplyMode `yaml:"mode"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Address:                ":8080",
			ShutdownTimeoutSeconds: 10,
		},
		WPP: WPPConfig{
			TimeoutSeconds: 15,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.3-70b-versatile",
			TimeoutSeconds: 60,
		},
		Language: LanguageConfig{
			BaseURL:        "https://api.sarvam.ai",
			Pivot:          "en-IN",
			TimeoutSeconds: 15,
		},
		Speech: SpeechConfig{
			TranscriptionModel: "whisper-large-v3",
			TTSEnabled:         true,
			TimeoutSeconds:     30,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 20,
		},
		Buffer: BufferConfig{
			WaitTimeSeconds: 2,
		},
		Reply: ReplyConfig{
			Mode: ReplyModeMirror,
		},
	}
}

// Validate checks mandatory credentials. Only these are fatal at startup;
// every tool key is optional by design.
func (c *Config) Validate() error {
	if c.WPP.BaseURL == "" {
		return fmt.Errorf("config: wppconnect.base_url is required")
	}
	if c.WPP.Session == "" {
		return fmt.Errorf("config: wppconnect.session is required")
	}
	if c.WPP.Token == "" {
		return fmt.Errorf("config: wppconnect.token is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required")
	}
	if c.Reply.Mode != ReplyModeMirror && c.Reply.Mode != ReplyModeText {
		return fmt.Errorf("config: reply.mode must be %q or %q", ReplyModeMirror, ReplyModeText)
	}
	return nil
}
