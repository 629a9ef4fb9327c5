package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Synthesizer converts reply text to a voice note via the Sarvam TTS API.
type Synthesizer struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSynthesizer creates a Sarvam TTS client. An empty apiKey disables
// synthesis; callers fall back to text replies.
func NewSynthesizer(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Synthesizer {
	if baseURL == "" {
		baseURL = "https://api.sarvam.ai"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "tts"),
	}
}

// Enabled reports whether synthesis is configured.
func (s *Synthesizer) Enabled() bool { return s.apiKey != "" }

// Synthesize converts text to audio bytes in the given language.
// Very long text is truncated to the API limit.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("tts: not configured")
	}
	if len(text) > 1500 {
		text = text[:1497] + "..."
	}

	payload, err := json.Marshal(map[string]any{
		"inputs":               []string{text},
		"target_language_code": lang,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		s.baseURL+"/text-to-speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("tts: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Audios []string `json:"audios"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("tts: parsing response: %w", err)
	}
	if len(parsed.Audios) == 0 || parsed.Audios[0] == "" {
		return nil, fmt.Errorf("tts: empty audio in response")
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("tts: decoding audio: %w", err)
	}

	s.logger.Debug("speech synthesized", "lang", lang, "bytes", len(audio))
	return audio, nil
}
