// Package language implements the language bridge: detection and translation
// between the user's language and the pivot language all reasoning happens
// in. Backed by the Sarvam API with a local script-based fallback so the
// pipeline degrades to best-effort instead of failing a turn.
package language

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// DefaultPivot is the language reasoning is performed in.
const DefaultPivot = "en-IN"

// TranslationError wraps a translation backend failure.
type TranslationError struct {
	Err error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation failed: %v", e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Bridge talks to the Sarvam detect/translate API.
type Bridge struct {
	baseURL    string
	apiKey     string
	pivot      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a language bridge. An empty apiKey disables remote calls:
// Detect falls back to script heuristics and Translate returns the input
// unchanged, so reasoning proceeds in the user's own language.
func New(baseURL, apiKey, pivot string, timeout time.Duration, logger *slog.Logger) *Bridge {
	if baseURL == "" {
		baseURL = "https://api.sarvam.ai"
	}
	if pivot == "" {
		pivot = DefaultPivot
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pivot:      pivot,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "language"),
	}
}

// Pivot returns the configured pivot language code.
func (b *Bridge) Pivot() string { return b.pivot }

// Detect returns the language code of the text. Remote detection failures
// fall back to local script heuristics; Detect never returns an error the
// caller must branch on — a best-effort code is always produced.
func (b *Bridge) Detect(ctx context.Context, text string) string {
	if b.apiKey == "" {
		return detectByScript(text)
	}

	var out struct {
		LanguageCode string `json:"language_code"`
	}
	if err := b.post(ctx, "/detect-language", map[string]any{"text": text}, &out); err != nil {
		b.logger.Warn("remote language detection failed, using script heuristic", "error", err)
		return detectByScript(text)
	}
	if out.LanguageCode == "" {
		return detectByScript(text)
	}
	return out.LanguageCode
}

// Translate converts text from source to target. Returns a TranslationError
// on backend failure; same-language requests short-circuit.
func (b *Bridge) Translate(ctx context.Context, text, source, target string) (string, error) {
	if source == target || text == "" {
		return text, nil
	}
	if b.apiKey == "" {
		return text, &TranslationError{Err: fmt.Errorf("no translation API key configured")}
	}

	var out struct {
		TranslatedText string `json:"translated_text"`
	}
	payload := map[string]any{
		"input":                text,
		"source_language_code": source,
		"target_language_code": target,
	}
	if err := b.post(ctx, "/translate", payload, &out); err != nil {
		return text, &TranslationError{Err: err}
	}
	if out.TranslatedText == "" {
		return text, &TranslationError{Err: fmt.Errorf("empty translation result")}
	}
	return out.TranslatedText, nil
}

// ToPivot translates text into the pivot language, best-effort. On failure
// the original text is returned so reasoning proceeds untranslated.
func (b *Bridge) ToPivot(ctx context.Context, text, source string) string {
	translated, err := b.Translate(ctx, text, source, b.pivot)
	if err != nil {
		b.logger.Warn("inbound translation failed, reasoning in original language",
			"source", source, "error", err)
		return text
	}
	return translated
}

// FromPivot translates a pivot-language reply back to the user's language.
// On failure the pivot text is returned — delivery outranks localization.
func (b *Bridge) FromPivot(ctx context.Context, text, target string) string {
	translated, err := b.Translate(ctx, text, b.pivot, target)
	if err != nil {
		b.logger.Warn("outbound translation failed, delivering pivot-language reply",
			"target", target, "error", err)
		return text
	}
	return translated
}

// post sends a JSON request to the Sarvam API and decodes the response.
func (b *Bridge) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// scriptRanges maps Indic Unicode ranges to language codes. Mixed-script
// text resolves to the script with the most characters.
var scriptRanges = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Devanagari, "hi-IN"},
	{unicode.Bengali, "bn-IN"},
	{unicode.Gurmukhi, "pa-IN"},
	{unicode.Gujarati, "gu-IN"},
	{unicode.Oriya, "od-IN"},
	{unicode.Tamil, "ta-IN"},
	{unicode.Telugu, "te-IN"},
	{unicode.Kannada, "kn-IN"},
	{unicode.Malayalam, "ml-IN"},
}

// detectByScript guesses the language from the dominant Unicode script.
// Latin text (and anything unrecognized) defaults to en-IN.
func detectByScript(text string) string {
	counts := make(map[string]int, len(scriptRanges))
	for _, r := range text {
		for _, sr := range scriptRanges {
			if unicode.Is(sr.table, r) {
				counts[sr.code]++
				break
			}
		}
	}

	best := DefaultPivot
	bestCount := 0
	for _, sr := range scriptRanges {
		if c := counts[sr.code]; c > bestCount {
			best = sr.code
			bestCount = c
		}
	}
	return best
}
