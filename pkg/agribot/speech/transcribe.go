// Package speech implements the transcription bridge for voice notes and
// text-to-speech synthesis for voice replies.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TranscriptionError wraps a speech-to-text failure. The coordinator turns
// it into a user-visible clarification reply.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Transcriber converts voice-note audio to text via a Whisper-compatible
// transcriptions endpoint.
type Transcriber struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTranscriber creates a transcriber against an OpenAI-compatible audio
// API (Groq hosts whisper-large-v3 behind the same shape).
func NewTranscriber(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Transcriber {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	if model == "" {
		model = "whisper-large-v3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "transcriber"),
	}
}

// Transcribe uploads the audio as multipart form data and returns the
// transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &TranscriptionError{Err: fmt.Errorf("empty audio payload")}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "voice.ogg")
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("creating form file: %w", err)}
	}
	if _, err := part.Write(audio); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("writing audio data: %w", err)}
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("writing model field: %w", err)}
	}
	if err := w.Close(); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("closing multipart writer: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{Err: fmt.Errorf("API returned status %d", resp.StatusCode)}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("parsing response: %w", err)}
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return "", &TranscriptionError{Err: fmt.Errorf("empty transcript")}
	}

	t.logger.Debug("audio transcribed",
		"bytes", len(audio), "latency", time.Since(start))
	return parsed.Text, nil
}
