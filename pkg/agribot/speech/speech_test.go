package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTranscribe(t *testing.T) {
	t.Run("returns transcript text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/audio/transcriptions" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("expected multipart form: %v", err)
			}
			if got := r.FormValue("model"); got != "whisper-large-v3" {
				t.Errorf("unexpected model %q", got)
			}
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("expected audio file part: %v", err)
			}
			fmt.Fprint(w, `{"text":"wheat price in Punjab"}`)
		}))
		defer srv.Close()

		tr := NewTranscriber(srv.URL, "gsk-test", "whisper-large-v3", 5*time.Second, testLogger())
		text, err := tr.Transcribe(context.Background(), []byte("fake-ogg-bytes"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "wheat price in Punjab" {
			t.Errorf("unexpected transcript %q", text)
		}
	})

	t.Run("API failure yields TranscriptionError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		tr := NewTranscriber(srv.URL, "gsk-test", "", 5*time.Second, testLogger())
		_, err := tr.Transcribe(context.Background(), []byte("garbage"))
		if err == nil {
			t.Fatal("expected error")
		}
		var terr *TranscriptionError
		if !errors.As(err, &terr) {
			t.Fatalf("expected *TranscriptionError, got %T", err)
		}
	})

	t.Run("empty audio rejected locally", func(t *testing.T) {
		tr := NewTranscriber("http://unused.invalid", "k", "", time.Second, testLogger())
		if _, err := tr.Transcribe(context.Background(), nil); err == nil {
			t.Fatal("expected error for empty audio")
		}
	})

	t.Run("empty transcript is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"text":"   "}`)
		}))
		defer srv.Close()

		tr := NewTranscriber(srv.URL, "gsk-test", "", 5*time.Second, testLogger())
		if _, err := tr.Transcribe(context.Background(), []byte("noise")); err == nil {
			t.Fatal("expected error for blank transcript")
		}
	})
}

func TestSynthesize(t *testing.T) {
	t.Run("decodes base64 audio", func(t *testing.T) {
		audio := []byte("RIFF-fake-wav")
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/text-to-speech" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}
			fmt.Fprintf(w, `{"audios":[%q]}`, base64.StdEncoding.EncodeToString(audio))
		}))
		defer srv.Close()

		syn := NewSynthesizer(srv.URL, "sv-test", 5*time.Second, testLogger())
		got, err := syn.Synthesize(context.Background(), "गेहूं का भाव", "hi-IN")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != string(audio) {
			t.Errorf("decoded audio mismatch")
		}
	})

	t.Run("disabled without API key", func(t *testing.T) {
		syn := NewSynthesizer("", "", time.Second, testLogger())
		if syn.Enabled() {
			t.Error("expected disabled synthesizer")
		}
		if _, err := syn.Synthesize(context.Background(), "hi", "en-IN"); err == nil {
			t.Fatal("expected error when not configured")
		}
	})

	t.Run("empty audio list is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"audios":[]}`)
		}))
		defer srv.Close()

		syn := NewSynthesizer(srv.URL, "sv-test", 5*time.Second, testLogger())
		if _, err := syn.Synthesize(context.Background(), "hello", "en-IN"); err == nil {
			t.Fatal("expected error for empty audio")
		}
	})
}
