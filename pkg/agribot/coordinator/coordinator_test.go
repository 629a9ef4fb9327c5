package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/config"
	"github.com/agrovoice/agribot/pkg/agribot/graph"
	"github.com/agrovoice/agribot/pkg/agribot/speech"
	"github.com/agrovoice/agribot/pkg/agribot/wpp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	reply   string
	err     error
	block   chan struct{} // when non-nil, Run waits on it
}

func (f *fakeRunner) Run(ctx context.Context, query string) (*graph.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &graph.Result{Reply: f.reply}, nil
}

// fakeBridge tags text so tests can assert the translation direction.
type fakeBridge struct{ lang string }

func (f *fakeBridge) Detect(ctx context.Context, text string) string { return f.lang }
func (f *fakeBridge) ToPivot(ctx context.Context, text, source string) string {
	return "pivot:" + text
}
func (f *fakeBridge) FromPivot(ctx context.Context, text, target string) string {
	return "local:" + text
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeSynth struct {
	enabled bool
	audio   []byte
	err     error
}

func (f *fakeSynth) Enabled() bool { return f.enabled }
func (f *fakeSynth) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	return f.audio, f.err
}

type sent struct {
	kind  string // "text" or "voice"
	to    string
	text  string
	audio []byte
}

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      []sent
	textErrs  int // fail this many SendMessage calls
	voiceErrs int // fail this many SendVoice calls
	signal    chan struct{}
}

func newDispatcher() *fakeDispatcher {
	return &fakeDispatcher{signal: make(chan struct{}, 16)}
}

func (f *fakeDispatcher) SendMessage(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErrs > 0 {
		f.textErrs--
		return fmt.Errorf("send-message down")
	}
	f.sent = append(f.sent, sent{kind: "text", to: phone, text: message})
	f.signal <- struct{}{}
	return nil
}

func (f *fakeDispatcher) SendVoice(ctx context.Context, phone string, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErrs > 0 {
		f.voiceErrs--
		return fmt.Errorf("send-voice down")
	}
	f.sent = append(f.sent, sent{kind: "voice", to: phone, audio: audio})
	f.signal <- struct{}{}
	return nil
}

func (f *fakeDispatcher) wait(t *testing.T, n int) []sent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := append([]sent(nil), f.sent...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		select {
		case <-f.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d dispatches", n)
		}
	}
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type deps struct {
	runner *fakeRunner
	disp   *fakeDispatcher
	synth  *fakeSynth
	trans  *fakeTranscriber
}

func newCoordinator(t *testing.T, mode config.ReplyMode, d deps) *Coordinator {
	t.Helper()
	if d.runner == nil {
		d.runner = &fakeRunner{reply: "answer"}
	}
	if d.disp == nil {
		d.disp = newDispatcher()
	}
	if d.synth == nil {
		d.synth = &fakeSynth{}
	}
	if d.trans == nil {
		d.trans = &fakeTranscriber{text: "spoken question"}
	}
	c := New(30*time.Millisecond, d.runner, &fakeBridge{lang: "hi-IN"},
		d.trans, d.synth, d.disp, mode, testLogger())
	t.Cleanup(c.Stop)
	return c
}

func chatEvent(sender, body string) *wpp.Event {
	return &wpp.Event{Event: "onmessage", Type: wpp.TypeChat, IsNewMsg: true,
		From: sender, Body: body}
}

func voiceEvent(sender string) *wpp.Event {
	return &wpp.Event{Event: "onmessage", Type: wpp.TypePTT, IsNewMsg: true,
		From: sender, Body: base64.StdEncoding.EncodeToString([]byte("ogg"))}
}

func TestTextTurn(t *testing.T) {
	runner := &fakeRunner{reply: "wheat is at Rs 2200"}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "wheat price"))
	got := disp.wait(t, 1)

	if got[0].kind != "text" || got[0].to != "farmer@c.us" {
		t.Errorf("unexpected dispatch %+v", got[0])
	}
	if got[0].text != "local:wheat is at Rs 2200" {
		t.Errorf("reply must be translated back, got %q", got[0].text)
	}
	if len(runner.queries) != 1 || runner.queries[0] != "pivot:wheat price" {
		t.Errorf("query must be translated to pivot, got %v", runner.queries)
	}
}

func TestBurstAggregation(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "what is"))
	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "the wheat price"))
	disp.wait(t, 1)

	if len(runner.queries) != 1 {
		t.Fatalf("expected one aggregated turn, got %d", len(runner.queries))
	}
	if runner.queries[0] != "pivot:what is the wheat price" {
		t.Errorf("fragments not joined: %q", runner.queries[0])
	}
}

func TestIgnoredEvents(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), &wpp.Event{Event: "onack", Type: wpp.TypeChat, IsNewMsg: true, From: "x@c.us"})
	c.HandleEvent(context.Background(), &wpp.Event{Event: "onmessage", Type: "image", IsNewMsg: true, From: "x@c.us"})
	c.HandleEvent(context.Background(), chatEvent("x@c.us", ""))

	time.Sleep(80 * time.Millisecond)
	if disp.count() != 0 || len(runner.queries) != 0 {
		t.Error("non-actionable events must not produce turns or replies")
	}
}

func TestVoiceTurnMirrored(t *testing.T) {
	disp := newDispatcher()
	synth := &fakeSynth{enabled: true, audio: []byte("wav-bytes")}
	c := newCoordinator(t, config.ReplyModeMirror,
		deps{disp: disp, synth: synth, trans: &fakeTranscriber{text: "spoken question"}})

	c.HandleEvent(context.Background(), voiceEvent("farmer@c.us"))
	got := disp.wait(t, 1)

	if got[0].kind != "voice" {
		t.Fatalf("voice note must get a voice reply in mirror mode, got %+v", got[0])
	}
	if string(got[0].audio) != "wav-bytes" {
		t.Errorf("unexpected audio payload")
	}
}

func TestVoiceTurnTextMode(t *testing.T) {
	disp := newDispatcher()
	synth := &fakeSynth{enabled: true, audio: []byte("wav")}
	c := newCoordinator(t, config.ReplyModeText, deps{disp: disp, synth: synth})

	c.HandleEvent(context.Background(), voiceEvent("farmer@c.us"))
	got := disp.wait(t, 1)
	if got[0].kind != "text" {
		t.Errorf("text mode must always reply with text, got %+v", got[0])
	}
}

func TestTranscriptionFailureAsksForText(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	disp := newDispatcher()
	trans := &fakeTranscriber{err: &speech.TranscriptionError{Err: fmt.Errorf("garbled")}}
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp, trans: trans})

	c.HandleEvent(context.Background(), voiceEvent("farmer@c.us"))
	got := disp.wait(t, 1)

	if got[0].text != clarifyReply {
		t.Errorf("expected clarification reply, got %q", got[0].text)
	}
	if len(runner.queries) != 0 {
		t.Error("failed transcription must not start a turn")
	}
}

func TestSynthesisFailureFallsBackToText(t *testing.T) {
	disp := newDispatcher()
	synth := &fakeSynth{enabled: true, err: fmt.Errorf("tts down")}
	c := newCoordinator(t, config.ReplyModeMirror, deps{disp: disp, synth: synth})

	c.HandleEvent(context.Background(), voiceEvent("farmer@c.us"))
	got := disp.wait(t, 1)
	if got[0].kind != "text" {
		t.Errorf("synthesis failure must fall back to text, got %+v", got[0])
	}
}

func TestVoiceDeliveryFailureFallsBackToText(t *testing.T) {
	disp := newDispatcher()
	disp.voiceErrs = 2 // initial attempt and its retry
	synth := &fakeSynth{enabled: true, audio: []byte("wav")}
	c := newCoordinator(t, config.ReplyModeMirror, deps{disp: disp, synth: synth})

	c.HandleEvent(context.Background(), voiceEvent("farmer@c.us"))
	got := disp.wait(t, 1)
	if got[0].kind != "text" {
		t.Errorf("voice delivery failure must fall back to text, got %+v", got[0])
	}
}

func TestDispatchRetriesOnce(t *testing.T) {
	disp := newDispatcher()
	disp.textErrs = 1
	c := newCoordinator(t, config.ReplyModeMirror, deps{disp: disp})

	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "hello"))
	got := disp.wait(t, 1)
	if got[0].kind != "text" {
		t.Errorf("retry must deliver the reply, got %+v", got[0])
	}
}

func TestTurnFailureSendsApology(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "hello"))
	got := disp.wait(t, 1)
	if got[0].text != apologyReply {
		t.Errorf("expected apology, got %q", got[0].text)
	}
}

func TestSenderTurnsSerialized(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{reply: "ok", block: release}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "first"))

	// Wait for the first turn to enter the runner, then queue a second burst.
	waitFor(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.queries) == 1
	})
	c.HandleEvent(context.Background(), chatEvent("farmer@c.us", "second"))

	time.Sleep(100 * time.Millisecond)
	if disp.count() != 0 {
		t.Fatal("second turn must wait for the first reply to dispatch")
	}

	close(release)
	got := disp.wait(t, 2)
	if len(got) != 2 {
		t.Fatalf("expected both replies, got %d", len(got))
	}
	if !strings.Contains(runner.queries[1], "second") {
		t.Errorf("unexpected second query %q", runner.queries[1])
	}
}

func TestSendersIndependent(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	disp := newDispatcher()
	c := newCoordinator(t, config.ReplyModeMirror, deps{runner: runner, disp: disp})

	c.HandleEvent(context.Background(), chatEvent("a@c.us", "question a"))
	c.HandleEvent(context.Background(), chatEvent("b@c.us", "question b"))

	got := disp.wait(t, 2)
	recipients := map[string]bool{}
	for _, s := range got {
		recipients[s.to] = true
	}
	if !recipients["a@c.us"] || !recipients["b@c.us"] {
		t.Errorf("both senders must get replies, got %v", recipients)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
