// Package coordinator ties the pipeline together: it filters webhook
// events, feeds the per-sender buffer, and runs each flushed burst through
// language bridging, the orchestration graph, and reply dispatch.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrovoice/agribot/pkg/agribot/buffer"
	"github.com/agrovoice/agribot/pkg/agribot/config"
	"github.com/agrovoice/agribot/pkg/agribot/graph"
	"github.com/agrovoice/agribot/pkg/agribot/speech"
	"github.com/agrovoice/agribot/pkg/agribot/wpp"
)

// Fixed user-facing replies for failure paths.
const (
	clarifyReply = "Sorry, I couldn't understand that voice note. Could you please type your question?"
	apologyReply = "Sorry, something went wrong while processing your message. Please try again."
)

// turnTimeout bounds one full flush-to-reply cycle.
const turnTimeout = 3 * time.Minute

// Runner executes one reasoning turn.
type Runner interface {
	Run(ctx context.Context, query string) (*graph.Result, error)
}

// Transcriber converts voice-note audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts reply text to voice audio.
type Synthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Dispatcher delivers outbound replies.
type Dispatcher interface {
	SendMessage(ctx context.Context, phone, message string) error
	SendVoice(ctx context.Context, phone string, audio []byte) error
}

// LanguageBridge detects and translates between user language and pivot.
type LanguageBridge interface {
	Detect(ctx context.Context, text string) string
	ToPivot(ctx context.Context, text, source string) string
	FromPivot(ctx context.Context, text, target string) string
}

// Coordinator owns the per-sender conversation lifecycle.
type Coordinator struct {
	agg         *buffer.Aggregator
	runner      Runner
	bridge      LanguageBridge
	transcriber Transcriber
	synth       Synthesizer
	dispatcher  Dispatcher
	replyMode   config.ReplyMode
	logger      *slog.Logger

	// inflight serializes turns per sender: a flush waits until the prior
	// reply for that sender has been dispatched.
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// New creates a coordinator and its internal aggregator.
func New(
	wait time.Duration,
	runner Runner,
	bridge LanguageBridge,
	transcriber Transcriber,
	synth Synthesizer,
	dispatcher Dispatcher,
	replyMode config.ReplyMode,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		runner:      runner,
		bridge:      bridge,
		transcriber: transcriber,
		synth:       synth,
		dispatcher:  dispatcher,
		replyMode:   replyMode,
		logger:      logger.With("component", "coordinator"),
		inflight:    make(map[string]*sync.Mutex),
	}
	c.agg = buffer.New(wait, c.flushTurn, logger)
	return c
}

// HandleEvent processes one inbound webhook event. Non-actionable events
// are dropped silently; voice notes are transcribed before buffering.
func (c *Coordinator) HandleEvent(ctx context.Context, evt *wpp.Event) {
	if !evt.Actionable() {
		c.logger.Debug("event ignored",
			"event", evt.Event, "type", evt.Type, "new", evt.IsNewMsg)
		return
	}
	sender := evt.SenderID()

	switch evt.Type {
	case wpp.TypePTT:
		audio, err := evt.Audio()
		if err != nil {
			c.logger.Warn("voice note payload not decodable", "sender", sender, "error", err)
			c.sendText(ctx, sender, clarifyReply)
			return
		}
		transcript, err := c.transcriber.Transcribe(ctx, audio)
		if err != nil {
			var terr *speech.TranscriptionError
			if !errors.As(err, &terr) {
				c.logger.Error("unexpected transcription failure", "sender", sender, "error", err)
			}
			c.logger.Warn("voice note not transcribed", "sender", sender, "error", err)
			c.sendText(ctx, sender, clarifyReply)
			return
		}
		c.agg.SubmitVoice(sender, transcript, true)

	case wpp.TypeChat:
		if evt.Body == "" {
			return
		}
		c.agg.Submit(sender, evt.Body)
	}
}

// Stop flushes pending bursts and waits for in-flight turns.
func (c *Coordinator) Stop() {
	c.agg.Stop()
}

// Pending reports open bursts, for health reporting.
func (c *Coordinator) Pending() int {
	return c.agg.Pending()
}

// flushTurn runs one complete turn for a flushed burst. Runs on the buffer
// flush goroutine.
func (c *Coordinator) flushTurn(sender, text string, voice bool) {
	lock := c.senderLock(sender)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	log := c.logger.With("turn", turnID, "sender", sender)

	start := time.Now()
	lang := c.bridge.Detect(ctx, text)
	query := c.bridge.ToPivot(ctx, text, lang)

	res, err := c.runner.Run(ctx, query)
	if err != nil {
		log.Error("turn failed", "error", err)
		c.sendText(ctx, sender, apologyReply)
		return
	}

	reply := c.bridge.FromPivot(ctx, res.Reply, lang)
	c.dispatch(ctx, sender, reply, lang, voice)
	log.Info("turn completed",
		"lang", lang, "voice", voice,
		"transitions", len(res.Trace), "latency", time.Since(start))
}

// dispatch delivers the reply per the configured modality policy. Voice
// synthesis or voice delivery failures fall back to text.
func (c *Coordinator) dispatch(ctx context.Context, sender, reply, lang string, voice bool) {
	if voice && c.replyMode == config.ReplyModeMirror && c.synth != nil && c.synth.Enabled() {
		audio, err := c.synth.Synthesize(ctx, reply, lang)
		if err != nil {
			c.logger.Warn("voice synthesis failed, replying with text",
				"sender", sender, "error", err)
		} else if err := c.sendWithRetry(ctx, func() error {
			return c.dispatcher.SendVoice(ctx, sender, audio)
		}); err != nil {
			c.logger.Warn("voice delivery failed, replying with text",
				"sender", sender, "error", err)
		} else {
			return
		}
	}
	c.sendText(ctx, sender, reply)
}

// sendText delivers a text reply with at most one retry.
func (c *Coordinator) sendText(ctx context.Context, sender, text string) {
	err := c.sendWithRetry(ctx, func() error {
		return c.dispatcher.SendMessage(ctx, sender, text)
	})
	if err != nil {
		c.logger.Error("reply delivery failed", "sender", sender, "error", err)
	}
}

func (c *Coordinator) sendWithRetry(ctx context.Context, send func() error) error {
	err := send()
	if err == nil {
		return nil
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return err
	}
	return send()
}

func (c *Coordinator) senderLock(sender string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.inflight[sender]
	if !ok {
		lock = &sync.Mutex{}
		c.inflight[sender] = lock
	}
	return lock
}
