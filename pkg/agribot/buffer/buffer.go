// Package buffer implements per-sender message aggregation. Rapid message
// fragments from the same sender are held until the sender pauses, then
// flushed as one combined text so the conversation engine sees a complete
// thought instead of typing bursts.
package buffer

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives a completed burst: the sender, the fragments joined
// in arrival order, and whether any fragment came from a voice note. It
// runs on the flush goroutine and may block.
type FlushFunc func(sender, text string, voice bool)

// burst is one open aggregation window for a sender.
type burst struct {
	fragments []string
	voice     bool
	timer     *time.Timer
}

// Aggregator debounces inbound fragments per sender. Each new fragment
// re-arms the sender's timer; the burst flushes once the sender has been
// quiet for the full wait interval.
type Aggregator struct {
	wait   time.Duration
	flush  FlushFunc
	logger *slog.Logger

	mu      sync.Mutex
	bursts  map[string]*burst
	wg      sync.WaitGroup
	stopped bool
}

// New creates an aggregator. flush must not be nil.
func New(wait time.Duration, flush FlushFunc, logger *slog.Logger) *Aggregator {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		wait:   wait,
		flush:  flush,
		logger: logger.With("component", "buffer"),
		bursts: make(map[string]*burst),
	}
}

// Submit adds a fragment to the sender's open burst, opening one if needed.
// Fragments arriving after a flush started open a fresh burst.
func (a *Aggregator) Submit(sender, fragment string) {
	a.SubmitVoice(sender, fragment, false)
}

// SubmitVoice is Submit with a voice-origin marker. A burst containing any
// voice fragment is flushed as voice-originated.
func (a *Aggregator) SubmitVoice(sender, fragment string, voice bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		a.logger.Warn("fragment dropped after shutdown", "sender", sender)
		return
	}

	b, ok := a.bursts[sender]
	if !ok {
		b = &burst{}
		b.timer = time.AfterFunc(a.wait, func() { a.fire(sender) })
		a.bursts[sender] = b
		a.wg.Add(1)
	} else {
		// Reset on an expired timer re-schedules the callback; the extra
		// fire finds no burst and is a no-op.
		b.timer.Reset(a.wait)
	}
	b.fragments = append(b.fragments, fragment)
	if voice {
		b.voice = true
	}
}

// Pending reports how many senders have an open burst.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bursts)
}

// fire closes the sender's burst and delivers it. Runs on the timer
// goroutine.
func (a *Aggregator) fire(sender string) {
	a.mu.Lock()
	b, ok := a.bursts[sender]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.bursts, sender)
	a.mu.Unlock()

	defer a.wg.Done()
	a.deliver(sender, b)
}

// Stop flushes all open bursts synchronously and rejects further
// submissions. Waits for in-flight flushes to finish.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true

	var remaining []struct {
		sender string
		b      *burst
	}
	for sender, b := range a.bursts {
		if b.timer.Stop() {
			// Timer cancelled before firing; this burst is ours to flush.
			remaining = append(remaining, struct {
				sender string
				b      *burst
			}{sender, b})
			delete(a.bursts, sender)
			a.wg.Done()
		}
		// A timer that already fired delivers via fire; wg covers it.
	}
	a.mu.Unlock()

	for _, r := range remaining {
		a.deliver(r.sender, r.b)
	}
	a.wg.Wait()
}

func (a *Aggregator) deliver(sender string, b *burst) {
	text := strings.TrimSpace(strings.Join(b.fragments, " "))
	if text == "" {
		return
	}
	a.logger.Debug("burst flushed",
		"sender", sender, "fragments", len(b.fragments), "voice", b.voice)
	a.flush(sender, text, b.voice)
}
