// Package graph implements the conversation orchestration engine: a small
// explicit state machine that routes each user turn through a supervisor,
// specialist reasoning with tool use, and a final synthesis step.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/llm"
	"github.com/agrovoice/agribot/pkg/agribot/tools"
)

// State is a node in the orchestration graph.
type State string

const (
	StateSupervisor       State = "Supervisor"
	StateSoilCropAdvisor  State = "SoilCropAdvisor"
	StateMarketAnalyst    State = "MarketAnalyst"
	StateFinancialAdvisor State = "FinancialAdvisor"
	StateToolExecution    State = "ToolExecution"
	StateFinalAnswer      State = "FinalAnswer"
)

// specialists lists the routable specialist states.
var specialists = map[State]bool{
	StateSoilCropAdvisor:  true,
	StateMarketAnalyst:    true,
	StateFinancialAdvisor: true,
}

// Transition records one edge taken during a turn, for logging and tests.
type Transition struct {
	From State
	To   State
	Note string
}

// Result is the outcome of one turn. Reply is always non-empty.
type Result struct {
	Reply string
	Trace []Transition
}

// ChatBackend is the reasoning call the engine depends on.
type ChatBackend interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Engine runs the orchestration graph over a chat backend and tool registry.
type Engine struct {
	backend        ChatBackend
	registry       *tools.Registry
	logger         *slog.Logger
	maxTransitions int
	retryDelay     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTransitions caps the number of edges per turn.
func WithMaxTransitions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTransitions = n
		}
	}
}

// WithRetryDelay sets the pause before the single retry of a failed
// reasoning call.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// New creates an orchestration engine.
func New(backend ChatBackend, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		backend:        backend,
		registry:       registry,
		logger:         logger.With("component", "graph"),
		maxTransitions: 16,
		retryDelay:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// session is the mutable state of one turn.
type session struct {
	query        string
	history      []llm.Message
	observations []string
	visited      map[State]bool
	pendingCalls []llm.ToolCall
	trace        []Transition
}

// Run executes one turn for a user query in the pivot language. The reply
// is always non-empty; the error is non-nil only when the context is done.
func (e *Engine) Run(ctx context.Context, query string) (*Result, error) {
	s := &session{
		query:   query,
		history: []llm.Message{{Role: "user", Content: query}},
		visited: make(map[State]bool),
	}

	state := StateSupervisor
	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if steps >= e.maxTransitions && state != StateFinalAnswer {
			s.step(state, StateFinalAnswer, "transition cap reached")
			state = StateFinalAnswer
		}

		switch state {
		case StateSupervisor:
			state = e.supervise(ctx, s)
		case StateSoilCropAdvisor, StateMarketAnalyst, StateFinancialAdvisor:
			state = e.specialist(ctx, s, state)
		case StateToolExecution:
			state = e.executeTools(ctx, s)
		case StateFinalAnswer:
			reply := e.finalAnswer(ctx, s)
			return &Result{Reply: reply, Trace: s.trace}, nil
		default:
			s.step(state, StateFinalAnswer, "unknown state")
			state = StateFinalAnswer
		}
	}
}

func (s *session) step(from, to State, note string) {
	s.trace = append(s.trace, Transition{From: from, To: to, Note: note})
}

// note records an observation both for re-entry routing and for the final
// synthesis history.
func (s *session) note(text string) {
	s.observations = append(s.observations, text)
	s.history = append(s.history, llm.Message{Role: "system", Content: text})
}

// supervise asks the routing model which specialist should handle the query
// next. Unparseable output and already-visited specialists default to the
// final answer.
func (e *Engine) supervise(ctx context.Context, s *session) State {
	resp, err := e.chatWithRetry(ctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: e.supervisorPrompt(s)}},
	})
	if err != nil {
		s.note("reasoning unavailable")
		s.step(StateSupervisor, StateFinalAnswer, "routing call failed")
		return StateFinalAnswer
	}

	choice := State(strings.TrimSpace(resp.Content))
	switch {
	case specialists[choice] && !s.visited[choice]:
		s.visited[choice] = true
		s.step(StateSupervisor, choice, "routed")
		return choice
	case choice == "FinalAnswerAgent" || choice == StateFinalAnswer:
		s.step(StateSupervisor, StateFinalAnswer, "routed")
		return StateFinalAnswer
	case specialists[choice]:
		s.step(StateSupervisor, StateFinalAnswer, "specialist already consulted")
		return StateFinalAnswer
	default:
		s.step(StateSupervisor, StateFinalAnswer, fmt.Sprintf("unrecognized route %q", choice))
		return StateFinalAnswer
	}
}

// specialist runs one reasoning call with tool definitions bound. Tool
// calls move to execution; a plain answer is recorded as a draft and
// control returns to the supervisor.
func (e *Engine) specialist(ctx context.Context, s *session, state State) State {
	messages := append([]llm.Message{
		{Role: "system", Content: personaPrompts[state]},
	}, s.history...)

	resp, err := e.chatWithRetry(ctx, llm.Request{
		Messages: messages,
		Tools:    e.registry.Definitions(),
	})
	if err != nil {
		s.note("reasoning unavailable")
		s.step(state, StateFinalAnswer, "specialist call failed")
		return StateFinalAnswer
	}

	if len(resp.ToolCalls) > 0 {
		s.pendingCalls = resp.ToolCalls
		s.history = append(s.history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		s.step(state, StateToolExecution, fmt.Sprintf("%d tool calls", len(resp.ToolCalls)))
		return StateToolExecution
	}

	if draft := strings.TrimSpace(resp.Content); draft != "" {
		s.history = append(s.history, llm.Message{Role: "assistant", Content: draft})
		s.observations = append(s.observations, fmt.Sprintf("[%s] %s", state, draft))
	}
	s.step(state, StateSupervisor, "draft answer")
	return StateSupervisor
}

// executeTools invokes each pending call through the registry. A failed
// tool contributes a negative observation instead of aborting the turn.
func (e *Engine) executeTools(ctx context.Context, s *session) State {
	calls := s.pendingCalls
	s.pendingCalls = nil

	for _, call := range calls {
		inv := e.registry.Invoke(ctx, call)
		obs := inv.Observation()
		s.observations = append(s.observations, obs)
		s.history = append(s.history, llm.Message{
			Role:       "tool",
			Content:    obs,
			ToolCallID: call.ID,
		})
	}

	s.step(StateToolExecution, StateSupervisor, fmt.Sprintf("%d observations", len(calls)))
	return StateSupervisor
}

// finalAnswer synthesizes the user-facing reply. Two reasoning failures in
// a row fall back to a canned uncertainty reply; the result is never empty.
func (e *Engine) finalAnswer(ctx context.Context, s *session) string {
	s.step(StateFinalAnswer, StateFinalAnswer, "synthesis")

	resp, err := e.chatWithRetry(ctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: e.synthesisPrompt(s)}},
	})
	if err != nil {
		e.logger.Warn("final synthesis failed, using fallback reply", "error", err)
		return fallbackReply
	}
	if reply := strings.TrimSpace(resp.Content); reply != "" {
		return reply
	}
	return fallbackReply
}

// chatWithRetry performs one reasoning call with at most one retry. The
// retry waits for the backend's Retry-After hint when present.
func (e *Engine) chatWithRetry(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := e.backend.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}

	kind := llm.Classify(err)
	if !kind.Retryable() {
		return nil, err
	}

	delay := e.retryDelay
	var apierr *llm.APIError
	if errors.As(err, &apierr) && apierr.RetryAfterSec > 0 {
		hinted := time.Duration(apierr.RetryAfterSec) * time.Second
		if hinted > delay && hinted <= 10*time.Second {
			delay = hinted
		}
	}

	e.logger.Warn("reasoning call failed, retrying once",
		"kind", kind.String(), "delay", delay, "error", err)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.backend.Chat(ctx, req)
}
