// Package agent runs the research loop that answers a user turn: the model
// decides, requested tools run through the [mcp.Host], their results are fed
// back and the model decides again until it produces a final answer or the
// iteration bound is reached.
//
// The model sits behind the [Decider] interface so the loop can be driven by a
// scripted decider in tests; [NewLLMDecider] adapts any [llm.Provider].
//
// Turn progress is reported through a [Sink] as it happens:
//
//	res, err := a.Run(ctx, agent.Request{Messages: history}, func(ev agent.Event) {
//	    switch ev.Kind {
//	    case agent.EventContent:    // stream ev.Content
//	    case agent.EventToolCall:   // announce ev.ToolCall
//	    case agent.EventToolResult: // show ev.Content for ev.ToolCall.ID
//	    }
//	})
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybot/internal/mcp"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	// DefaultMaxIterations bounds the decide → tools rounds of one turn.
	DefaultMaxIterations = 8

	// DefaultMaxParallelTools bounds concurrent tool calls of one decision.
	DefaultMaxParallelTools = 4

	// ApologyText is shown to the user when the model provider fails.
	ApologyText = "抱歉，目前無法連線到語言模型服務，請稍後再試。"

	// iterationLimitText ends a turn that reached the iteration bound.
	iterationLimitText = "抱歉，這個問題需要的查詢步驟超過上限，請試著縮小問題範圍後再問一次。"
)

// ErrMaxIterations is logged when a turn stops at the iteration bound.
var ErrMaxIterations = errors.New("agent: maximum iterations exceeded")

// ModelProviderError wraps a failure of the model provider. The turn cannot
// continue and nothing of it is committed.
type ModelProviderError struct {
	Err error
}

func (e *ModelProviderError) Error() string {
	return "agent: model provider: " + e.Err.Error()
}

func (e *ModelProviderError) Unwrap() error { return e.Err }

// ---- events ----

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventContent carries an assistant content delta in Content.
	EventContent EventKind = iota

	// EventToolCall announces a complete tool call in ToolCall. All calls of a
	// decision are announced before any of them runs.
	EventToolCall

	// EventToolResult carries the result text of ToolCall in Content. Results
	// are emitted in call order after every call of the decision finished.
	EventToolResult
)

// Event reports turn progress.
type Event struct {
	Kind     EventKind
	Content  string
	ToolCall llm.ToolCall

	// IsError is set on tool results that describe a failure.
	IsError bool
}

// Sink receives the events of a turn. It is called sequentially and must not
// block for long.
type Sink func(Event)

// ---- agent ----

// Request is the input of a single turn.
type Request struct {
	// Messages is the effective history ending with the user message.
	Messages []llm.Message

	// Temperature overrides the agent default when non-zero.
	Temperature float64

	// MaxTokens caps each completion. Zero means provider default.
	MaxTokens int
}

// Result is the outcome of a completed turn.
type Result struct {
	// Messages are the messages the turn produced, in order: assistant
	// messages with tool calls, tool messages and the final assistant message.
	Messages []llm.Message

	// Content is all assistant text emitted during the turn, which equals
	// the concatenation of every EventContent delta.
	Content string

	// ToolCalls lists every tool call issued during the turn.
	ToolCalls []llm.ToolCall

	// Iterations is the number of decisions made.
	Iterations int

	Usage llm.Usage
}

// FinishReason is "tool_calls" when any tool was called, "stop" otherwise.
func (r *Result) FinishReason() string {
	if len(r.ToolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// Agent binds a system prompt, a decider and a tool registry.
// It holds no per-conversation state and is safe for concurrent use.
type Agent struct {
	decider       Decider
	host          mcp.Host
	systemPrompt  string
	temperature   float64
	maxIterations int
	maxParallel   int
	metrics       *observe.Metrics
}

// Option configures an [Agent].
type Option func(*Agent)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(p string) Option {
	return func(a *Agent) {
		if p != "" {
			a.systemPrompt = p
		}
	}
}

// WithTemperature sets the sampling temperature used when a request carries
// none.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxIterations bounds the decisions per turn.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithMaxParallelTools bounds concurrent tool calls per decision.
func WithMaxParallelTools(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxParallel = n
		}
	}
}

// WithMetrics records turn durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an Agent. Both decider and host are required.
func New(decider Decider, host mcp.Host, opts ...Option) (*Agent, error) {
	if decider == nil {
		return nil, errors.New("agent: decider must not be nil")
	}
	if host == nil {
		return nil, errors.New("agent: tool host must not be nil")
	}
	a := &Agent{
		decider:       decider,
		host:          host,
		systemPrompt:  SystemPrompt(0),
		maxIterations: DefaultMaxIterations,
		maxParallel:   DefaultMaxParallelTools,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Tools returns the definitions offered to the model.
func (a *Agent) Tools() []llm.ToolDefinition { return a.host.Tools() }

// Run executes one turn. sink may be nil.
//
// On success the returned Result holds every message the turn produced; the
// caller commits them to the transcript. Decider failures are returned as
// *[ModelProviderError]; cancellation of ctx returns the context error. In
// both cases the turn produced nothing worth committing.
func (a *Agent) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(Event) {}
	}
	ctx, span := observe.StartSpan(ctx, "agent.turn")
	start := time.Now()

	res, err := a.run(ctx, req, sink)

	status := "ok"
	var mpe *ModelProviderError
	switch {
	case errors.As(err, &mpe):
		status = "provider_error"
	case err != nil:
		status = "cancelled"
	}
	a.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	observe.EndSpan(span, err)
	return res, err
}

func (a *Agent) run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	log := observe.Logger(ctx)
	temperature := req.Temperature
	if temperature == 0 {
		temperature = a.temperature
	}

	msgs := slices.Clone(req.Messages)
	tools := a.host.Tools()
	res := &Result{}
	var content strings.Builder

	emit := func(ev Event) {
		if ev.Kind == EventContent {
			content.WriteString(ev.Content)
		}
		sink(ev)
	}

	for res.Iterations < a.maxIterations {
		res.Iterations++
		dec, err := a.decider.Decide(ctx, DecideRequest{
			SystemPrompt: a.systemPrompt,
			Messages:     msgs,
			Tools:        tools,
			Temperature:  temperature,
			MaxTokens:    req.MaxTokens,
			OnDelta: func(delta string) {
				if delta != "" {
					emit(Event{Kind: EventContent, Content: delta})
				}
			},
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent: %w", ctxErr)
		}
		if err != nil {
			log.Error("model decision failed", "iteration", res.Iterations, "err", err)
			return nil, &ModelProviderError{Err: err}
		}
		addUsage(&res.Usage, dec.Usage)

		if len(dec.ToolCalls) == 0 {
			final := llm.Message{Role: llm.RoleAssistant, Content: dec.Content}
			res.Messages = append(res.Messages, final)
			res.Content = content.String()
			return res, nil
		}

		calls := assignIDs(dec.ToolCalls)
		assistant := llm.Message{Role: llm.RoleAssistant, Content: dec.Content, ToolCalls: calls}
		msgs = append(msgs, assistant)
		res.Messages = append(res.Messages, assistant)
		res.ToolCalls = append(res.ToolCalls, calls...)
		for _, tc := range calls {
			log.Info("tool call", "tool", tc.Name, "id", tc.ID)
			emit(Event{Kind: EventToolCall, ToolCall: tc})
		}

		outcomes := a.runTools(ctx, calls)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent: %w", ctxErr)
		}
		for i, tc := range calls {
			out := outcomes[i]
			toolMsg := llm.Message{
				Role:       llm.RoleTool,
				Content:    out.content,
				Name:       tc.Name,
				ToolCallID: tc.ID,
			}
			msgs = append(msgs, toolMsg)
			res.Messages = append(res.Messages, toolMsg)
			emit(Event{Kind: EventToolResult, ToolCall: tc, Content: out.content, IsError: out.isError})
		}
	}

	log.Warn("turn stopped", "err", ErrMaxIterations, "iterations", a.maxIterations)
	emit(Event{Kind: EventContent, Content: iterationLimitText})
	res.Messages = append(res.Messages, llm.Message{Role: llm.RoleAssistant, Content: iterationLimitText})
	res.Content = content.String()
	return res, nil
}

// ---- tools ----

type toolOutcome struct {
	content string
	isError bool
}

// runTools executes calls concurrently, bounded by maxParallel. Failures of
// any kind become error outcomes; the slice is in call order.
func (a *Agent) runTools(ctx context.Context, calls []llm.ToolCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	var g errgroup.Group
	g.SetLimit(a.maxParallel)
	for i, tc := range calls {
		g.Go(func() error {
			outcomes[i] = a.runTool(ctx, tc)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (a *Agent) runTool(ctx context.Context, tc llm.ToolCall) toolOutcome {
	res, err := a.host.ExecuteTool(ctx, tc.Name, tc.Arguments)
	if err != nil {
		if errors.Is(err, mcp.ErrToolNotFound) {
			return errorOutcome(fmt.Sprintf("unknown tool %q", tc.Name))
		}
		return errorOutcome(err.Error())
	}
	if res.IsError {
		observe.Logger(ctx).Warn("tool failed", "tool", tc.Name, "detail", res.Content)
		return errorOutcome(res.Content)
	}
	return toolOutcome{content: res.Content}
}

// errorOutcome encodes msg as {"error": msg} so the model sees a structured
// failure it can react to.
func errorOutcome(msg string) toolOutcome {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return toolOutcome{content: string(data), isError: true}
}

// assignIDs returns calls with a generated id for every call the model left
// without one. Tool messages reference calls by id, so it must be unique.
func assignIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := slices.Clone(calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		}
	}
	return out
}

func addUsage(dst *llm.Usage, u llm.Usage) {
	dst.PromptTokens += u.PromptTokens
	dst.CompletionTokens += u.CompletionTokens
	dst.TotalTokens += u.TotalTokens
}
