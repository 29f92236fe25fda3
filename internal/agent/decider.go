package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// DecideRequest is the input of one model decision.
type DecideRequest struct {
	SystemPrompt string
	Messages     []llm.Message
	Tools        []llm.ToolDefinition
	Temperature  float64
	MaxTokens    int

	// OnDelta, when set, receives assistant content as it is generated. It is
	// called from the goroutine running Decide.
	OnDelta func(delta string)
}

// Decision is the model's answer: either final content, or tool calls with
// optional accompanying content.
type Decision struct {
	Content   string
	ToolCalls []llm.ToolCall
	Usage     llm.Usage
}

// Decider makes one model decision.
type Decider interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
}

// errEmptyDecision is returned when the model ends a completion with neither
// content nor tool calls.
var errEmptyDecision = errors.New("agent: model returned an empty response")

// llmDecider implements [Decider] over a streaming [llm.Provider].
type llmDecider struct {
	provider llm.Provider
	name     string
	metrics  *observe.Metrics
}

// DeciderOption configures the decider built by [NewLLMDecider].
type DeciderOption func(*llmDecider)

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) DeciderOption {
	return func(d *llmDecider) { d.name = name }
}

// WithDeciderMetrics records model latency and outcomes on m.
func WithDeciderMetrics(m *observe.Metrics) DeciderOption {
	return func(d *llmDecider) { d.metrics = m }
}

// NewLLMDecider returns a Decider that streams completions from p.
func NewLLMDecider(p llm.Provider, opts ...DeciderOption) Decider {
	d := &llmDecider{provider: p, name: "llm"}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

func (d *llmDecider) Decide(ctx context.Context, req DecideRequest) (Decision, error) {
	ctx, span := observe.StartSpan(ctx, "llm.decide")
	start := time.Now()

	dec, err := d.decide(ctx, req)

	d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", d.name)))
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, d.name, "error")
		if ctx.Err() == nil {
			d.metrics.RecordProviderError(ctx, d.name, errorKind(err))
		}
	} else {
		d.metrics.RecordProviderRequest(ctx, d.name, "ok")
	}
	observe.EndSpan(span, err)
	return dec, err
}

func (d *llmDecider) decide(ctx context.Context, req DecideRequest) (Decision, error) {
	ch, err := d.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     req.Messages,
		Tools:        req.Tools,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("agent: start completion: %w", err)
	}

	var (
		dec Decision
		sb  strings.Builder
	)
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			for range ch {
			}
			return Decision{}, fmt.Errorf("agent: completion stream: %s", chunk.Text)
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if req.OnDelta != nil {
				req.OnDelta(chunk.Text)
			}
		}
		dec.ToolCalls = append(dec.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			dec.Usage = *chunk.Usage
		}
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	dec.Content = sb.String()
	if dec.Content == "" && len(dec.ToolCalls) == 0 {
		return Decision{}, errEmptyDecision
	}
	return dec, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errEmptyDecision):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "stream"
	}
}
