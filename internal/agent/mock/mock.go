// Package mock provides a scripted [agent.Decider] for use in unit tests.
//
// The mock is safe for concurrent use, records every request, and replays a
// script of decisions in order.
//
// Example:
//
//	d := &mock.Decider{Script: []mock.Step{
//	    {Decision: agent.Decision{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "get_legislators", Arguments: `{}`}}}},
//	    {Deltas: []string{"共有", " 113 位"}},
//	}}
//	a, _ := agent.New(d, host)
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/lybot/internal/agent"
)

// ErrScriptExhausted is returned once every scripted step was used and no
// Fallback is set.
var ErrScriptExhausted = errors.New("mock decider: script exhausted")

// Step is one scripted decision.
type Step struct {
	// Deltas are passed to OnDelta in order. When Decision.Content is empty
	// it is set to their concatenation.
	Deltas []string

	// Decision is returned as is, apart from the Content default above.
	Decision agent.Decision

	// Err, when non-nil, is returned after the deltas were emitted.
	Err error

	// Block makes the step wait for ctx cancellation and return its error.
	Block bool
}

// Decider is a mock implementation of [agent.Decider].
type Decider struct {
	mu sync.Mutex

	// Script holds the steps replayed by successive Decide calls.
	Script []Step

	// Fallback, when non-nil, is used once Script is exhausted.
	Fallback *Step

	// Requests records every DecideRequest in order.
	Requests []agent.DecideRequest
}

// Decide implements [agent.Decider].
func (d *Decider) Decide(ctx context.Context, req agent.DecideRequest) (agent.Decision, error) {
	d.mu.Lock()
	n := len(d.Requests)
	d.Requests = append(d.Requests, req)
	var step Step
	switch {
	case n < len(d.Script):
		step = d.Script[n]
	case d.Fallback != nil:
		step = *d.Fallback
	default:
		d.mu.Unlock()
		return agent.Decision{}, ErrScriptExhausted
	}
	d.mu.Unlock()

	for _, delta := range step.Deltas {
		if req.OnDelta != nil {
			req.OnDelta(delta)
		}
	}
	if step.Block {
		<-ctx.Done()
		return agent.Decision{}, ctx.Err()
	}
	if step.Err != nil {
		return agent.Decision{}, step.Err
	}
	dec := step.Decision
	if dec.Content == "" {
		dec.Content = strings.Join(step.Deltas, "")
	}
	return dec, nil
}

// CallCount returns how many times Decide was called.
func (d *Decider) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// Request returns the i-th recorded request.
func (d *Decider) Request(i int) agent.DecideRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Requests[i]
}

// Ensure Decider satisfies the interface at compile time.
var _ agent.Decider = (*Decider)(nil)
