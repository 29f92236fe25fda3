package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/lybot/internal/agent"
	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/internal/session"
	"github.com/MrWong99/lybot/pkg/chatapi"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

// ---- in-process ----

// localBackend runs the agent directly and keeps the transcript in a
// session store.
type localBackend struct {
	agent     *agent.Agent
	sessions  *session.Store
	sessionID string
}

func (b *localBackend) ask(ctx context.Context, question string, out io.Writer) error {
	lease, err := b.sessions.Acquire(ctx, b.sessionID)
	if err != nil {
		return err
	}
	defer lease.Release()

	user := llm.Message{Role: llm.RoleUser, Content: question}
	res, err := b.agent.Run(ctx, agent.Request{Messages: lease.History(user)}, func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventContent:
			fmt.Fprint(out, ev.Content)
		case agent.EventToolCall:
			fmt.Fprint(out, toolLine(ev.ToolCall.Name, ev.ToolCall.Arguments))
		}
	})
	var mpe *agent.ModelProviderError
	if errors.As(err, &mpe) {
		observe.Logger(ctx).Debug("model provider failed", "err", err)
		fmt.Fprintln(out, agent.ApologyText)
		return nil
	}
	if err != nil {
		return err
	}
	lease.Commit(append([]llm.Message{user}, res.Messages...)...)
	return nil
}

func (b *localBackend) clear(context.Context) error {
	b.sessions.Clear(b.sessionID)
	return nil
}

// ---- remote ----

// remoteBackend talks to a running relay. The relay keeps the transcript, so
// only the new question is sent.
type remoteBackend struct {
	client    *chatapi.Client
	sessionID string
	model     string
}

// newRemoteBackend builds a relay client that reports fallbacks and dropped
// frames on m.
func newRemoteBackend(baseURL, apiKey, sessionID, model string, ws bool, m *observe.Metrics) *remoteBackend {
	opts := []chatapi.Option{
		chatapi.WithOnFallback(func(err error) {
			m.StreamFallbacks.Add(context.Background(), 1)
			observe.Logger(context.Background()).Debug("stream failed, retrying without streaming", "err", err)
		}),
		chatapi.WithOnSkip(func(e *chatapi.StreamDecodeError) {
			m.StreamSkippedFrames.Add(context.Background(), 1)
			observe.Logger(context.Background()).Debug("skipped malformed frame", "err", e)
		}),
	}
	if apiKey != "" {
		opts = append(opts, chatapi.WithAPIKey(apiKey))
	}
	if ws {
		opts = append(opts, chatapi.WithWebSocket())
	}
	return &remoteBackend{
		client:    chatapi.New(baseURL, opts...),
		sessionID: sessionID,
		model:     model,
	}
}

func (b *remoteBackend) ask(ctx context.Context, question string, out io.Writer) error {
	req := chatapi.ChatCompletionRequest{
		Model:    b.model,
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: question}},
		User:     b.sessionID,
	}
	printed := false
	reply, err := b.client.Chat(ctx, req, func(chunk *chatapi.StreamResponse) {
		for _, ch := range chunk.Choices {
			for _, tc := range ch.Delta.ToolCalls {
				if tc.Function.Name != "" {
					fmt.Fprint(out, toolLine(tc.Function.Name, tc.Function.Arguments))
				}
			}
			if ch.Delta.Role != chatapi.RoleTool && ch.Delta.Content != "" {
				fmt.Fprint(out, ch.Delta.Content)
				printed = true
			}
		}
	})
	if err != nil {
		return err
	}
	if reply.Fallback {
		if printed {
			fmt.Fprintln(out, "\n（串流中斷，以下為完整回覆）")
		}
		fmt.Fprint(out, reply.Message.Content)
	}
	return nil
}

func (b *remoteBackend) clear(ctx context.Context) error {
	_, err := b.client.ClearSession(ctx, b.sessionID)
	return err
}
