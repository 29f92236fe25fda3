package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 64 << 10
)

// ---- errors ----

// APIError is a structured error returned by the relay, either as an HTTP
// error response or as an error frame inside a stream.
type APIError struct {
	StatusCode int
	Body       ErrorBody
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("chatapi: %d %s: %s", e.StatusCode, e.Body.Type, e.Body.Message)
	}
	return fmt.Sprintf("chatapi: %s: %s", e.Body.Type, e.Body.Message)
}

// StreamTransportError means the stream connection failed or ended without
// the [DONE] sentinel.
type StreamTransportError struct {
	Err error
}

func (e *StreamTransportError) Error() string {
	return "chatapi: stream transport: " + e.Err.Error()
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// ---- options ----

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero or
// long enough for a whole streamed turn.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithOnSkip registers a hook for malformed stream frames.
func WithOnSkip(fn func(*StreamDecodeError)) Option {
	return func(c *Client) { c.onSkip = fn }
}

// WithOnFallback registers a hook called when [Client.Chat] falls back to a
// non-streaming request.
func WithOnFallback(fn func(error)) Option {
	return func(c *Client) { c.onFallback = fn }
}

// ---- client ----

// Client talks to an OpenAI-compatible chat relay. It is safe for concurrent
// use.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	onSkip     func(*StreamDecodeError)
	onFallback func(error)
	ws         bool
}

// New returns a Client for the relay at baseURL, e.g. http://localhost:8000.
// A trailing /v1 is accepted.
func New(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/v1")
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends req with stream=false.
func (c *Client) Complete(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	req.Stream = false
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("chatapi: decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("chatapi: completion without choices")
	}
	return &out, nil
}

// Stream sends req with stream=true and calls fn for every decoded chunk.
// Malformed frames are skipped. An error frame ends the stream with an
// [*APIError]; a broken connection with a [*StreamTransportError]. An error
// returned by fn stops the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, req ChatCompletionRequest, fn func(*StreamResponse) error) error {
	req.Stream = true
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return err
		}
		return &StreamTransportError{Err: err}
	}
	defer resp.Body.Close()

	dec := NewDecoder(resp.Body, c.onSkip)
	for {
		chunk, err := dec.Next()
		if errors.Is(err, ErrStreamDone) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("chatapi: stream: %w", ctx.Err())
			}
			return &StreamTransportError{Err: err}
		}
		if chunk.Error != nil {
			return &APIError{Body: *chunk.Error}
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

// Reply is an assistant turn assembled by [Client.Chat].
type Reply struct {
	Message      Message
	ToolResults  []ToolResult
	FinishReason string

	// Fallback is true when the stream failed and Message comes from a
	// non-streaming request.
	Fallback bool
}

// Chat streams req, passing every chunk to onChunk (which may be nil), and
// returns the assembled turn. If the stream transport fails, the partial turn
// is discarded and the request is repeated once with stream=false.
func (c *Client) Chat(ctx context.Context, req ChatCompletionRequest, onChunk func(*StreamResponse)) (*Reply, error) {
	stream := c.Stream
	if c.ws {
		stream = c.StreamWS
	}
	acc := NewAccumulator()
	err := stream(ctx, req, func(chunk *StreamResponse) error {
		if err := acc.Add(chunk); err != nil {
			return err
		}
		if onChunk != nil {
			onChunk(chunk)
		}
		return nil
	})

	var transportErr *StreamTransportError
	switch {
	case err == nil:
		return &Reply{
			Message:      acc.Message(),
			ToolResults:  acc.ToolResults(),
			FinishReason: acc.FinishReason(),
		}, nil
	case errors.As(err, &transportErr):
		if c.onFallback != nil {
			c.onFallback(err)
		}
		resp, cerr := c.Complete(ctx, req)
		if cerr != nil {
			return nil, fmt.Errorf("chatapi: fallback after %v: %w", err, cerr)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chatapi: fallback after %v: response has no choices", err)
		}
		ch := resp.Choices[0]
		return &Reply{Message: ch.Message, FinishReason: ch.FinishReason, Fallback: true}, nil
	default:
		return nil, err
	}
}

// Models lists the models served by the relay.
func (c *Client) Models(ctx context.Context) (*ModelList, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out ModelList
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("chatapi: decode models: %w", err)
	}
	return &out, nil
}

// ClearSession drops the relay's transcript for id. An empty id clears every
// session.
func (c *Client) ClearSession(ctx context.Context, id string) (*ClearSessionResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/sessions/clear", ClearSessionRequest{SessionID: id})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out ClearSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("chatapi: decode clear: %w", err)
	}
	return &out, nil
}

// do performs a request and turns non-2xx responses into [*APIError].
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("chatapi: encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("chatapi: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatapi: %s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error.Message == "" {
		er.Error = ErrorBody{
			Message: strings.TrimSpace(string(data)),
			Type:    http.StatusText(resp.StatusCode),
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Body: er.Error}
}
