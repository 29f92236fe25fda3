package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// WSPath is the relay's WebSocket streaming endpoint.
const WSPath = "/v1/chat/ws"

// WithWebSocket makes [Client.Chat] stream over the WebSocket endpoint
// instead of SSE. Fallback still uses a plain HTTP request.
func WithWebSocket() Option {
	return func(c *Client) { c.ws = true }
}

// StreamWS sends req over a WebSocket and calls fn for every chunk.
//
// The client writes the request as one text message. The server answers with
// one text message per chunk, then a message containing [DONE], then closes
// normally. Error semantics match [Client.Stream].
func (c *Client) StreamWS(ctx context.Context, req ChatCompletionRequest, fn func(*StreamResponse) error) error {
	req.Stream = true
	hdr := http.Header{}
	if c.apiKey != "" {
		hdr.Set("Authorization", "Bearer "+c.apiKey)
	}
	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPHeader: hdr,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chatapi: dial: %w", ctx.Err())
		}
		return &StreamTransportError{Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("chatapi: encode request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &StreamTransportError{Err: fmt.Errorf("write: %w", err)}
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("chatapi: stream: %w", ctx.Err())
			}
			return &StreamTransportError{Err: fmt.Errorf("read: %w", err)}
		}
		if strings.TrimSpace(string(msg)) == DoneSentinel {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
		var chunk StreamResponse
		if err := json.Unmarshal(msg, &chunk); err != nil {
			if c.onSkip != nil {
				c.onSkip(&StreamDecodeError{Payload: string(msg), Err: err})
			}
			continue
		}
		if chunk.Error != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return &APIError{Body: *chunk.Error}
		}
		if err := fn(&chunk); err != nil {
			conn.Close(websocket.StatusNormalClosure, "client stopped")
			return err
		}
	}
}

func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + WSPath
}
