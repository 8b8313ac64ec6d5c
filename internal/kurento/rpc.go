package kurento

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groupcast/groupcast/internal/media"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      uint64         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`

	// Server-initiated notifications.
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("media server error %d: %s", e.Code, e.Message)
}

// rpcResult is the shape shared by create/invoke/subscribe results.
type rpcResult struct {
	Value     string `json:"value"`
	SessionID string `json:"sessionId"`
}

type onEventParams struct {
	Value struct {
		Type   string `json:"type"`
		Object string `json:"object"`
		Data   struct {
			Candidate media.ICECandidate `json:"candidate"`
			Source    string             `json:"source"`
		} `json:"data"`
	} `json:"value"`
}

// call performs one JSON-RPC round trip. The session id negotiated on the
// first call is attached to every later request, as the server requires.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (rpcResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rpcResult{}, ErrClosed
	}
	c.nextID++
	id := c.nextID
	if c.sessionID != "" {
		params["sessionId"] = c.sessionID
	}
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.rpcTimeout))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return rpcResult{}, fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return rpcResult{}, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return rpcResult{}, ErrClosed
	case resp := <-ch:
		if resp.Error != nil {
			return rpcResult{}, fmt.Errorf("%s: %w", method, resp.Error)
		}
		var result rpcResult
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				return rpcResult{}, fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		if result.SessionID != "" {
			c.mu.Lock()
			c.sessionID = result.SessionID
			c.mu.Unlock()
		}
		return result, nil
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop dispatches responses to waiting calls and server events to
// candidate subscribers until the connection dies.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if !closed {
					c.log.Warn("media server connection lost", "err", err)
				}
			}
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn("undecodable media server message", "err", err)
			continue
		}

		if resp.Method == "onEvent" {
			c.dispatchEvent(resp.Params)
			continue
		}
		if resp.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) dispatchEvent(raw json.RawMessage) {
	var ev onEventParams
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("undecodable media server event", "err", err)
		return
	}
	if ev.Value.Type != "IceCandidateFound" {
		return
	}
	objectID := ev.Value.Object
	if objectID == "" {
		objectID = ev.Value.Data.Source
	}

	c.mu.Lock()
	handlers := make([]func(media.ICECandidate), 0, len(c.handlers[objectID]))
	for _, fn := range c.handlers[objectID] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(ev.Value.Data.Candidate)
	}
}
