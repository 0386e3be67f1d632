package daemon

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingCall is one in-flight request awaiting its correlated response.
// The done channel is buffered so resolution never blocks the read loop.
type pendingCall struct {
	op   string
	done chan callResult
}

type callResult struct {
	data json.RawMessage
	err  error
}

// Client multiplexes request/response exchanges over a single Transport
// stream. Requests self-identify with a correlation token, so any number
// of calls may be outstanding concurrently and responses may arrive in
// any order.
type Client struct {
	transport *Transport
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall
}

func NewClient(transport *Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		transport: transport,
		timeout:   timeout,
		pending:   make(map[string]*pendingCall),
	}
	transport.SetFrameHandler(c.handleFrame)
	transport.OnStateChange(func(state State, err error) {
		if state == StateDisconnected {
			c.failAllPending(ErrClientDisconnected)
		}
	})
	return c
}

func (c *Client) IsConnected() bool { return c.transport.IsConnected() }

// Call issues one operation and waits for its correlated response. It
// fails immediately with ErrNotConnected when there is no live stream,
// and with ErrRequestTimeout when the client's default deadline elapses.
// A tighter deadline can be set through ctx.
func (c *Client) Call(ctx context.Context, operation string, args interface{}) (json.RawMessage, error) {
	if !c.transport.IsConnected() {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	call := &pendingCall{
		op:   operation,
		done: make(chan callResult, 1),
	}

	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()

	frame, err := json.Marshal(request{
		Operation: operation,
		Args:      args,
		RequestID: id,
	})
	if err != nil {
		c.take(id)
		return nil, err
	}

	if err := c.transport.WriteFrame(frame); err != nil {
		// The disconnect sweep may have resolved the call already; take
		// removes it if not so a late response is discarded.
		c.take(id)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		return res.data, res.err
	case <-timer.C:
		if c.take(id) != nil {
			log.Printf("[daemon] %s timed out (request_id=%s)", operation, id)
		}
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.take(id)
		return nil, ctx.Err()
	}
}

// take removes and returns the pending call for id, or nil when it was
// already resolved. All resolution paths go through take, which makes
// per-token resolution exactly-once.
func (c *Client) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.pending[id]
	if call != nil {
		delete(c.pending, id)
	}
	return call
}

// handleFrame parses one response frame and resolves the matching call.
// Malformed frames and responses without a matching call are logged and
// dropped; they never corrupt other exchanges.
func (c *Client) handleFrame(frame []byte) {
	var resp response
	if err := json.Unmarshal(frame, &resp); err != nil {
		log.Printf("[daemon] dropping malformed frame: %v", err)
		return
	}
	if resp.RequestID == "" {
		log.Printf("[daemon] dropping response without request_id")
		return
	}

	call := c.take(resp.RequestID)
	if call == nil {
		// Likely a response to a call that timed out or was cancelled.
		log.Printf("[daemon] discarding response for unknown request_id=%s", resp.RequestID)
		return
	}

	if !resp.Success {
		call.done <- callResult{err: &RemoteError{Op: call.op, Msg: resp.Error}}
		return
	}
	call.done <- callResult{data: resp.Data}
}

// failAllPending resolves every outstanding call with err in one sweep.
func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		call.done <- callResult{err: err}
	}
	if len(pending) > 0 {
		log.Printf("[daemon] failed %d in-flight requests: %v", len(pending), err)
	}
}
