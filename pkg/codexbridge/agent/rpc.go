package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxLineBytes bounds one JSON-RPC line on stdout. Large agent messages
// arrive as deltas, so a single line staying under this is a protocol
// expectation, not a guess.
const maxLineBytes = 1024 * 1024

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// notifyFunc handles a server-to-client notification.
type notifyFunc func(method string, params json.RawMessage)

// rpcClient speaks newline-delimited JSON-RPC 2.0 over a child process's
// stdio. One goroutine owns the read loop; calls are safe from any
// goroutine.
type rpcClient struct {
	logger *slog.Logger
	notify notifyFunc

	mu      sync.Mutex
	w       io.Writer
	nextID  int64
	pending map[int64]chan rpcReply
	closed  bool
	reason  error
}

func newRPCClient(w io.Writer, notify notifyFunc, logger *slog.Logger) *rpcClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &rpcClient{
		logger:  logger,
		notify:  notify,
		w:       w,
		pending: map[int64]chan rpcReply{},
	}
}

// call sends a request and waits for its response or ctx cancellation.
func (c *rpcClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		err := c.reason
		c.mu.Unlock()
		if err == nil {
			err = errors.New("rpc connection closed")
		}
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcReply, 1)
	c.pending[id] = ch
	err := c.writeLocked(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case reply := <-ch:
		if reply.err != nil {
			return nil, fmt.Errorf("%s: %w", method, reply.err)
		}
		return reply.result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// post sends a notification, expecting no response.
func (c *rpcClient) post(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("rpc connection closed")
	}
	return c.writeLocked(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *rpcClient) writeLocked(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.w.Write(append(data, '\n'))
	return err
}

// readLoop consumes stdout until EOF. Non-JSON lines are ignored; the
// binary is free to print banners or warnings between frames.
func (c *rpcClient) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			if ok {
				delete(c.pending, *msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				continue
			}
			if msg.Error != nil {
				ch <- rpcReply{err: errors.New(msg.Error.Message)}
			} else {
				ch <- rpcReply{result: msg.Result}
			}
			continue
		}
		if msg.Method != "" && c.notify != nil {
			c.notify(msg.Method, msg.Params)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.fail(fmt.Errorf("rpc stream ended: %w", err))
}

// fail rejects all pending calls and refuses new ones.
func (c *rpcClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.reason = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- rpcReply{err: err}
	}
}
