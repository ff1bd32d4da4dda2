package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gorilla/websocket"
)

// DefaultRequestTimeout bounds one request when OpenOptions.RequestTimeout
// is zero.
const DefaultRequestTimeout = 30 * time.Second

func init() {
	capture.Register(capture.SchemeRemote, Dial)
}

// URL returns the WebSocket URL for address. Addresses with a ws:// or
// wss:// scheme are used as given; host:port gets Path appended. An empty
// address means capture.DefaultRemoteAddress.
func URL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	if address == "" {
		address = capture.DefaultRemoteAddress
	}
	return "ws://" + address + Path
}

// Client is a capture.Session backed by a WebSocket connection to a Server.
//
// The connection carries one request at a time; concurrent calls queue on
// a mutex. A transport failure or an expired request deadline breaks the
// client: that call and every later one fail with
// capture.ErrSessionUnavailable. Cancelling a call's context abandons the
// connection, and the next call dials a fresh one.
type Client struct {
	conn    *websocket.Conn
	dialer  websocket.Dialer
	url     string
	timeout time.Duration

	mu     sync.Mutex
	nextID uint64
	broken error
	closed bool
}

// Dial connects to the capture server at address.
func Dial(ctx context.Context, address string, opts capture.OpenOptions) (capture.Session, error) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		dialer: websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: timeout,
		},
		url:     URL(address),
		timeout: timeout,
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials c.url. The caller holds c.mu or owns c exclusively.
func (c *Client) connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return capture.Unavailable("dial "+c.url, err)
	}
	c.conn = conn
	capture.Logger().Info("remote: connected", "url", c.url)
	return nil
}

// fail breaks the client. The caller holds c.mu.
func (c *Client) fail(method string, err error) error {
	c.broken = capture.Unavailable("remote "+method, err)
	c.conn.Close()
	capture.Logger().Warn("remote: connection lost", "url", c.url, "err", err)
	return c.broken
}

// abandon drops a connection whose read was interrupted. The caller holds
// c.mu.
func (c *Client) abandon(method string) {
	c.conn.Close()
	c.conn = nil
	capture.Logger().Debug("remote: call cancelled, connection dropped", "url", c.url, "method", method)
}

// interrupt sets conn's read deadline to the past once ctx is done. The
// returned stop waits for a running interrupt to finish.
func interrupt(ctx context.Context, conn *websocket.Conn) (stop func()) {
	fired := make(chan struct{})
	cancel := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
		close(fired)
	})
	return func() {
		if !cancel() {
			<-fired
		}
	}
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return capture.NewReadError(req.Method, req.Event, capture.ErrSessionClosed)
	}
	if c.broken != nil {
		return c.broken
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.broken = err
			return err
		}
	}

	c.nextID++
	req.ID = c.nextID

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.fail(req.Method, err)
	}
	if err := c.conn.WriteJSON(&req); err != nil {
		return c.fail(req.Method, err)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return c.fail(req.Method, err)
	}

	stop := interrupt(ctx, c.conn)
	var resp Response
	for {
		resp = Response{}
		if err := c.conn.ReadJSON(&resp); err != nil {
			stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.abandon(req.Method)
				return ctxErr
			}
			return c.fail(req.Method, err)
		}
		if resp.ID == req.ID {
			break
		}
		capture.Logger().Debug("remote: dropped stale response", "id", resp.ID, "want", req.ID)
	}
	stop()

	if err := ctx.Err(); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error.decode(&req)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return capture.NewReadError(req.Method, req.Event, fmt.Errorf("decode %s result: %w", req.Method, err))
	}
	return nil
}

func stageRequest(method string, event capture.EventID, stage capture.ShaderStage) Request {
	return Request{Method: method, Event: event, Stage: &stage}
}

func (c *Client) RootActions(ctx context.Context) ([]capture.Action, error) {
	var out []capture.Action
	if err := c.call(ctx, Request{Method: MethodActions}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PipelineState(ctx context.Context, event capture.EventID) (capture.PipelineState, error) {
	var out capture.PipelineState
	err := c.call(ctx, Request{Method: MethodPipeline, Event: event}, &out)
	return out, err
}

func (c *Client) Reflection(ctx context.Context, event capture.EventID, stage capture.ShaderStage) (*capture.Reflection, error) {
	var out capture.Reflection
	if err := c.call(ctx, stageRequest(MethodReflection, event, stage), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Bindpoints(ctx context.Context, event capture.EventID, stage capture.ShaderStage) ([]capture.BindpointSlot, error) {
	var out []capture.BindpointSlot
	if err := c.call(ctx, stageRequest(MethodBindpoints, event, stage), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VertexInputs(ctx context.Context, event capture.EventID) ([]capture.VertexInputAttribute, error) {
	var out []capture.VertexInputAttribute
	if err := c.call(ctx, Request{Method: MethodInputs, Event: event}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Resources(ctx context.Context) (*capture.Inventory, error) {
	var out capture.Inventory
	if err := c.call(ctx, Request{Method: MethodResources}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close sends a close frame and closes the connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.broken != nil || c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
