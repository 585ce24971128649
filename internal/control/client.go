package control

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultTimeout bounds dialing and each request.
const DefaultTimeout = 5 * time.Second

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client is a control session with a running daemon.
type Client struct {
	timeout time.Duration

	// mu protects conn and nonce from concurrent access.
	mu    sync.Mutex
	conn  net.Conn
	nonce uint64
}

// Dial connects to the daemon at address and performs the handshake.
// It fails with [ErrUnavailable] when nothing is listening there.
func Dial(address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := dial(address, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, address, err)
	}
	c := newClient(conn, timeout)
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// newClient wraps an established connection without a handshake.
func newClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Send runs cmd on the daemon. A request the daemon refused is reported as
// an error wrapping [ErrRejected]; the response is returned either way.
func (c *Client) Send(cmd Command) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	c.nonce++
	req := Request{Cmd: cmd, Nonce: strconv.FormatUint(c.nonce, 10)}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteFrame(c.conn, OpRequest, payload); err != nil {
		return nil, err
	}
	resp, err := c.read()
	if err != nil {
		return nil, err
	}
	if resp.Nonce != req.Nonce {
		return nil, fmt.Errorf("response nonce %q does not match request %q", resp.Nonce, req.Nonce)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return resp, nil
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	// Best-effort goodbye before closing.
	_ = WriteFrame(c.conn, OpClose, nil)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// handshake sends the hello frame and checks the reply.
func (c *Client) handshake() error {
	payload, err := json.Marshal(hello{V: ProtocolVersion, Client: "appctl"})
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteFrame(c.conn, OpHandshake, payload); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}
	resp, err := c.read()
	if err != nil {
		return fmt.Errorf("reading handshake response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("handshake %w: %s", ErrRejected, resp.Error)
	}
	return nil
}

// read decodes one response frame.
func (c *Client) read() (*Response, error) {
	op, payload, err := DecodeFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if op != OpResponse {
		return nil, fmt.Errorf("unexpected response opcode: %d", op)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}
