// oreon/appshell · watchthelight <wtl>

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// defaultTimeout bounds dialing and the subscribe handshake.
const defaultTimeout = 5 * time.Second

// ErrRemote wraps an unsuccessful Response returned by the server.
var ErrRemote = errors.New("remote error")

// Client talks to a running shell over its control socket.
type Client struct {
	socketPath string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

// NewClient creates a client for socketPath. It connects lazily on first call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends one command and waits for its reply, until ctx is done. A reply
// with Success=false is returned together with an error wrapping ErrRemote.
func (c *Client) Call(ctx context.Context, command string, args interface{}) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	c.nextID++
	req := Request{
		Version: ProtocolVersion,
		ID:      strconv.Itoa(c.nextID),
		Command: command,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		req.Args = raw
	}

	// Without a ctx deadline the call waits as long as the server takes.
	conn := c.conn
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	resp, err := c.roundTrip(&req)
	if err != nil {
		c.resetLocked()
		return nil, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

func (c *Client) roundTrip(req *Request) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}

	// Skip pushed events that are not replies to this request.
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.ID == req.ID || resp.ID == "" {
			return &resp, nil
		}
	}
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: defaultTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// Subscribe opens a dedicated connection and streams pushed events until ctx
// is cancelled or the server goes away. The channel is closed on exit.
func (c *Client) Subscribe(ctx context.Context) (<-chan Response, error) {
	d := net.Dialer{Timeout: defaultTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}

	req, _ := json.Marshal(Request{Version: ProtocolVersion, ID: "sub", Command: CmdSubscribe})
	req = append(req, '\n')
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(defaultTimeout))
	if _, err := reader.ReadBytes('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	out := make(chan Response, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				continue
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drops the cached connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}
