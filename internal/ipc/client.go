package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tstore/tstore-desktop/internal/constants"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/logging"
	"github.com/tstore/tstore-desktop/internal/models"
)

// ErrServer wraps every failure reported by the backend in a response.
var ErrServer = errors.New("server error")

// MaxLineSize bounds one JSON line; metadata for large libraries can be big.
const MaxLineSize = 16 * 1024 * 1024

// Client talks to the backend process. It implements gateway.Backend.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	timeout     time.Duration
	logger      *logging.Logger
}

var _ gateway.Backend = (*Client)(nil)

// NewClient creates a client for socketPath. An empty path uses the
// platform default.
func NewClient(socketPath string, logger *logging.Logger) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{
		socketPath:  socketPath,
		dialTimeout: constants.DialTimeout,
		timeout:     constants.RequestTimeout,
		logger:      logger,
	}
}

// SetTimeout sets the deadline for short request/response calls.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// SocketPath returns the address the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// connect establishes a connection to the backend.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := dial(dialCtx, c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend at %s: %w", c.socketPath, err)
	}
	return conn, nil
}

// bounded reports whether a request type gets the short deadline. Transfers
// and interactive choosers run as long as the caller allows.
func bounded(t MessageType) bool {
	switch t {
	case MsgUpload, MsgDownload, MsgOffload, MsgDelete, MsgSelectFile, MsgSelectDirectory:
		return false
	}
	return true
}

func writeRequest(conn net.Conn, req *Request) error {
	data, err := req.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func newScanner(conn net.Conn) *bufio.Scanner {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return scanner
}

// sendRequest sends a request and receives a response.
func (c *Client) sendRequest(ctx context.Context, req *Request) (*Response, error) {
	if bounded(req.Type) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock reads when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := writeRequest(conn, req); err != nil {
		return nil, err
	}

	scanner := newScanner(conn)
	if !scanner.Scan() {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", req.Type, ctx.Err())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("failed to read response: connection closed")
	}

	resp, err := DecodeResponse(scanner.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}

// call sends req and converts a failed response into an error.
func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	c.logger.Debug().Str("type", string(req.Type)).Str("name", req.Name).Msg("Sending backend request")

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, responseError(req, resp)
	}
	return resp, nil
}

func responseError(req *Request, resp *Response) error {
	if resp.Code == CodeNotFound {
		return fmt.Errorf("%s %s: %w", req.Type, req.Name, gateway.ErrNotFound)
	}
	return fmt.Errorf("%w: %s", ErrServer, resp.Error)
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, NewRequest(MsgPing))
	return err
}

func (c *Client) FetchMetadata(ctx context.Context) ([]models.FileRecord, error) {
	resp, err := c.call(ctx, NewRequest(MsgFetchMetadata))
	if err != nil {
		return nil, err
	}
	files, err := resp.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return files, nil
}

func (c *Client) Upload(ctx context.Context, path string) error {
	_, err := c.call(ctx, &Request{Type: MsgUpload, Path: path})
	return err
}

func (c *Client) Download(ctx context.Context, name string) error {
	_, err := c.call(ctx, NewNamedRequest(MsgDownload, name))
	return err
}

func (c *Client) Offload(ctx context.Context, name string) error {
	_, err := c.call(ctx, NewNamedRequest(MsgOffload, name))
	return err
}

func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.call(ctx, NewNamedRequest(MsgDelete, name))
	return err
}

func (c *Client) UpdateDescription(ctx context.Context, name, text string) error {
	_, err := c.call(ctx, &Request{Type: MsgUpdateDescription, Name: name, Description: text})
	return err
}

func (c *Client) GetConfig(ctx context.Context) (models.Config, error) {
	resp, err := c.call(ctx, NewRequest(MsgGetConfig))
	if err != nil {
		return models.Config{}, err
	}
	return resp.GetConfig()
}

func (c *Client) UpdateConfig(ctx context.Context, cfg models.Config) error {
	_, err := c.call(ctx, &Request{Type: MsgUpdateConfig, Config: &cfg})
	return err
}

func (c *Client) SelectFile(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, NewRequest(MsgSelectFile))
	if err != nil {
		return "", err
	}
	return resp.GetPath()
}

func (c *Client) SelectDirectory(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, NewRequest(MsgSelectDirectory))
	if err != nil {
		return "", err
	}
	return resp.GetPath()
}

// Events opens a long-lived subscription. The server acknowledges with OK and
// then streams Event responses until either side closes.
func (c *Client) Events(ctx context.Context) (<-chan gateway.Event, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := writeRequest(conn, NewRequest(MsgSubscribeEvents)); err != nil {
		conn.Close()
		return nil, err
	}

	scanner := newScanner(conn)
	if !scanner.Scan() {
		conn.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read subscription ack: %w", err)
		}
		return nil, fmt.Errorf("failed to read subscription ack: connection closed")
	}
	ack, err := DecodeResponse(scanner.Bytes())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to decode subscription ack: %w", err)
	}
	if !ack.Success {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrServer, ack.Error)
	}

	// Stream has no deadline
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to clear deadline: %w", err)
	}

	out := make(chan gateway.Event, 64)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()

		for scanner.Scan() {
			resp, err := DecodeResponse(scanner.Bytes())
			if err != nil {
				c.logger.Warn().Err(err).Msg("Dropping undecodable event line")
				continue
			}
			if resp.Type != MsgEvent {
				continue
			}
			ev, err := resp.GetEvent()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Dropping malformed event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("Event stream ended")
		}
	}()

	return out, nil
}
