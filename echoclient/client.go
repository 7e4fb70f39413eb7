// Package echoclient is the client side of the uppercase echo exchange: it
// sends one payload and reads back the server's reply.
package echoclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrResponseTooLarge is returned when the server sends more than
// MaxResponseSize bytes.
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// DialTimeout bounds connection establishment; 0 means no timeout.
	DialTimeout time.Duration
	// IOTimeout bounds the whole write-and-read phase; 0 means no timeout.
	IOTimeout time.Duration
	// MaxResponseSize caps the bytes read back; 0 means DefaultMaxResponseSize.
	MaxResponseSize int
}

// DefaultMaxResponseSize matches the server's default chunk size.
const DefaultMaxResponseSize = 1024

// DefaultConfig returns a Config for address with a 5s dial timeout, a 10s
// I/O timeout and the default response cap.
func DefaultConfig(address string) Config {
	return Config{
		Address:         address,
		DialTimeout:     5 * time.Second,
		IOTimeout:       10 * time.Second,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// Client performs exchanges against one server. It holds no connection
// between calls and is safe for concurrent use.
type Client struct {
	config Config
}

// New returns a Client for config.
func New(config Config) *Client {
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultMaxResponseSize
	}

	return &Client{config: config}
}

// Exchange dials the server, writes payload, half-closes the write side and
// reads until the server closes the connection.
//
// Parameters:
//   - ctx: Cancels the dial and, while in flight, the exchange
//   - payload: Bytes to send; not modified. May be empty.
//
// Returns:
//   - The server's reply (empty if it sent nothing)
//   - An error if dialing, writing or reading fails, or ErrResponseTooLarge
func (c *Client) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.config.Address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if c.config.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.config.IOTimeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return nil, wrapCtx(ctx, fmt.Errorf("write: %w", err))
		}
	}

	if tc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, wrapCtx(ctx, fmt.Errorf("close write: %w", err))
		}
	}

	var buf bytes.Buffer
	limit := int64(c.config.MaxResponseSize)
	n, err := io.Copy(&buf, io.LimitReader(conn, limit+1))
	if err != nil {
		return nil, wrapCtx(ctx, fmt.Errorf("read: %w", err))
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}

	return buf.Bytes(), nil
}

// wrapCtx prefers the context error when cancellation caused err.
func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	return err
}
