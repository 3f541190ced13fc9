// Package relay forwards duel events from a player's tracker to a spectator
// ("OB") server over TCP.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
)

// ClientConfig holds client timeouts.
type ClientConfig struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	KeepAlive        time.Duration
}

// DefaultClientConfig returns the production client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		KeepAlive:        15 * time.Second,
	}
}

// Client is one connection to a relay server.
type Client struct {
	conn   net.Conn
	id     string
	cfg    ClientConfig
	logger *zap.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu             sync.Mutex
	closed         bool
	onDisconnected []func()

	done chan struct{}
}

// Dial connects to addr, sends clientID and waits for the server's verdict.
func Dial(ctx context.Context, addr, clientID string, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientID, clientID)
	}

	logger = logger.Named("relay.client").With(zap.String("addr", addr))
	logger.Info("connecting to relay server")

	d := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", addr, err)
	}

	if err := handshake(conn, id.String(), cfg.HandshakeTimeout); err != nil {
		conn.Close()
		logger.Error("relay handshake failed", zap.Error(err))
		return nil, err
	}

	c := &Client{
		conn:   conn,
		id:     id.String(),
		cfg:    cfg,
		logger: logger,
		enc:    json.NewEncoder(conn),
		done:   make(chan struct{}),
	}
	c.enc.SetEscapeHTML(false)

	go c.watch()

	logger.Info("connected to relay server")
	return c, nil
}

func handshake(conn net.Conn, id string, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}
	if _, err := io.WriteString(conn, id); err != nil {
		return fmt.Errorf("failed to send client id: %w", err)
	}
	var reply [1]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if reply[0] != replyAccept {
		return ErrRejected
	}
	return nil
}

// ID returns the client id sent to the server.
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether the connection is still open.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// OnDisconnected registers fn to run once when the connection closes,
// whether by Close or by the server. Registering after the connection
// closed runs fn immediately.
func (c *Client) OnDisconnected(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onDisconnected = append(c.onDisconnected, fn)
	c.mu.Unlock()
}

// Send writes msg as one JSON line.
func (c *Client) Send(ctx context.Context, msg hook.Message) error {
	if !c.Connected() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to send %s to relay: %w", msg.Kind, err)
	}
	return nil
}

// Close ends the connection. Safe to call more than once.
func (c *Client) Close() error {
	err := c.shutdown()
	<-c.done
	return err
}

func (c *Client) shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	callbacks := c.onDisconnected
	c.onDisconnected = nil
	c.mu.Unlock()

	err := c.conn.Close()
	for _, fn := range callbacks {
		fn()
	}
	return err
}

// watch reads until the server goes away. The server never sends anything
// after the handshake, so any read result other than data means the end.
func (c *Client) watch() {
	buf := make([]byte, 256)
	for {
		_, err := c.conn.Read(buf)
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			c.logger.Info("relay server closed the connection")
		case errors.Is(err, net.ErrClosed):
		default:
			c.logger.Info("disconnected from relay server", zap.Error(err))
		}
		close(c.done)
		_ = c.shutdown()
		return
	}
}
