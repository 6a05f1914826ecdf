// Package transport owns the WebSocket connection to the host.
//
// A Conn has exactly one data writer (the caller), a read pump goroutine that
// owns every read, and a keepalive goroutine that only writes control frames.
// gorilla/websocket permits WriteControl concurrently with the data writer,
// so no lock is needed on the write path.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vts-motion/pkg/core"
)

// ErrClosed is reported once Close has been called.
var ErrClosed = errors.New("connection closed")

// ErrPongTimeout ends a connection whose peer did not answer a ping within
// PongTimeout.
var ErrPongTimeout = errors.New("no pong within timeout")

// Options are the socket timeouts.
type Options struct {
	OpenTimeout  time.Duration
	PingInterval time.Duration
	// PongTimeout bounds the wait for the pong answering each ping.
	PongTimeout  time.Duration
	CloseTimeout time.Duration
	WriteTimeout time.Duration
	// InboundBuffer bounds queued text frames nobody has read yet. Replies to
	// fire-and-forget calls pile up here and are dropped once it is full.
	InboundBuffer int
}

// DefaultOptions returns the host's socket timeouts: 5s open, ping every 30s,
// 25s pong deadline, 3s close.
func DefaultOptions() Options {
	return Options{
		OpenTimeout:   5 * time.Second,
		PingInterval:  30 * time.Second,
		PongTimeout:   25 * time.Second,
		CloseTimeout:  3 * time.Second,
		WriteTimeout:  5 * time.Second,
		InboundBuffer: 64,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = def.OpenTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = def.PongTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = def.CloseTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = def.InboundBuffer
	}
	return o
}

// Conn is one live duplex channel to the host.
type Conn interface {
	// Send writes one text frame. Only one goroutine may call Send.
	Send(ctx context.Context, data []byte) error
	// Receive returns the next inbound text frame.
	Receive(ctx context.Context) ([]byte, error)
	// Ping writes a WebSocket ping control frame.
	Ping(ctx context.Context) error
	// Done is closed once the connection can no longer be read.
	Done() <-chan struct{}
	// Err returns the terminal error after Done is closed.
	Err() error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials the host with gorilla/websocket.
type WSDialer struct {
	Options Options
	Header  http.Header
	Logger  *slog.Logger
}

// NewWSDialer returns a dialer using opts; zero fields fall back to defaults.
func NewWSDialer(opts Options, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{Options: opts, Logger: logger}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	opts := d.Options.withDefaults()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.OpenTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.OpenTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(dialCtx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, &core.TransportError{Op: "dial", URL: url, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &core.TransportError{Op: "dial", URL: url, Err: err}
	}

	c := &wsConn{
		ws:      ws,
		url:     url,
		opts:    opts,
		logger:  logger,
		inbound: make(chan []byte, opts.InboundBuffer),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go c.readPump()
	if opts.PingInterval > 0 {
		go c.keepalive()
	}
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	url    string
	opts   Options
	logger *slog.Logger

	inbound chan []byte
	done    chan struct{}
	stop    chan struct{}

	closeOnce sync.Once

	// lastPong is the UnixNano of the latest pong. Only pongs count; data
	// frames never prove the peer answers pings.
	lastPong    atomic.Int64
	pongMissing atomic.Bool

	// err is written by readPump before done is closed.
	err error
}

// expectPong arms a timer for a ping written at sent. If no pong arrives
// by PongTimeout the socket is dropped and the read pump reports
// ErrPongTimeout.
func (c *wsConn) expectPong(sent time.Time) {
	time.AfterFunc(c.opts.PongTimeout, func() {
		if c.lastPong.Load() >= sent.UnixNano() {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		c.pongMissing.Store(true)
		c.logger.Warn("peer did not answer ping", "timeout", c.opts.PongTimeout)
		_ = c.ws.Close()
	})
}

func (c *wsConn) readPump() {
	defer close(c.done)

	c.ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				err = ErrClosed
			default:
				if c.pongMissing.Load() {
					err = ErrPongTimeout
				}
			}
			c.err = &core.TransportError{Op: "read", URL: c.url, Err: err}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case c.inbound <- data:
		default:
			c.logger.Debug("dropping unread inbound frame", "bytes", len(data))
		}
	}
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.stop:
			return
		case <-ticker.C:
			sent := time.Now()
			if err := c.ws.WriteControl(websocket.PingMessage, nil, sent.Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
				// Unblock the read pump so Done fires.
				_ = c.ws.Close()
				return
			}
			c.expectPong(sent)
		}
	}
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &core.TransportError{Op: "write", URL: c.url, Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &core.TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) Ping(ctx context.Context) error {
	if err := c.usable(); err != nil {
		return err
	}
	sent := time.Now()
	deadline := sent.Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return &core.TransportError{Op: "ping", URL: c.url, Err: err}
	}
	c.expectPong(sent)
	return nil
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a close frame, waits up to CloseTimeout for the peer to answer
// and then drops the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		deadline := time.Now().Add(c.opts.CloseTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		timer := time.NewTimer(c.opts.CloseTimeout)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
		}
		_ = c.ws.Close()
	})
	<-c.done
	return nil
}

func (c *wsConn) usable() error {
	select {
	case <-c.stop:
		return &core.TransportError{Op: "write", URL: c.url, Err: ErrClosed}
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
