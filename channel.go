package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// ErrNotOpen is returned by Send while the channel is not open.
var ErrNotOpen = errors.New("channel is not open")

// Channel lifecycle events, delivered in order on Channel.Events.
type (
	ChannelOpened  struct{}
	ChannelMessage struct{ Data []byte }
	ChannelFailed  struct{ Err error }
	// ChannelClosed is the final event. Err is nil on a normal closure.
	ChannelClosed struct{ Err error }
)

// wsConn is the subset of *websocket.Conn the channel uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, endpoint string) (wsConn, error)

func dialWebSocket(ctx context.Context, endpoint string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ChannelOptions tunes a Channel.
type ChannelOptions struct {
	DialTimeout time.Duration
	MaxSendRate float64 // sends per second, 0 = unlimited
	Logger      *slog.Logger

	dial dialFunc
}

// Channel is the persistent connection to the helper process. It is owned by
// exactly one view; Close releases it once.
type Channel struct {
	endpoint string
	opts     ChannelOptions
	logger   *slog.Logger
	limiter  *rate.Limiter
	events   chan any
	done     chan struct{}

	mu      sync.Mutex
	state   ConnState
	conn    wsConn
	started bool
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// NewChannel creates an idle channel for endpoint.
func NewChannel(endpoint string, opts ChannelOptions) *Channel {
	if opts.dial == nil {
		opts.dial = dialWebSocket
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Channel{
		endpoint: endpoint,
		opts:     opts,
		logger:   opts.Logger.With("endpoint", endpoint),
		events:   make(chan any, 32),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	if opts.MaxSendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxSendRate), 1)
	}
	return c
}

// Events returns the lifecycle event stream. It is closed after the last event.
func (c *Channel) Events() <-chan any { return c.events }

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts connecting in the background. Its outcome arrives on Events.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("open channel: already %s", c.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.state = StateConnecting
	go c.run(ctx)
	return nil
}

// Send encodes v as JSON and writes it as one text frame.
func (c *Channel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	c.logger.Debug("sent", "payload", string(data))
	return nil
}

// Close releases the connection. It is safe to call more than once and before
// Open; the underlying connection is closed exactly once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn, started, cancel := c.conn, c.started, c.cancel
		c.conn = nil
		c.state = StateClosed
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
		if cancel != nil {
			cancel()
		}
		if !started {
			close(c.events)
		}
	})
	return err
}

func (c *Channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) emit(ev any) {
	if c.closed() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.events)

	dialCtx := ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}
	conn, err := c.opts.dial(dialCtx, c.endpoint)
	if err != nil {
		if c.closed() {
			return
		}
		c.logger.Warn("dial helper failed", "error", err)
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.emit(ChannelFailed{Err: err})
		c.emit(ChannelClosed{Err: err})
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Closed while dialing; Close saw no connection to release.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closing")
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info("connected to helper")
	c.emit(ChannelOpened{})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			owned := c.conn == conn
			if owned {
				c.conn = nil
				c.state = StateClosed
			}
			c.mu.Unlock()
			if !owned || c.closed() {
				// Close already took the connection.
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")

			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.Info("helper closed the channel")
				c.emit(ChannelClosed{})
			default:
				c.logger.Warn("channel read failed", "error", err)
				c.emit(ChannelFailed{Err: err})
				c.emit(ChannelClosed{Err: err})
			}
			return
		}
		c.logger.Debug("received", "payload", string(data))
		c.emit(ChannelMessage{Data: data})
	}
}
