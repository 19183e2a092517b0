// Package transport implements the bidirectional event channel the live
// session rides on: a websocket carrying JSON envelopes, with acknowledgement
// tracking and automatic reconnection after the first successful connect.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live/protocol"
)

const (
	defaultHandshakeTimeout  = 20 * time.Second
	defaultReconnectDelay    = 500 * time.Millisecond
	defaultReconnectDelayMax = 5 * time.Second
)

// Options tunes the connection. Zero values take the defaults above.
type Options struct {
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration

	// DisableReconnect turns off automatic redial after a drop.
	DisableReconnect bool

	Header http.Header
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.ReconnectDelayMax <= 0 {
		o.ReconnectDelayMax = defaultReconnectDelayMax
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handler consumes the payload of one inbound event. Handlers run on the
// read goroutine, so inbound ordering is delivery ordering.
type Handler func(data json.RawMessage)

type ackResult struct {
	data json.RawMessage
	err  error
}

// Conn is one logical connection to a remote service. Event handlers
// persist across reconnects.
type Conn struct {
	url    string
	opts   Options
	logger *slog.Logger

	writeMu   sync.Mutex
	ws        *websocket.Conn
	connected atomic.Bool

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	ackMu sync.Mutex
	ackID int64
	acks  map[int64]chan ackResult

	onReconnect  atomic.Pointer[func(attempt int)]
	onDisconnect atomic.Pointer[func(err error)]

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// Dial establishes the connection, failing if the initial handshake does not
// succeed within the handshake timeout. After the first success, drops are
// redialed automatically with capped exponential backoff until Close.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	wsURL, err := WebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		url:      wsURL,
		opts:     opts,
		logger:   opts.Logger,
		handlers: make(map[string]Handler),
		acks:     make(map[int64]chan ackResult),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, core.NewConnectionError(fmt.Sprintf("connect %s: %v", wsURL, err), err)
	}
	c.ws = ws
	c.connected.Store(true)

	go c.run()
	return c, nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}
	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(dialCtx, c.url, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return ws, nil
}

// WebSocketURL normalizes an http(s) or ws(s) URL to a websocket scheme.
func WebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", core.NewInvalidArgumentError(fmt.Sprintf("invalid URL %q", raw))
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", core.NewInvalidArgumentError("URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

// On registers the handler for an event name, replacing any prior handler.
func (c *Conn) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if h == nil {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = h
}

// OnReconnect registers a callback fired once per successful reconnection
// after a drop, with the attempt number that succeeded.
func (c *Conn) OnReconnect(fn func(attempt int)) {
	if fn == nil {
		c.onReconnect.Store(nil)
		return
	}
	c.onReconnect.Store(&fn)
}

// OnDisconnect registers a callback fired when the connection drops,
// before any reconnection attempt.
func (c *Conn) OnDisconnect(fn func(err error)) {
	if fn == nil {
		c.onDisconnect.Store(nil)
		return
	}
	c.onDisconnect.Store(&fn)
}

// Connected reports whether the transport currently holds a live connection.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Emit sends one fire-and-forget event.
func (c *Conn) Emit(event string, payload any) error {
	return c.write(event, payload, 0)
}

// EmitWithAck sends an event and waits for the matching acknowledgement
// envelope, honoring ctx cancellation.
func (c *Conn) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	c.ackMu.Lock()
	c.ackID++
	id := c.ackID
	ch := make(chan ackResult, 1)
	c.acks[id] = ch
	c.ackMu.Unlock()

	if err := c.write(event, payload, id); err != nil {
		c.ackMu.Lock()
		delete(c.acks, id)
		c.ackMu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.ackMu.Lock()
		delete(c.acks, id)
		c.ackMu.Unlock()
		return nil, ctx.Err()
	case res := <-ch:
		return res.data, res.err
	}
}

func (c *Conn) write(event string, payload any, ackID int64) error {
	if !c.connected.Load() {
		return core.NewNotConnectedError("transport is not connected")
	}
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return core.NewEmitFailedError(err)
		}
		data = raw
	}
	env := protocol.Envelope{Event: event, Data: data, AckID: ackID}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return core.NewNotConnectedError("transport is not connected")
	}
	if err := c.ws.WriteJSON(env); err != nil {
		return core.NewEmitFailedError(err)
	}
	return nil
}

// run owns the read loop and the redial cycle.
func (c *Conn) run() {
	defer close(c.done)

	for {
		err := c.readLoop()
		c.connected.Store(false)
		c.failPendingAcks(core.NewDisconnectedError(""))

		if c.closed.Load() {
			return
		}
		if fn := c.onDisconnect.Load(); fn != nil {
			(*fn)(err)
		}
		if c.opts.DisableReconnect {
			return
		}
		attempt, ok := c.redial()
		if !ok {
			return
		}
		if fn := c.onReconnect.Load(); fn != nil {
			(*fn)(attempt)
		}
	}
}

func (c *Conn) readLoop() error {
	ws := c.currentWS()
	if ws == nil {
		return nil
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			// Unparseable frames are dropped, not fatal to the session.
			c.logger.Debug("transport: dropping malformed frame", "error", err)
			continue
		}
		if env.Event == protocol.EventAck && env.AckID != 0 {
			c.deliverAck(env.AckID, env.Data)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env protocol.Envelope) {
	c.handlerMu.RLock()
	h := c.handlers[env.Event]
	c.handlerMu.RUnlock()
	if h == nil {
		c.logger.Debug("transport: no handler for event", "event", env.Event)
		return
	}
	h(env.Data)
}

func (c *Conn) deliverAck(id int64, data json.RawMessage) {
	c.ackMu.Lock()
	ch := c.acks[id]
	delete(c.acks, id)
	c.ackMu.Unlock()
	if ch != nil {
		ch <- ackResult{data: data}
	}
}

func (c *Conn) failPendingAcks(err error) {
	c.ackMu.Lock()
	pending := c.acks
	c.acks = make(map[int64]chan ackResult)
	c.ackMu.Unlock()
	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}

// redial retries with capped exponential backoff until a connection is
// reestablished or the transport is closed. Attempt count is unbounded.
func (c *Conn) redial() (attempt int, ok bool) {
	delay := c.opts.ReconnectDelay
	for {
		if c.closed.Load() {
			return attempt, false
		}
		attempt++

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		ws, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.writeMu.Lock()
			c.ws = ws
			c.writeMu.Unlock()
			c.connected.Store(true)
			c.logger.Info("transport: reconnected", "attempt", attempt)
			return attempt, true
		}

		c.logger.Debug("transport: reconnect attempt failed", "attempt", attempt, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-c.closeCh:
			timer.Stop()
			return attempt, false
		case <-timer.C:
		}
		delay *= 2
		if delay > c.opts.ReconnectDelayMax {
			delay = c.opts.ReconnectDelayMax
		}
	}
}

func (c *Conn) currentWS() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws
}

// Close tears down the connection and stops reconnection. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.connected.Store(false)
		c.writeMu.Lock()
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			_ = c.ws.Close()
		}
		c.writeMu.Unlock()
		c.failPendingAcks(core.NewDisconnectedError(""))
	})
	<-c.done
	return nil
}
