// Package bridge connects to a chat bridge over a WebSocket. The bridge
// owns the chat session (pairing, QR login); this client sends messages,
// waits for the bridge to acknowledge each one, and relays the session's
// connectivity to the circuit breaker.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/transport"
)

// WebSocket timeouts, see github.com/gorilla/websocket/examples/chat.
const (
	// Time allowed to write a frame to the bridge
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the bridge
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	maxFrameSize = 64 * 1024
)

// ErrNotConnected is returned by Send while no bridge connection is up.
var ErrNotConnected = errors.New("bridge not connected")

// Config for the bridge client.
type Config struct {
	URL        string
	Token      string
	SendRate   float64 // messages per second; 0 means unthrottled
	SendBurst  int
	Reconnect  time.Duration
	AckTimeout time.Duration
}

// ConfigFromAm reads the transport section of am.toml.
func ConfigFromAm(c *am.Config) Config {
	return Config{
		URL:        c.Transport.BridgeURL,
		Token:      c.Transport.Token,
		SendRate:   c.Transport.SendRatePerSecond,
		SendBurst:  c.Transport.SendBurst,
		Reconnect:  time.Duration(c.Transport.ReconnectSeconds) * time.Second,
		AckTimeout: time.Duration(c.Transport.AckTimeoutSeconds) * time.Second,
	}
}

type ack struct {
	ok  bool
	err string
}

// Client implements transport.Transport and transport.EventSource.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ack

	// gorilla allows one concurrent writer per connection
	writeMu sync.Mutex

	events  chan transport.Event
	inbound chan Message
}

var (
	_ transport.Transport   = (*Client)(nil)
	_ transport.EventSource = (*Client)(nil)
)

// New creates a client. Nothing is dialled until Run.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, cfg.SendBurst),
		log:     log.With(logger.FieldComponent, "bridge", logger.FieldAddress, cfg.URL),
		pending: make(map[string]chan ack),
		events:  make(chan transport.Event, 32),
		inbound: make(chan Message, 64),
	}
}

// Events implements transport.EventSource. It is closed when Run returns.
func (c *Client) Events() <-chan transport.Event {
	return c.events
}

// Inbound delivers messages users send to the assistant. It is closed
// when Run returns.
func (c *Client) Inbound() <-chan Message {
	return c.inbound
}

// Run keeps a bridge connection up until ctx ends, redialling after every
// loss. It closes Events and Inbound on return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.inbound)
	defer close(c.events)

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnw("Bridge connection lost", logger.FieldError, err, "retry_in", c.cfg.Reconnect)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

// session dials once and reads until the connection ends.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.emit(ctx, transport.AuthFailed, resp.Status)
			return errors.WithHint(errors.Wrap(err, "bridge rejected credentials"),
				"set transport.token or YOMAN_TRANSPORT_TOKEN")
		}
		c.emit(ctx, transport.Disconnected, err.Error())
		return errors.Wrapf(err, "dial bridge %s", c.cfg.URL)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Infow("Bridge connected")
	c.emit(ctx, transport.Connected, "")

	done := make(chan struct{})
	go c.keepalive(ctx, conn, done)
	err = c.read(ctx, conn)
	close(done)
	c.detach(conn)

	if ctx.Err() == nil {
		c.emit(ctx, transport.Disconnected, err.Error())
	}
	return err
}

// keepalive pings the bridge and closes conn when ctx ends, which unblocks
// the reader.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return errors.Wrap(err, "read from bridge")
			}
			return errors.Wrap(err, "bridge closed")
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch f.Type {
		case frameAck:
			c.settle(f.ID, ack{ok: f.OK, err: f.Error})
		case frameStatus:
			kind := transport.EventKind(f.State)
			switch kind {
			case transport.Connected, transport.Disconnected, transport.AuthFailed:
				c.log.Infow("Chat session status", logger.FieldState, f.State, logger.FieldReason, f.Detail)
				c.emit(ctx, kind, f.Detail)
			default:
				c.log.Warnw("Unknown session status", logger.FieldState, f.State)
			}
		case frameMessage:
			select {
			case c.inbound <- Message{ID: f.ID, UserID: f.From, Text: f.Text}:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.log.Debugw("Ignoring bridge frame", "type", f.Type)
		}
	}
}

// detach forgets conn and fails every send still waiting on it.
func (c *Client) detach(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- ack{err: "connection lost"}
		delete(c.pending, id)
	}
}

func (c *Client) settle(id string, a ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[id]; ok {
		ch <- a
		delete(c.pending, id)
	}
}

func (c *Client) emit(ctx context.Context, kind transport.EventKind, detail string) {
	select {
	case c.events <- transport.Event{Kind: kind, At: time.Now(), Detail: detail}:
	case <-ctx.Done():
	}
}

// Send implements transport.Transport. It returns once the bridge has
// acknowledged the message, the ack timeout passed, or ctx ended.
func (c *Client) Send(ctx context.Context, userID, content string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "send throttle")
	}

	id := uuid.NewString()
	ch := make(chan ack, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errors.WithStack(ErrNotConnected)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(conn, frame{Type: frameSend, ID: id, To: userID, Text: content}); err != nil {
		return errors.Wrapf(err, "write message %s", id)
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case a := <-ch:
		if !a.ok {
			return errors.Newf("bridge rejected message %s: %s", id, a.err)
		}
		c.log.Debugw("Message acknowledged", "message_id", id, logger.FieldUserID, userID)
		return nil
	case <-timer.C:
		return errors.Wrapf(errors.ErrTimeout, "no ack for message %s after %s", id, c.cfg.AckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}
