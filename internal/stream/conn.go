package stream

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/kmarchetti/go-chatsync/internal/config"
	"github.com/kmarchetti/go-chatsync/internal/types"
)

const (
	maxMessageSize = 64 * 1024
	eventChanSize  = 64
)

var ErrNotConnected = errors.New("stream: not connected")

// State is the connection lifecycle state. Rejoining sits between a
// successful dial and Ready: every registered subscription is re-joined
// before the connection reports itself usable again.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRejoining
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRejoining:
		return "rejoining"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Conn owns the single long-lived stream connection shared by all room
// subscriptions. Only Conn creates or destroys the underlying websocket;
// other components emit through it and consume Events. Connection errors
// are logged and reflected in State, never returned on the emit path.
type Conn struct {
	cfg *config.Config
	log zerolog.Logger

	dialer *websocket.Dialer

	// wmu serializes writes on the websocket; gorilla allows one
	// concurrent writer only.
	wmu sync.Mutex

	mu     sync.Mutex
	creds  types.Credentials
	state  State
	ws     *websocket.Conn
	subs   map[string]*Subscription
	cancel context.CancelFunc
	gen    int

	events chan Frame
}

func New(cfg *config.Config, logger zerolog.Logger) *Conn {
	sid, _ := shortid.Generate()
	return &Conn{
		cfg:    cfg,
		log:    logger.With().Str("component", "stream").Str("session_id", sid).Logger(),
		dialer: websocket.DefaultDialer,
		subs:   make(map[string]*Subscription),
		events: make(chan Frame, eventChanSize),
	}
}

// Events delivers incoming frames plus the local connect/ready/disconnect
// lifecycle frames. The channel is owned by Conn and closed never; a slow
// consumer causes frames to be dropped with a warning.
func (c *Conn) Events() <-chan Frame {
	return c.events
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection with the given credentials. It is
// idempotent for identical credentials; different credentials tear down
// the current transport and redial with the new auth payload. The actual
// dial happens on a background loop which retries with backoff, so a nil
// return does not mean the transport is live yet: observe State or the
// Events channel.
func (c *Conn) Connect(creds types.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		if creds == c.creds {
			return
		}
		c.log.Info().Str("user", creds.Username).Msg("credentials rotated, reconnecting")
		c.teardownLocked()
	}

	c.creds = creds
	c.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.gen++
	go c.run(ctx, c.gen, creds)
}

// Disconnect tears down the transport. Safe to call when already
// disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Conn) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	// invalidate the running loop so a late attach/detach is a no-op
	c.gen++
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.state = StateDisconnected
}

// run dials and services the connection until ctx is cancelled, redialing
// with exponential backoff and jitter after transport failures.
func (c *Conn) run(ctx context.Context, gen int, creds types.Credentials) {
	backoff := c.cfg.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		ws, err := c.dial(ctx, creds)
		if err != nil {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))):
			}
			backoff = min(backoff*2, c.cfg.ReconnectMax)
			continue
		}
		backoff = c.cfg.ReconnectMin

		if !c.attach(gen, ws) {
			ws.Close()
			return
		}

		c.rejoinAll(gen)
		c.serve(ctx, ws)

		c.detach(gen)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Msg("connection lost, reconnecting")
	}
}

func (c *Conn) dial(ctx context.Context, creds types.Credentials) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteWait)
	defer cancel()

	ws, _, err := c.dialer.DialContext(dialCtx, c.cfg.SocketURL, nil)
	if err != nil {
		return nil, err
	}

	auth, err := newFrame("auth", authPayload{
		Username: creds.Username,
		UserId:   creds.UserId,
		Token:    creds.Token,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := ws.WriteJSON(auth); err != nil {
		ws.Close()
		return nil, err
	}

	return ws, nil
}

// attach publishes the new websocket as the live transport. Returns false
// if the connection generation was superseded while dialing.
func (c *Conn) attach(gen int, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.ws = ws
	c.state = StateRejoining
	c.deliver(Frame{Event: EvConnect})
	return true
}

func (c *Conn) detach(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	if c.state != StateDisconnected {
		c.state = StateConnecting
	}
	c.deliver(Frame{Event: EvDisconnect})
}

// rejoinAll re-sends a join for every registered subscription. Membership
// is not assumed to survive a reconnect server-side, so this runs on every
// attach before the connection reports Ready.
func (c *Conn) rejoinAll(gen int) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		sub.joined.Store(false)
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.Emit(sub.joinEvent(), sub.id); err != nil {
			c.log.Error().Err(err).Str("room", sub.id).Msg("rejoin emit failed")
		}
	}

	c.mu.Lock()
	if gen == c.gen && c.state == StateRejoining {
		c.state = StateReady
		c.deliver(Frame{Event: EvReady})
	}
	c.mu.Unlock()
}

// serve pumps the connection until it fails or ctx is cancelled. The read
// pump runs inline; pings ride a ticker goroutine, matching the pong
// deadline extension on each pong received.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		interval := c.cfg.PongWait * 9 / 10
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.wmu.Lock()
				ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
				err := ws.WriteMessage(websocket.PingMessage, nil)
				c.wmu.Unlock()
				if err != nil {
					ws.Close()
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				ws.Close()
				return
			}
		}
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		c.route(frame)
	}
}

// route handles frames the connection consumes itself and forwards the
// rest to the events channel.
func (c *Conn) route(frame Frame) {
	if frame.Event == EvJoinedDm {
		var threadId string
		if err := json.Unmarshal(frame.Data, &threadId); err == nil {
			c.mu.Lock()
			if sub, ok := c.subs[subKey(KindDirect, threadId)]; ok {
				sub.joined.Store(true)
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	c.deliver(frame)
	c.mu.Unlock()
}

func (c *Conn) deliver(frame Frame) {
	select {
	case c.events <- frame:
	default:
		c.log.Warn().Str("event", frame.Event).Msg("event channel full, dropping frame")
	}
}

// Emit marshals and writes a frame on the live transport. Returns
// ErrNotConnected when there is no live transport; the payload is dropped,
// not queued.
func (c *Conn) Emit(event string, v any) error {
	frame, err := newFrame(event, v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		c.log.Warn().Str("event", event).Msg("emit while disconnected, dropping")
		return ErrNotConnected
	}

	c.wmu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	err = ws.WriteJSON(frame)
	c.wmu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("event", event).Msg("emit failed")
		return err
	}
	return nil
}
