package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/version"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	readTimeout    = 90 * time.Second // must exceed pingInterval plus a missed pong
	streamBuffer   = 128
	handshakeLimit = 10 * time.Second
)

// WebsocketTransport dials relays over gorilla/websocket and speaks the
// protocol envelopes from go-nostr.
type WebsocketTransport struct {
	dialer *websocket.Dialer
	log    logger.Logger
}

// NewWebsocketTransport returns the production transport.
func NewWebsocketTransport(log logger.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeLimit,
		},
		log: log,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{"User-Agent": {version.UserAgent()}}
	ws, _, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if tcp, ok := ws.UnderlyingConn().(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := &wsConn{
		url:        url,
		ws:         ws,
		log:        t.log.With(logger.Relay(url)),
		streams:    make(map[string]*wsStream),
		okHandlers: make(map[string]chan nostr.OKEnvelope),
		done:       make(chan struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

type wsConn struct {
	url string
	ws  *websocket.Conn
	log logger.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	streams    map[string]*wsStream
	okHandlers map[string]chan nostr.OKEnvelope

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) URL() string           { return c.url }
func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) write(msg json.Marshaler) error {
	data, err := msg.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed() {
		return ErrConnClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	_ = c.ws.SetWriteDeadline(time.Time{})
	if err != nil {
		c.shutdown()
		return fmt.Errorf("write to %s: %w", c.url, err)
	}
	return nil
}

func (c *wsConn) Subscribe(ctx context.Context, id string, filters nostr.Filters) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &wsStream{
		id:     id,
		conn:   c,
		events: make(chan nostr.Event, streamBuffer),
		eose:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.streams[id] = s
	c.mu.Unlock()

	if err := c.write(nostr.ReqEnvelope{SubscriptionID: id, Filters: filters}); err != nil {
		c.detach(id)
		s.finish()
		return nil, err
	}
	return s, nil
}

func (c *wsConn) Publish(ctx context.Context, evt nostr.Event) error {
	ch := make(chan nostr.OKEnvelope, 1)

	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.okHandlers[evt.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.okHandlers, evt.ID)
		c.mu.Unlock()
	}()

	if err := c.write(nostr.EventEnvelope{Event: evt}); err != nil {
		return err
	}

	select {
	case ok := <-ch:
		if !ok.OK {
			return fmt.Errorf("%w: %s", ErrRejected, ok.Reason)
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	if c.closed() {
		return nil
	}

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}

// shutdown releases everything exactly once.
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()

		c.mu.Lock()
		streams := c.streams
		c.streams = make(map[string]*wsStream)
		c.okHandlers = make(map[string]chan nostr.OKEnvelope)
		c.mu.Unlock()

		for _, s := range streams {
			s.finish()
		}
	})
}

func (c *wsConn) stream(id string) *wsStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *wsConn) detach(id string) *wsStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.streams[id]
	delete(c.streams, id)
	return s
}

func (c *wsConn) readLoop() {
	defer c.shutdown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.log.Debug("relay read failed", logger.Error(err))
			}
			return
		}

		switch env := nostr.ParseMessage(data).(type) {
		case *nostr.EventEnvelope:
			if env.SubscriptionID == nil {
				continue
			}
			if s := c.stream(*env.SubscriptionID); s != nil {
				s.deliver(env.Event)
			}

		case *nostr.EOSEEnvelope:
			if s := c.stream(string(*env)); s != nil {
				s.markEOSE()
			}

		case *nostr.ClosedEnvelope:
			if s := c.detach(env.SubscriptionID); s != nil {
				c.log.Debug("subscription closed by relay",
					logger.String("sub", env.SubscriptionID),
					logger.String("reason", env.Reason))
				s.finish()
			}

		case *nostr.OKEnvelope:
			c.mu.Lock()
			ch := c.okHandlers[env.EventID]
			delete(c.okHandlers, env.EventID)
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- *env:
				default:
				}
			}

		case *nostr.NoticeEnvelope:
			c.log.Debug("relay notice", logger.String("message", string(*env)))
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.Debug("relay ping failed", logger.Error(err))
				c.shutdown()
				return
			}
		}
	}
}

type wsStream struct {
	id   string
	conn *wsConn

	events chan nostr.Event

	eose     chan struct{}
	eoseOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

func (s *wsStream) ID() string                  { return s.id }
func (s *wsStream) Events() <-chan nostr.Event { return s.events }
func (s *wsStream) EOSE() <-chan struct{}       { return s.eose }
func (s *wsStream) Done() <-chan struct{}       { return s.done }

func (s *wsStream) Close() {
	if s.conn.detach(s.id) != nil {
		_ = s.conn.write(nostr.CloseEnvelope(s.id))
	}
	s.finish()
}

func (s *wsStream) deliver(evt nostr.Event) {
	select {
	case s.events <- evt:
	case <-s.done:
	case <-s.conn.done:
	}
}

func (s *wsStream) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

func (s *wsStream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
