package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("transport")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// Topics used on the wire.
const (
	TopicMIMEType      = "mime_type"
	TopicAudioData     = "audio_data"
	TopicAudioReceived = "audio_received"
)

var (
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventReconnecting
	EventConnectError
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventConnectError:
		return "connect_error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event reports connection changes and inbound messages.
type Event struct {
	Kind    EventKind
	Err     error
	Attempt int
	Topic   string
	Data    json.RawMessage
}

// Envelope is the JSON form of a text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	// ReconnectAttempts bounds retries after a failed connect or a drop;
	// zero disables retrying.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	// QueueSize is the per-connection outbound frame limit.
	QueueSize int
	Header    http.Header
	// OnEvent is called from the channel goroutine and must not block.
	OnEvent func(Event)
}

func DefaultOptions() Options {
	return Options{
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		HandshakeTimeout:  10 * time.Second,
		QueueSize:         64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReconnectAttempts < 0 {
		o.ReconnectAttempts = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	return o
}

// EndpointURL turns a configured endpoint into a websocket URL. http and
// https are rewritten to ws and wss; an empty path becomes /ws.
func EndpointURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

type frame struct {
	msgType int
	data    []byte
}

type connection struct {
	ws         *websocket.Conn
	send       chan frame
	reannounce chan struct{}
	ready      atomic.Bool
	done       chan struct{}
	flushed    chan struct{}
}

// Channel is a duplex topic channel over one websocket at a time,
// reconnecting with a bounded budget.
type Channel struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	mu          sync.Mutex
	state       State
	conn        *connection
	announce    []byte
	announceVer int

	dropped atomic.Int64

	kick      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial starts connecting in the background and returns immediately.
// Connection outcomes are reported through Options.OnEvent.
func Dial(endpoint string, opts Options) (*Channel, error) {
	wsURL, err := EndpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := &Channel{
		url:    wsURL,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		state:  StateConnecting,
		kick:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool { return c.State() == StateConnected }

// readyConn returns the current connection while data sends are accepted.
func (c *Channel) readyConn() *connection {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.ready.Load() {
		return nil
	}
	return conn
}

// Dropped is the number of frames discarded by Send.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// Announce sets the message written first on every connection. It is
// written on the current connection right away; data sends are refused
// until it has gone out.
func (c *Channel) Announce(topic string, payload any) error {
	data, err := encodeText(topic, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.announce = data
	c.announceVer++
	conn := c.conn
	if conn != nil {
		conn.ready.Store(false)
	}
	c.mu.Unlock()

	if conn != nil {
		select {
		case conn.reannounce <- struct{}{}:
		default:
		}
	}
	return nil
}

// Send queues one message without blocking. audio_data payloads of type
// []byte go out as binary frames, everything else as a JSON envelope. It
// reports false when the message was dropped.
func (c *Channel) Send(topic string, payload any) bool {
	conn := c.readyConn()
	if conn == nil {
		c.dropped.Add(1)
		return false
	}

	var f frame
	if b, ok := payload.([]byte); ok && topic == TopicAudioData {
		f = frame{msgType: websocket.BinaryMessage, data: b}
	} else {
		data, err := encodeText(topic, payload)
		if err != nil {
			log.Warnf("Transport: encode %s: %v", topic, err)
			c.dropped.Add(1)
			return false
		}
		f = frame{msgType: websocket.TextMessage, data: data}
	}

	// a finished connection may still have buffer room; its queue is never
	// drained, so check done before enqueuing
	select {
	case <-conn.done:
		c.dropped.Add(1)
		return false
	default:
	}

	select {
	case conn.send <- f:
		return true
	default:
	}
	c.dropped.Add(1)
	return false
}

// Reconnect restarts the retry budget after it was exhausted.
func (c *Channel) Reconnect() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Close flushes queued frames, sends a normal closure and stops
// reconnecting. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		c.mu.Unlock()

		close(c.closed)
		if conn != nil {
			select {
			case <-conn.flushed:
			case <-time.After(writeWait):
			}
			_ = conn.ws.Close()
		}
		c.wg.Wait()
		log.Infof("Transport: channel to %s closed", c.url)
	})
	return nil
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Channel) emit(ev Event) {
	if c.opts.OnEvent != nil && !c.isClosed() {
		c.opts.OnEvent(ev)
	}
}

func (c *Channel) run() {
	defer c.wg.Done()

	retries := 0
	for {
		if retries > 0 {
			if !c.wait(c.opts.ReconnectDelay) {
				return
			}
			log.Infof("Transport: reconnect attempt %d/%d", retries, c.opts.ReconnectAttempts)
			c.emit(Event{Kind: EventReconnecting, Attempt: retries})
		}

		c.setState(StateConnecting)
		ws, err := c.connect()
		if err != nil {
			if c.isClosed() {
				return
			}
			log.Warnf("Transport: connection failed: %v", err)
			c.emit(Event{Kind: EventConnectError, Err: err, Attempt: retries})

			if retries >= c.opts.ReconnectAttempts {
				c.setState(StateDisconnected)
				log.Errorf("Transport: giving up after %d reconnect attempts", retries)
				c.emit(Event{Kind: EventConnectError, Err: ErrReconnectExhausted, Attempt: retries})
				if !c.waitKick() {
					return
				}
				retries = 0
				continue
			}
			retries++
			continue
		}

		c.serve(ws)
		if c.isClosed() {
			return
		}
		c.setState(StateDisconnected)
		c.emit(Event{Kind: EventDisconnected})
		retries = 1
	}
}

// wait sleeps for d; Reconnect cuts it short. Reports false once closed.
func (c *Channel) wait(d time.Duration) bool {
	select {
	case <-c.closed:
		return false
	case <-c.kick:
		return true
	case <-time.After(d):
		return true
	}
}

func (c *Channel) waitKick() bool {
	select {
	case <-c.closed:
		return false
	case <-c.kick:
		return true
	}
}

func (c *Channel) connect() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	ws, _, err := c.dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return ws, nil
}

func (c *Channel) serve(ws *websocket.Conn) {
	conn := &connection{
		ws:         ws,
		send:       make(chan frame, c.opts.QueueSize),
		reannounce: make(chan struct{}, 1),
		done:       make(chan struct{}),
		flushed:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	log.Infof("Transport: connected to %s", c.url)
	c.emit(Event{Kind: EventConnected})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn)
	}()
	c.readPump(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	close(conn.done)
	<-writerDone
	_ = ws.Close()

	if n := len(conn.send); n > 0 {
		log.Warnw("Transport: discarded queued frames on disconnect", "frames", n, "url", c.url)
	}
}

func (c *Channel) readPump(conn *connection) {
	ws := conn.ws
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				log.Warnf("Transport: read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warnf("Transport: failed to parse message: %v", err)
			continue
		}
		log.Debugf("Transport: received %s (%d bytes)", env.Event, len(env.Data))
		c.emit(Event{Kind: EventMessage, Topic: env.Event, Data: env.Data})
	}
}

func (c *Channel) writePump(conn *connection) {
	defer close(conn.flushed)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ws := conn.ws
	write := func(msgType int, data []byte) bool {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(msgType, data); err != nil {
			log.Warnf("Transport: write error: %v", err)
			_ = ws.Close()
			return false
		}
		return true
	}
	announce := func() bool {
		c.mu.Lock()
		data, ver := c.announce, c.announceVer
		c.mu.Unlock()
		if data != nil && !write(websocket.TextMessage, data) {
			return false
		}
		c.mu.Lock()
		// a newer announcement is pending on reannounce
		if c.announceVer == ver {
			conn.ready.Store(true)
		}
		c.mu.Unlock()
		return true
	}

	if !announce() {
		return
	}

	for {
		select {
		case <-conn.done:
			return

		case <-c.closed:
		drain:
			for {
				select {
				case f := <-conn.send:
					if !write(f.msgType, f.data) {
						return
					}
				default:
					break drain
				}
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-conn.reannounce:
			if !announce() {
				return
			}

		case f := <-conn.send:
			if !write(f.msgType, f.data) {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func encodeText(topic string, payload any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		data, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
		}
	}
	return json.Marshal(Envelope{Event: topic, Data: data})
}
