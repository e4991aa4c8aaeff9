package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/leonardotrapani/micstream/internal/transport"
)

// Call is one Announce or Send seen by a Channel.
type Call struct {
	Announce bool
	Topic    string
	Payload  any
}

// Size returns the payload length for []byte payloads.
func (c Call) Size() int {
	b, _ := c.Payload.([]byte)
	return len(b)
}

// Channel is an in-memory transport channel. Sends are accepted only while
// connected. Accepted audio and closes are reported to Events.
type Channel struct {
	Events *Recorder

	mu         sync.Mutex
	connected  bool
	calls      []Call
	reconnects int
	closes     int
	onEvent    func(transport.Event)
	Endpoint   string
}

func NewChannel(connected bool) *Channel {
	return &Channel{connected: connected}
}

// Dial records the endpoint and event callback and returns the channel.
func (c *Channel) Dial(endpoint string, opts transport.Options) (*Channel, error) {
	c.mu.Lock()
	c.Endpoint = endpoint
	c.onEvent = opts.OnEvent
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.Fire(transport.Event{Kind: transport.EventConnected})
	}
	return c, nil
}

// Fire delivers ev as if it came from the connection, updating the
// connected flag for Connected and Disconnected events.
func (c *Channel) Fire(ev transport.Event) {
	c.mu.Lock()
	switch ev.Kind {
	case transport.EventConnected:
		c.connected = true
	case transport.EventDisconnected:
		c.connected = false
	}
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Channel) Announce(topic string, payload any) error {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Announce: true, Topic: topic, Payload: payload})
	c.mu.Unlock()
	return nil
}

func (c *Channel) Send(topic string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.calls = append(c.calls, Call{Topic: topic, Payload: payload})
	if topic == transport.TopicAudioData {
		c.Events.Record("chunk")
	}
	return true
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) Reconnect() {
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closes++
	c.connected = false
	c.Events.Record("channel closed")
	c.mu.Unlock()
	return nil
}

func (c *Channel) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *Channel) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Frame is one websocket message received by a WSServer.
type Frame struct {
	Type int
	Data []byte
}

// WSServer accepts websocket connections and records every frame.
type WSServer struct {
	*httptest.Server

	mu     sync.Mutex
	frames []Frame
}

func NewWSServer(t *testing.T) *WSServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	s := &WSServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, Frame{Type: mt, Data: data})
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *WSServer) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Binary counts received binary frames.
func (s *WSServer) Binary() int {
	n := 0
	for _, f := range s.Frames() {
		if f.Type == websocket.BinaryMessage {
			n++
		}
	}
	return n
}
