package testutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/leonardotrapani/micstream/internal/encoder"
	"github.com/leonardotrapani/micstream/internal/recording"
)

// TestConfig returns a valid configuration for testing
func TestConfig() *config.Config {
	c := config.DefaultConfig()
	c.Recording.SampleRate = 16000
	c.Codec.Prober = "static"
	c.Codec.Supported = []string{"audio/webm", "audio/wav"}
	c.Transport.ReconnectAttempts = 2
	c.Transport.ReconnectDelay = 20 * time.Millisecond
	c.Artifact.Store = "memory"
	c.Notifications.Type = "log"
	return c
}

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, configContent string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	return configPath
}

// TestContext returns a context with timeout for testing
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Recorder keeps one ordered log of events reported by several fakes.
// A nil Recorder ignores events.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) Record(ev string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Stream is a fake capture stream fed by Push.
type Stream struct {
	data    chan []byte
	stopped chan struct{}
	once    sync.Once
	stops   *atomic.Int32
	events  *Recorder
}

func (s *Stream) Read(p []byte) (int, error) {
	select {
	case b := <-s.data:
		return copy(p, b), nil
	case <-s.stopped:
		return 0, io.EOF
	}
}

func (s *Stream) Format() recording.Format {
	return recording.Format{SampleRate: 16000, Channels: 1, Sample: "s16"}
}

// Push queues raw PCM for the session pump.
func (s *Stream) Push(b []byte) { s.data <- b }

// End simulates the device going away.
func (s *Stream) End() { s.Stop() }

func (s *Stream) Stop() error {
	s.once.Do(func() {
		s.stops.Add(1)
		s.events.Record("device stopped")
		close(s.stopped)
	})
	return nil
}

// Device counts opens and stream stops. Open blocks on Gate when set and
// fails with Err when set. Stream stops are reported to Events.
type Device struct {
	Err    error
	Gate   chan struct{}
	Events *Recorder

	opens   atomic.Int32
	stops   atomic.Int32
	streams chan *Stream
}

func NewDevice() *Device {
	return &Device{streams: make(chan *Stream, 16)}
}

func (d *Device) Open(ctx context.Context, c recording.Constraints) (recording.Stream, error) {
	d.opens.Add(1)
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	s := &Stream{data: make(chan []byte, 16), stopped: make(chan struct{}), stops: &d.stops, events: d.Events}
	d.streams <- s
	return s, nil
}

func (d *Device) Opens() int { return int(d.opens.Load()) }
func (d *Device) Stops() int { return int(d.stops.Load()) }

// LastStream waits for the next opened stream.
func (d *Device) LastStream(t *testing.T) *Stream {
	t.Helper()
	select {
	case s := <-d.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no stream was opened")
		return nil
	}
}

// ManualTicker fires only when Tick is called.
type ManualTicker struct{ ch chan time.Time }

func NewManualTicker() *ManualTicker { return &ManualTicker{ch: make(chan time.Time)} }

func (t *ManualTicker) C() <-chan time.Time { return t.ch }
func (t *ManualTicker) Stop()               {}

// Tick blocks until the encoder has taken the tick, so the slice is sealed
// when it returns.
func (t *ManualTicker) Tick() { t.ch <- time.Now() }

func (t *ManualTicker) Factory(time.Duration) encoder.Ticker { return t }

// ScriptedTranscoder writes exactly what Emit is given and finishes when its
// input ends.
type ScriptedTranscoder struct {
	emit chan []byte
	ack  chan struct{}
	Err  error
}

func NewScriptedTranscoder() *ScriptedTranscoder {
	return &ScriptedTranscoder{emit: make(chan []byte), ack: make(chan struct{})}
}

// Emit blocks until b was written to the encoder output.
func (s *ScriptedTranscoder) Emit(b []byte) {
	s.emit <- b
	<-s.ack
}

func (s *ScriptedTranscoder) Factory(codec.Choice, recording.Format, recording.Constraints) (encoder.Transcoder, error) {
	return encoder.TranscoderFunc(func(ctx context.Context, src io.Reader, dst io.Writer) error {
		eof := make(chan struct{})
		go func() {
			_, _ = io.Copy(io.Discard, src)
			close(eof)
		}()
		for {
			select {
			case b := <-s.emit:
				_, _ = dst.Write(b)
				s.ack <- struct{}{}
			case <-eof:
				return s.Err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// NewEncoder wires a manual ticker and a scripted transcoder into an
// encoder.
func NewEncoder() (*encoder.Encoder, *ManualTicker, *ScriptedTranscoder) {
	ticker := NewManualTicker()
	tc := NewScriptedTranscoder()
	enc := encoder.New(100*time.Millisecond,
		encoder.WithTicker(ticker.Factory),
		encoder.WithTranscoders(tc.Factory))
	return enc, ticker, tc
}
