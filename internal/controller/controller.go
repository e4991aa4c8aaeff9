package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/leonardotrapani/micstream/internal/artifact"
	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/encoder"
	"github.com/leonardotrapani/micstream/internal/logging"
	"github.com/leonardotrapani/micstream/internal/metrics"
	"github.com/leonardotrapani/micstream/internal/notify"
	"github.com/leonardotrapani/micstream/internal/recording"
	"github.com/leonardotrapani/micstream/internal/transport"
)

var log = logging.L("controller")

type State string

const (
	Idle            State = "idle"
	AcquiringDevice State = "acquiring"
	Recording       State = "recording"
	Stopping        State = "stopping"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeLive  Mode = "live"
)

// ErrClosed is returned by requests made after Run has returned.
var ErrClosed = errors.New("controller is not running")

// Capture owns the microphone. *recording.Capture implements it.
type Capture interface {
	Acquire(ctx context.Context, c recording.Constraints) (*recording.Session, error)
	// Session returns the held valid session without opening the device.
	Session() *recording.Session
	Release()
}

type Negotiator interface {
	Negotiate() (codec.Choice, error)
}

// Channel is the live-mode sink. *transport.Channel implements it.
type Channel interface {
	Announce(topic string, payload any) error
	Send(topic string, payload any) bool
	Connected() bool
	Reconnect()
	Close() error
}

type DialFunc func(endpoint string, opts transport.Options) (Channel, error)

// DialWebsocket opens a transport.Channel.
func DialWebsocket(endpoint string, opts transport.Options) (Channel, error) {
	ch, err := transport.Dial(endpoint, opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Options are read when a recording starts, so changes apply to the next
// session.
type Options struct {
	Mode                Mode
	Constraints         recording.Constraints
	Endpoint            string
	Transport           transport.Options
	ReleaseDeviceOnStop bool

	Negotiator Negotiator
	Encoder    *encoder.Encoder
}

// Status is a snapshot of the observable controller state.
type Status struct {
	State     State
	Mode      Mode
	Recording bool
	Connected bool
	LastError *Error
	Codec     string
	Artifact  *artifact.Artifact
	// Non-empty chunks produced and chunks dropped in live mode, for the
	// current or last session.
	ChunksProduced int64
	ChunksDropped  int64
}

type Option func(*Controller)

func WithDialer(d DialFunc) Option { return func(c *Controller) { c.dial = d } }

func WithNotifier(n notify.Notifier) Option { return func(c *Controller) { c.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// Controller drives one capture through start/stop cycles. All state
// transitions happen on the Run goroutine.
type Controller struct {
	capture  Capture
	store    artifact.Store
	dial     DialFunc
	notifier notify.Notifier
	metrics  *metrics.Metrics

	requests chan request
	done     chan struct{}

	mu     sync.Mutex
	opts   Options
	status Status
	chanID int

	produced atomic.Int64
	dropped  atomic.Int64

	// owned by the Run goroutine
	acq     *acquisition
	rec     *active
	channel Channel
}

func New(capture Capture, store artifact.Store, opts Options, extra ...Option) *Controller {
	c := &Controller{
		capture:  capture,
		store:    store,
		dial:     DialWebsocket,
		notifier: notify.Nop{},
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	for _, o := range extra {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	c.opts = withDefaults(opts)
	c.status = Status{State: Idle, Mode: c.opts.Mode}
	return c
}

func withDefaults(o Options) Options {
	if o.Mode == "" {
		o.Mode = ModeLocal
	}
	if o.Negotiator == nil {
		o.Negotiator = codec.NewNegotiator(codec.NewFFmpegProber(), codec.DefaultPreferences)
	}
	if o.Encoder == nil {
		o.Encoder = encoder.New(0)
	}
	return o
}

// Reconfigure replaces the options used by the next recording.
func (c *Controller) Reconfigure(opts Options) {
	opts = withDefaults(opts)
	c.mu.Lock()
	c.opts = opts
	if c.status.State == Idle {
		c.status.Mode = opts.Mode
	}
	c.mu.Unlock()
	log.Infof("Controller: configuration updated, mode %s applies to the next recording", opts.Mode)
}

func (c *Controller) Metrics() *metrics.Metrics { return c.metrics }

func (c *Controller) Status() Status {
	c.mu.Lock()
	s := c.status
	c.mu.Unlock()
	s.Recording = s.State == Recording
	s.ChunksProduced = c.produced.Load()
	s.ChunksDropped = c.dropped.Load()
	return s
}

// Start begins a recording. Failures that are known before it returns are
// returned and reported in Status; device acquisition may still be pending
// and reports its outcome through Status only.
func (c *Controller) Start() error { return c.do(opStart) }

// Stop ends the recording or cancels a pending acquisition. Stopping while
// idle is a no-op.
func (c *Controller) Stop() error { return c.do(opStop) }

// Toggle starts when idle and stops otherwise.
func (c *Controller) Toggle() error { return c.do(opToggle) }

// Teardown stops whatever is in progress and releases the device and the
// channel.
func (c *Controller) Teardown() error { return c.do(opTeardown) }

// Reconnect restarts the transport retry budget of the open channel.
func (c *Controller) Reconnect() error { return c.do(opReconnect) }

func (c *Controller) options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.status.State = s
	c.mu.Unlock()
	log.Debugf("Controller: state %s", s)
}

func (c *Controller) state() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.State
}

func (c *Controller) report(e *Error) {
	c.mu.Lock()
	c.status.LastError = e
	c.mu.Unlock()

	c.metrics.Errors.WithLabelValues(string(e.Kind)).Inc()
	log.Errorf("Controller: %v", e)
	go c.notifier.Error(e.Error())
}

func (c *Controller) clearError() {
	c.mu.Lock()
	c.status.LastError = nil
	c.mu.Unlock()
}
