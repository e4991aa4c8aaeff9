package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/logging"
	"github.com/leonardotrapani/micstream/internal/recording"
)

var log = logging.L("encoder")

// ErrUnknownCodec is returned by Start when no transcoder exists for the
// negotiated MIME type.
var ErrUnknownCodec = errors.New("unknown codec")

// Chunk is one interval's worth of encoded bytes.
type Chunk struct {
	Seq   int
	Data  []byte
	Final bool // flush emitted by Stop or end of input
	At    time.Time
}

func (c Chunk) Len() int { return len(c.Data) }

// Sink receives chunks in production order from a single goroutine.
type Sink func(Chunk)

// Ticker abstracts time.Ticker so slicing can be driven by tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

type Option func(*Encoder)

// WithTicker replaces the interval clock.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(e *Encoder) { e.newTicker = newTicker }
}

// WithTranscoders replaces the transcoder factory.
func WithTranscoders(f TranscoderFactory) Option {
	return func(e *Encoder) { e.transcoders = f }
}

// Encoder turns a PCM stream into interval-sliced chunks of the negotiated
// codec.
type Encoder struct {
	interval    time.Duration
	newTicker   func(time.Duration) Ticker
	transcoders TranscoderFactory
}

func New(interval time.Duration, opts ...Option) *Encoder {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	e := &Encoder{
		interval:    interval,
		newTicker:   NewTimeTicker,
		transcoders: DefaultTranscoders,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Interval() time.Duration { return e.interval }

// Start encodes src until Stop is called or src ends. A src that is an
// io.Closer is closed on Stop.
func (e *Encoder) Start(src io.Reader, format recording.Format, cons recording.Constraints, choice codec.Choice, sink Sink) (*Handle, error) {
	tc, err := e.transcoders(choice, format, cons)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	h := &Handle{
		src:    src,
		input:  pw,
		cancel: cancel,
		sink:   sink,
		done:   make(chan struct{}),
		tcDone: make(chan struct{}),
	}

	go h.feed(src)
	go func() {
		h.tcErr = tc.Transcode(ctx, pr, &h.out)
		_ = pr.Close()
		close(h.tcDone)
	}()
	go h.slice(e.newTicker(e.interval))

	log.Debugf("Encoder: started %s, interval %s", choice.MIMEType, e.interval)
	return h, nil
}

// Handle controls one running encoding.
type Handle struct {
	src    io.Reader
	input  *io.PipeWriter
	cancel context.CancelFunc
	sink   Sink

	out lockedBuffer
	seq int

	stopping bool
	stopMu   sync.Mutex
	stopOnce sync.Once

	tcErr  error
	tcDone chan struct{}
	done   chan struct{}
}

// Stop ends the input, drains the transcoder and returns after the final
// chunk has been delivered. Further calls wait for the same completion.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopMu.Lock()
		h.stopping = true
		h.stopMu.Unlock()

		if c, ok := h.src.(io.Closer); ok {
			_ = c.Close()
		}
		_ = h.input.Close()
	})

	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		// transcoder wedged; kill it and take what was produced
		h.cancel()
		<-h.done
	}
	return h.Err()
}

// Done is closed after the final chunk was delivered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why encoding ended; nil after a clean stop.
func (h *Handle) Err() error {
	select {
	case <-h.done:
	default:
		return nil
	}
	if h.tcErr != nil {
		return fmt.Errorf("transcode: %w", h.tcErr)
	}
	return nil
}

func (h *Handle) feed(src io.Reader) {
	_, err := io.Copy(h.input, src)

	h.stopMu.Lock()
	stopping := h.stopping
	h.stopMu.Unlock()

	if err != nil && !stopping && !errors.Is(err, io.ErrClosedPipe) {
		log.Warnf("Encoder: input ended: %v", err)
	}
	_ = h.input.Close()
}

func (h *Handle) slice(ticker Ticker) {
	defer close(h.done)
	defer h.cancel()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			h.emit(false)
		case <-h.tcDone:
			h.emit(true)
			return
		}
	}
}

func (h *Handle) emit(final bool) {
	data := h.out.take()
	c := Chunk{Seq: h.seq, Data: data, Final: final, At: time.Now()}
	h.seq++
	if h.sink != nil {
		h.sink(c)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()
	return out
}
