package recording

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("recording")

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrSessionReleased   = errors.New("capture session released")
)

// Constraints are the processing options requested when opening a device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// Format describes the raw PCM produced by a Stream.
type Format struct {
	SampleRate int
	Channels   int
	Sample     string // pw-record sample format, e.g. "s16"
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	switch f.Sample {
	case "s24":
		return 3 * f.Channels
	case "s32", "f32":
		return 4 * f.Channels
	default:
		return 2 * f.Channels
	}
}

// Stream is a live capture producing raw PCM.
type Stream interface {
	io.Reader
	Format() Format
	// Stop ends every hardware track of the stream. Safe to call twice.
	Stop() error
}

// Device grants streams. Open may block until the user or system decides
// on access; cancelling ctx aborts the request.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

const pumpBufferSize = 4096

// Session is an acquired capture. It reads the stream continuously and
// forwards data to the attached consumer, discarding it when none is
// attached.
type Session struct {
	stream      Stream
	constraints Constraints

	mu       sync.Mutex
	consumer *io.PipeWriter
	released bool

	ended    chan struct{}
	endErr   error
	stopOnce sync.Once
}

func newSession(stream Stream, c Constraints) *Session {
	s := &Session{
		stream:      stream,
		constraints: c,
		ended:       make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Session) Format() Format           { return s.stream.Format() }
func (s *Session) Constraints() Constraints { return s.constraints }

// Valid reports whether the session was not released and its stream is
// still producing.
func (s *Session) Valid() bool {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return false
	}
	select {
	case <-s.ended:
		return false
	default:
		return true
	}
}

// Attach returns a reader receiving stream data from now on. A previous
// consumer is detached and sees EOF. Closing the reader detaches it.
func (s *Session) Attach() (io.ReadCloser, error) {
	if !s.Valid() {
		return nil, ErrSessionReleased
	}
	pr, pw := io.Pipe()

	s.mu.Lock()
	prev := s.consumer
	s.consumer = pw
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return pr, nil
}

// Detach disconnects the current consumer, which sees EOF.
func (s *Session) Detach() {
	s.mu.Lock()
	w := s.consumer
	s.consumer = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// Done is closed once the stream has ended.
func (s *Session) Done() <-chan struct{} { return s.ended }

// Err is the error that ended the stream, nil for a clean end.
func (s *Session) Err() error {
	select {
	case <-s.ended:
		return s.endErr
	default:
		return nil
	}
}

// Release stops the stream and ends the session. Idempotent.
func (s *Session) Release() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()

		if err := s.stream.Stop(); err != nil {
			log.Warnf("Recording: stop stream: %v", err)
		}
		<-s.ended
	})
}

func (s *Session) pump() {
	buf := make([]byte, pumpBufferSize)
	var discarded int
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			s.mu.Lock()
			w := s.consumer
			s.mu.Unlock()

			if w == nil {
				discarded += n
			} else if _, werr := w.Write(buf[:n]); werr != nil {
				// consumer went away mid-write
				s.clearConsumer(w)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.endErr = err
				log.Warnf("Recording: stream ended: %v", err)
			}
			s.mu.Lock()
			w := s.consumer
			s.consumer = nil
			s.mu.Unlock()
			if w != nil {
				_ = w.CloseWithError(err)
			}
			if discarded > 0 {
				log.Debugf("Recording: discarded %d idle bytes", discarded)
			}
			close(s.ended)
			return
		}
	}
}

func (s *Session) clearConsumer(w *io.PipeWriter) {
	s.mu.Lock()
	if s.consumer == w {
		s.consumer = nil
	}
	s.mu.Unlock()
}

// Capture owns at most one Session for a Device.
type Capture struct {
	device Device
	group  singleflight.Group

	mu      sync.Mutex
	session *Session
}

func NewCapture(device Device) *Capture {
	return &Capture{device: device}
}

// Acquire returns the held session when it is still valid, otherwise opens
// the device. Concurrent calls share a single open.
func (c *Capture) Acquire(ctx context.Context, cons Constraints) (*Session, error) {
	if s := c.held(); s != nil {
		return s, nil
	}

	v, err, _ := c.group.Do("acquire", func() (any, error) {
		if s := c.held(); s != nil {
			return s, nil
		}
		stream, err := c.device.Open(ctx, cons)
		if err != nil {
			return nil, err
		}
		s := newSession(stream, cons)

		c.mu.Lock()
		c.session = s
		c.mu.Unlock()

		log.Infof("Recording: device acquired (%d Hz, %d ch)", stream.Format().SampleRate, stream.Format().Channels)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// held returns the current session if valid, dropping an invalid one.
func (c *Capture) held() *Session {
	c.mu.Lock()
	s := c.session
	if s != nil && !s.Valid() {
		c.session = nil
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	if !s.Valid() {
		s.Release()
		return nil
	}
	return s
}

// Held reports whether a valid session is currently owned.
func (c *Capture) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.Valid()
}

// Session returns the held session while it is valid, or nil. It never
// opens the device.
func (c *Capture) Session() *Session { return c.held() }

// Release stops the held session, if any. Idempotent.
func (c *Capture) Release() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		s.Release()
		log.Infof("Recording: device released")
	}
}
