package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/leonardotrapani/micstream/internal/artifact"
	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/encoder"
	"github.com/leonardotrapani/micstream/internal/metrics"
	"github.com/leonardotrapani/micstream/internal/recording"
	"github.com/leonardotrapani/micstream/internal/transport"
)

type op int

const (
	opStart op = iota
	opStop
	opToggle
	opTeardown
	opReconnect
)

type request struct {
	op    op
	reply chan error
}

type acquireResult struct {
	session *recording.Session
	err     error
}

type acquisition struct {
	opts   Options
	cancel context.CancelFunc
	result chan acquireResult
}

// active is one running recording.
type active struct {
	opts    Options
	choice  codec.Choice
	session *recording.Session
	handle  *encoder.Handle
	channel Channel

	// written by the encoder goroutine, read after the handle is done
	chunks [][]byte
}

func (c *Controller) do(o op) error {
	req := request{op: o, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return ErrClosed
	}
	return <-req.reply
}

// Run processes requests until ctx is done, then tears down.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	log.Infof("Controller: running in %s mode", c.options().Mode)

	for {
		var acquired <-chan acquireResult
		if c.acq != nil {
			acquired = c.acq.result
		}
		var ended <-chan struct{}
		if c.rec != nil {
			ended = c.rec.handle.Done()
		}

		select {
		case <-ctx.Done():
			c.teardown()
			log.Infof("Controller: stopped")
			return nil

		case req := <-c.requests:
			req.reply <- c.handle(req.op)

		case r := <-acquired:
			a := c.acq
			c.acq = nil
			c.acquired(a, r)

		case <-ended:
			c.recordingEnded()
		}
	}
}

func (c *Controller) handle(o op) error {
	switch o {
	case opStart:
		return c.start()
	case opStop:
		return c.stop()
	case opToggle:
		if c.state() == Idle {
			return c.start()
		}
		return c.stop()
	case opTeardown:
		c.teardown()
		return nil
	case opReconnect:
		if c.channel != nil {
			c.channel.Reconnect()
		}
		return nil
	}
	return fmt.Errorf("unknown request %d", o)
}

func (c *Controller) start() error {
	if c.state() != Idle {
		return nil
	}

	opts := c.options()
	c.clearError()
	c.produced.Store(0)
	c.dropped.Store(0)
	c.mu.Lock()
	c.status.Mode = opts.Mode
	c.mu.Unlock()

	if opts.Mode == ModeLocal {
		c.revokeArtifact()
	} else {
		c.openChannel(opts)
	}

	// a held session is reused in place; opening the device always goes
	// through the cancellable acquisition below
	if s := c.capture.Session(); s != nil {
		return c.begin(opts, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &acquisition{opts: opts, cancel: cancel, result: make(chan acquireResult, 1)}
	go func() {
		s, err := c.capture.Acquire(ctx, opts.Constraints)
		a.result <- acquireResult{session: s, err: err}
	}()
	c.acq = a
	c.setState(AcquiringDevice)
	log.Infof("Controller: requesting microphone")
	return nil
}

func (c *Controller) acquired(a *acquisition, r acquireResult) {
	a.cancel()
	if r.err != nil {
		c.abort(acquireError(r.err))
		return
	}
	_ = c.begin(a.opts, r.session)
}

// begin negotiates the codec and starts encoding on s.
func (c *Controller) begin(opts Options, s *recording.Session) error {
	choice, err := opts.Negotiator.Negotiate()
	if err != nil {
		c.capture.Release()
		e := &Error{Kind: CodecUnsupported, Err: err}
		c.abort(e)
		return e
	}

	// the codec goes out before the encoder can produce anything
	if c.channel != nil {
		if err := c.channel.Announce(transport.TopicMIMEType, choice.MIMEType); err != nil {
			c.capture.Release()
			e := &Error{Kind: ConnectionError, Err: err}
			c.abort(e)
			return e
		}
	}

	src, err := s.Attach()
	if err != nil {
		c.capture.Release()
		e := &Error{Kind: DeviceUnavailable, Err: err}
		c.abort(e)
		return e
	}

	rec := &active{opts: opts, choice: choice, session: s, channel: c.channel}
	h, err := opts.Encoder.Start(src, s.Format(), s.Constraints(), choice, c.sink(rec))
	if err != nil {
		_ = src.Close()
		s.Detach()
		c.capture.Release()
		e := &Error{Kind: EncodingError, Err: err}
		if errors.Is(err, encoder.ErrUnknownCodec) {
			e.Kind = CodecUnsupported
		}
		c.abort(e)
		return e
	}
	rec.handle = h
	c.rec = rec

	c.mu.Lock()
	c.status.State = Recording
	c.status.Codec = choice.MIMEType
	c.mu.Unlock()

	c.metrics.SetRecording(true)
	go c.notifier.RecordingChanged(true)
	log.Infof("Controller: recording started (%s, %s mode)", choice.MIMEType, opts.Mode)
	return nil
}

// abort returns to Idle after a failed start.
func (c *Controller) abort(e *Error) {
	c.closeChannel()
	c.setState(Idle)
	c.report(e)
}

func (c *Controller) sink(rec *active) encoder.Sink {
	mode := string(rec.opts.Mode)
	return func(ch encoder.Chunk) {
		c.metrics.ChunksProduced.WithLabelValues(mode).Inc()
		if ch.Len() == 0 {
			c.metrics.ChunksDropped.WithLabelValues(metrics.DropEmpty).Inc()
			return
		}
		c.produced.Add(1)

		if rec.opts.Mode == ModeLocal {
			rec.chunks = append(rec.chunks, ch.Data)
			return
		}
		c.deliver(rec.channel, ch.Data)
	}
}

func (c *Controller) deliver(ch Channel, data []byte) {
	if ch != nil && ch.Send(transport.TopicAudioData, data) {
		c.metrics.ChunksSent.Inc()
		c.metrics.BytesSent.Add(float64(len(data)))
		return
	}
	reason := metrics.DropDisconnected
	if ch != nil && ch.Connected() {
		reason = metrics.DropQueueFull
	}
	c.dropped.Add(1)
	c.metrics.ChunksDropped.WithLabelValues(reason).Inc()
}

func (c *Controller) stop() error {
	if c.acq != nil {
		c.cancelAcquisition()
		c.closeChannel()
		c.setState(Idle)
		log.Infof("Controller: microphone request cancelled")
		return nil
	}
	if c.rec == nil {
		return nil
	}
	if e := c.finish(nil); e != nil {
		return e
	}
	return nil
}

// cancelAcquisition aborts the pending request and releases a session that
// was granted anyway.
func (c *Controller) cancelAcquisition() {
	a := c.acq
	c.acq = nil
	a.cancel()
	if r := <-a.result; r.session != nil {
		log.Debugf("Controller: releasing device granted after cancellation")
		c.capture.Release()
	}
}

// finish runs the stop sequence: encoder, artifact, device, channel.
func (c *Controller) finish(cause *Error) *Error {
	rec := c.rec
	c.rec = nil
	c.setState(Stopping)

	encErr := rec.handle.Stop()
	rec.session.Detach()

	result := cause
	if encErr != nil {
		result = &Error{Kind: EncodingError, Err: encErr}
	}

	if rec.opts.Mode == ModeLocal && encErr == nil {
		a, err := c.store.Materialize(rec.choice.MIMEType, rec.chunks)
		if err != nil {
			result = &Error{Kind: EncodingError, Err: err}
		} else {
			c.mu.Lock()
			c.status.Artifact = &a
			c.mu.Unlock()
			go c.notifier.ArtifactReady(a.Handle, a.Size)
			log.Infof("Controller: recording saved to %s (%d bytes)", a.Handle, a.Size)
		}
	}
	rec.chunks = nil

	if rec.opts.ReleaseDeviceOnStop || !rec.session.Valid() {
		c.capture.Release()
	}
	c.closeChannel()

	c.setState(Idle)
	c.metrics.SetRecording(false)
	go c.notifier.RecordingChanged(false)

	if result != nil {
		c.report(result)
		return result
	}
	c.metrics.RecordingsCompleted.WithLabelValues(string(rec.opts.Mode)).Inc()
	log.Infow("Controller: recording stopped",
		"mode", rec.opts.Mode,
		"codec", rec.choice.MIMEType,
		"chunks", c.produced.Load(),
		"dropped", c.dropped.Load())
	return nil
}

// recordingEnded handles an encoder that finished without a stop request,
// which happens when the capture stream ends.
func (c *Controller) recordingEnded() {
	cause := &Error{Kind: DeviceUnavailable, Err: recording.ErrDeviceUnavailable}
	if err := c.rec.session.Err(); err != nil {
		cause.Err = err
	}
	log.Warnf("Controller: capture ended during recording")
	_ = c.finish(cause)
}

func (c *Controller) teardown() {
	switch {
	case c.acq != nil:
		c.cancelAcquisition()
	case c.rec != nil:
		_ = c.finish(nil)
	}
	c.capture.Release()
	c.closeChannel()
	c.setState(Idle)
}

func (c *Controller) revokeArtifact() {
	c.mu.Lock()
	prev := c.status.Artifact
	c.status.Artifact = nil
	c.mu.Unlock()

	if prev == nil {
		return
	}
	if err := c.store.Revoke(*prev); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		log.Warnf("Controller: failed to revoke %s: %v", prev.Handle, err)
	}
}

func (c *Controller) openChannel(opts Options) {
	if c.channel != nil {
		return
	}
	c.mu.Lock()
	c.chanID++
	id := c.chanID
	c.mu.Unlock()

	topts := opts.Transport
	topts.OnEvent = func(ev transport.Event) { c.transportEvent(id, ev) }
	ch, err := c.dial(opts.Endpoint, topts)
	if err != nil {
		// recording goes ahead; every chunk is dropped
		c.report(&Error{Kind: ConnectionError, Err: err})
		return
	}
	c.channel = ch
}

func (c *Controller) closeChannel() {
	if c.channel == nil {
		return
	}
	ch := c.channel
	c.channel = nil

	c.mu.Lock()
	c.chanID++
	wasConnected := c.status.Connected
	c.status.Connected = false
	c.mu.Unlock()

	if err := ch.Close(); err != nil {
		log.Warnf("Controller: closing channel: %v", err)
	}
	c.metrics.SetConnected(false)
	if wasConnected {
		go c.notifier.ConnectionChanged(false)
	}
}

// transportEvent runs on the channel goroutine. It only touches the status
// surface, never the controller state.
func (c *Controller) transportEvent(id int, ev transport.Event) {
	c.mu.Lock()
	if id != c.chanID {
		c.mu.Unlock()
		return
	}
	prev := c.status.Connected
	switch ev.Kind {
	case transport.EventConnected:
		c.status.Connected = true
	case transport.EventDisconnected:
		c.status.Connected = false
	}
	changed := prev != c.status.Connected
	connected := c.status.Connected
	c.mu.Unlock()

	switch ev.Kind {
	case transport.EventConnected, transport.EventDisconnected:
		c.metrics.SetConnected(connected)
		if changed {
			go c.notifier.ConnectionChanged(connected)
		}
	case transport.EventReconnecting:
		c.metrics.ReconnectAttempts.Inc()
	case transport.EventConnectError:
		if errors.Is(ev.Err, transport.ErrReconnectExhausted) {
			c.report(&Error{Kind: ConnectionError, Err: ev.Err})
		} else {
			log.Debugf("Controller: connect attempt %d failed: %v", ev.Attempt, ev.Err)
		}
	case transport.EventMessage:
		log.Debugf("Controller: %s from server: %s", ev.Topic, ev.Data)
	}
}
