package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardotrapani/micstream/internal/artifact"
	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/encoder"
	"github.com/leonardotrapani/micstream/internal/metrics"
	"github.com/leonardotrapani/micstream/internal/recording"
	"github.com/leonardotrapani/micstream/internal/testutil"
	"github.com/leonardotrapani/micstream/internal/transport"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	c       *Controller
	dev     *testutil.Device
	store   *artifact.MemoryStore
	ticker  *testutil.ManualTicker
	tc      *testutil.ScriptedTranscoder
	channel *testutil.Channel
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newHarness(t *testing.T, mode Mode, mutate ...func(*Options)) *harness {
	t.Helper()
	return newHarnessWithStore(t, mode, nil, mutate...)
}

// newHarnessWithStore lets wrap decorate the memory store handed to the
// controller.
func newHarnessWithStore(t *testing.T, mode Mode, wrap func(artifact.Store) artifact.Store, mutate ...func(*Options)) *harness {
	t.Helper()
	enc, ticker, tc := testutil.NewEncoder()
	h := &harness{
		dev:     testutil.NewDevice(),
		store:   artifact.NewMemoryStore(),
		ticker:  ticker,
		tc:      tc,
		channel: testutil.NewChannel(true),
		metrics: metrics.New(),
		stopped: make(chan struct{}),
	}
	opts := Options{
		Mode:        mode,
		Constraints: recording.DefaultConstraints(),
		Endpoint:    "http://127.0.0.1:8000",
		Transport:   transport.DefaultOptions(),
		Negotiator:  codec.NewNegotiator(codec.NewStaticProber("audio/webm"), codec.DefaultPreferences),
		Encoder:     enc,
	}
	for _, m := range mutate {
		m(&opts)
	}
	dial := func(endpoint string, o transport.Options) (Channel, error) {
		ch, err := h.channel.Dial(endpoint, o)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	var store artifact.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	h.c = New(recording.NewCapture(h.dev), store, opts, WithDialer(dial), WithMetrics(h.metrics))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.c.Run(ctx)
		close(h.stopped)
	}()
	t.Cleanup(h.shutdown)
	return h
}

func (h *harness) shutdown() {
	h.cancel()
	<-h.stopped
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.Status().State == s }, waitFor, tick, "state %s", s)
}

// produce emits one chunk of n bytes per tick; n == 0 yields an empty slice.
func (h *harness) produce(sizes ...int) {
	for i, n := range sizes {
		if n > 0 {
			h.tc.Emit(bytes.Repeat([]byte{byte('a' + i)}, n))
		}
		h.ticker.Tick()
	}
}

// recordingStore reports each materialized artifact to events.
type recordingStore struct {
	artifact.Store
	events *testutil.Recorder
}

func (s recordingStore) Materialize(mime string, chunks [][]byte) (artifact.Artifact, error) {
	a, err := s.Store.Materialize(mime, chunks)
	if err == nil {
		s.events.Record("artifact")
	}
	return a, err
}

// failingStore refuses to assemble anything.
type failingStore struct{ artifact.Store }

func (failingStore) Materialize(string, [][]byte) (artifact.Artifact, error) {
	return artifact.Artifact{}, fmt.Errorf("%w: disk full", artifact.ErrEncoding)
}

func TestLocalModeAssemblesArtifact(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(12, 0, 8)
	require.NoError(t, h.c.Stop())

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Recording)
	assert.Nil(t, st.LastError)
	require.NotNil(t, st.Artifact)
	assert.Equal(t, 20, st.Artifact.Size)
	assert.Equal(t, "audio/webm", st.Artifact.MIMEType)
	assert.Equal(t, int64(2), st.ChunksProduced)

	data, err := h.store.Bytes(st.Artifact.Handle)
	require.NoError(t, err)
	want := append(bytes.Repeat([]byte{'a'}, 12), bytes.Repeat([]byte{'c'}, 8)...)
	assert.Equal(t, want, data)

	assert.Empty(t, h.channel.Calls(), "local mode never opens the channel")
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.RecordingsCompleted.WithLabelValues("local")))
	assert.GreaterOrEqual(t, promtest.ToFloat64(h.metrics.ChunksDropped.WithLabelValues(metrics.DropEmpty)), 1.0)
}

func TestLiveModeSendsMimeTypeThenAudio(t *testing.T) {
	h := newHarness(t, ModeLive)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	assert.True(t, h.c.Status().Connected)
	assert.Equal(t, "http://127.0.0.1:8000", h.channel.Endpoint)

	h.produce(12, 0, 8)
	require.NoError(t, h.c.Stop())

	calls := h.channel.Calls()
	require.Len(t, calls, 3)
	assert.True(t, calls[0].Announce)
	assert.Equal(t, transport.TopicMIMEType, calls[0].Topic)
	assert.Equal(t, "audio/webm", calls[0].Payload)
	for i, size := range []int{12, 8} {
		assert.Equal(t, transport.TopicAudioData, calls[i+1].Topic)
		assert.Equal(t, size, calls[i+1].Size())
	}

	st := h.c.Status()
	assert.Nil(t, st.Artifact, "live mode never buffers locally")
	assert.Equal(t, 1, h.channel.Closes())
	assert.False(t, st.Connected)
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.ChunksSent))
	assert.Equal(t, 20.0, promtest.ToFloat64(h.metrics.BytesSent))
}

func TestLiveModeOverWebsocket(t *testing.T) {
	srv := testutil.NewWSServer(t)
	enc, ticker, tc := testutil.NewEncoder()
	dev := testutil.NewDevice()

	c := New(recording.NewCapture(dev), artifact.NewMemoryStore(), Options{
		Mode:       ModeLive,
		Endpoint:   srv.URL,
		Transport:  transport.DefaultOptions(),
		Negotiator: codec.NewNegotiator(codec.NewStaticProber("audio/ogg"), codec.DefaultPreferences),
		Encoder:    enc,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = c.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.State == Recording && st.Connected
	}, waitFor, tick)

	// until the announcement has been written audio is dropped, so keep
	// producing until something arrives
	require.Eventually(t, func() bool {
		tc.Emit([]byte("opus"))
		ticker.Tick()
		return srv.Binary() > 0
	}, waitFor, 20*time.Millisecond)
	require.NoError(t, c.Stop())

	frames := srv.Frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, websocket.TextMessage, frames[0].Type)
	assert.JSONEq(t, `{"event":"mime_type","data":"audio/ogg"}`, string(frames[0].Data))
	for _, f := range frames[1:] {
		assert.Equal(t, websocket.BinaryMessage, f.Type)
		assert.Equal(t, []byte("opus"), f.Data)
	}
}

func TestPermissionDeniedReturnsToIdle(t *testing.T) {
	h := newHarness(t, ModeLocal)
	h.dev.Err = recording.ErrPermissionDenied

	require.NoError(t, h.c.Start())
	require.Eventually(t, func() bool {
		st := h.c.Status()
		return st.State == Idle && st.LastError != nil
	}, waitFor, tick)

	st := h.c.Status()
	assert.True(t, errors.Is(st.LastError, ErrPermissionDenied))
	assert.Equal(t, PermissionDenied, st.LastError.Kind)
	assert.Equal(t, 1, h.dev.Opens())
	assert.Equal(t, 0, h.dev.Stops())
	assert.Nil(t, st.Artifact)
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t, ModeLive)
	h.dev.Err = recording.ErrDeviceUnavailable

	require.NoError(t, h.c.Start())
	require.Eventually(t, func() bool { return h.c.Status().LastError != nil }, waitFor, tick)

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.True(t, errors.Is(st.LastError, ErrDeviceUnavailable))
	assert.Equal(t, 1, h.channel.Closes(), "optimistically opened channel is closed again")
}

func TestCodecUnsupportedReleasesDevice(t *testing.T) {
	h := newHarness(t, ModeLocal, func(o *Options) {
		o.Negotiator = codec.NewNegotiator(codec.NewStaticProber(), codec.DefaultPreferences)
	})

	require.NoError(t, h.c.Start())
	require.Eventually(t, func() bool { return h.c.Status().LastError != nil }, waitFor, tick)

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.True(t, errors.Is(st.LastError, ErrCodecUnsupported))
	assert.True(t, errors.Is(st.LastError, codec.ErrNotSupported))
	assert.Equal(t, 1, h.dev.Opens())
	assert.Equal(t, 1, h.dev.Stops())
}

func TestReconnectExhaustedKeepsRecording(t *testing.T) {
	h := newHarness(t, ModeLive)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(4)
	require.Eventually(t, func() bool { return len(h.channel.Calls()) == 2 }, waitFor, tick)

	h.channel.Fire(transport.Event{Kind: transport.EventDisconnected})
	h.channel.Fire(transport.Event{Kind: transport.EventReconnecting, Attempt: 1})
	h.channel.Fire(transport.Event{Kind: transport.EventConnectError, Attempt: 1, Err: errors.New("refused")})
	h.channel.Fire(transport.Event{Kind: transport.EventConnectError, Err: transport.ErrReconnectExhausted})

	st := h.c.Status()
	assert.Equal(t, Recording, st.State)
	assert.True(t, st.Recording)
	assert.False(t, st.Connected)
	require.NotNil(t, st.LastError)
	assert.Equal(t, ConnectionError, st.LastError.Kind)
	assert.True(t, errors.Is(st.LastError, transport.ErrReconnectExhausted))

	h.produce(6, 6)
	require.Eventually(t, func() bool { return h.c.Status().ChunksDropped == 2 }, waitFor, tick)
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.ChunksDropped.WithLabelValues(metrics.DropDisconnected)))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.ReconnectAttempts))

	require.NoError(t, h.c.Reconnect())
	assert.Equal(t, 1, h.channel.Reconnects())

	require.NoError(t, h.c.Stop())
	sends := 0
	for _, call := range h.channel.Calls() {
		if !call.Announce {
			sends++
		}
	}
	assert.Equal(t, 1, sends, "only the chunk produced while connected was sent")
}

func TestDialFailureDoesNotStopRecording(t *testing.T) {
	h := newHarness(t, ModeLive)
	h.c.dial = func(string, transport.Options) (Channel, error) { return nil, transport.ErrInvalidEndpoint }

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(3)

	require.Eventually(t, func() bool { return h.c.Status().ChunksDropped == 1 }, waitFor, tick)
	st := h.c.Status()
	require.NotNil(t, st.LastError)
	assert.Equal(t, ConnectionError, st.LastError.Kind)
	assert.Equal(t, Recording, st.State)
	require.NoError(t, h.c.Stop())
}

func TestDoubleStopIsNoop(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(5)
	require.NoError(t, h.c.Stop())
	first := h.c.Status()

	require.NoError(t, h.c.Stop())
	second := h.c.Status()
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.store.Len())
}

func TestStopWhileIdle(t *testing.T) {
	h := newHarness(t, ModeLocal)
	require.NoError(t, h.c.Stop())
	require.NoError(t, h.c.Teardown())
	assert.Equal(t, Idle, h.c.Status().State)
	assert.Equal(t, 0, h.dev.Opens())
}

func TestSessionRetainedAcrossCycles(t *testing.T) {
	h := newHarness(t, ModeLocal)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.Start())
		h.waitState(t, Recording)
		h.produce(2)
		require.NoError(t, h.c.Stop())
	}
	assert.Equal(t, 1, h.dev.Opens(), "held device is reused")
	assert.Equal(t, 0, h.dev.Stops())

	require.NoError(t, h.c.Teardown())
	assert.Equal(t, 1, h.dev.Stops(), "teardown releases the held device")
	require.NoError(t, h.c.Teardown())
	assert.Equal(t, 1, h.dev.Stops())
}

func TestReleaseDeviceOnStop(t *testing.T) {
	h := newHarness(t, ModeLocal, func(o *Options) { o.ReleaseDeviceOnStop = true })

	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.Start())
		h.waitState(t, Recording)
		require.NoError(t, h.c.Stop())
		assert.Equal(t, h.dev.Opens(), h.dev.Stops())
	}
	assert.Equal(t, 3, h.dev.Opens())
}

func TestNewSessionRevokesPreviousArtifact(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(4)
	require.NoError(t, h.c.Stop())
	old := h.c.Status().Artifact
	require.NotNil(t, old)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	assert.Nil(t, h.c.Status().Artifact)
	_, err := h.store.Bytes(old.Handle)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	h.produce(7)
	require.NoError(t, h.c.Stop())
	st := h.c.Status()
	require.NotNil(t, st.Artifact)
	assert.NotEqual(t, old.Handle, st.Artifact.Handle)
	assert.Equal(t, 7, st.Artifact.Size)
	assert.Equal(t, 1, h.store.Len())
}

func TestStopCancelsAcquisition(t *testing.T) {
	h := newHarness(t, ModeLocal)
	h.dev.Gate = make(chan struct{})

	require.NoError(t, h.c.Start())
	h.waitState(t, AcquiringDevice)
	require.NoError(t, h.c.Stop())

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.Nil(t, st.LastError)
	assert.Equal(t, 1, h.dev.Opens())
	assert.Equal(t, 0, h.dev.Stops(), "no stream was ever opened")

	// the next start reaches the device again
	h.dev.Gate = nil
	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	require.NoError(t, h.c.Teardown())
	assert.Equal(t, 1, h.dev.Stops())
}

func TestStartAfterHeldSessionEndedIsCancellable(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	require.NoError(t, h.c.Stop())
	s := h.c.capture.Session()
	require.NotNil(t, s)

	h.dev.LastStream(t).End()
	<-s.Done()

	// the replacement open must be interruptible like any other
	h.dev.Gate = make(chan struct{})
	require.NoError(t, h.c.Start())
	h.waitState(t, AcquiringDevice)
	require.NoError(t, h.c.Stop())

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.Nil(t, st.LastError)
	assert.Equal(t, 2, h.dev.Opens())
	assert.Nil(t, h.c.capture.Session())
}

func TestStopOrdering(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		events := &testutil.Recorder{}
		h := newHarnessWithStore(t, ModeLocal, func(s artifact.Store) artifact.Store {
			return recordingStore{Store: s, events: events}
		}, func(o *Options) { o.ReleaseDeviceOnStop = true })
		h.dev.Events = events

		require.NoError(t, h.c.Start())
		h.waitState(t, Recording)
		// left in the encoder so only the stop-time flush carries it
		h.tc.Emit([]byte("tail"))
		require.NoError(t, h.c.Stop())

		assert.Equal(t, []string{"artifact", "device stopped"}, events.Events())
		st := h.c.Status()
		require.NotNil(t, st.Artifact)
		assert.Equal(t, 4, st.Artifact.Size)
	})

	t.Run("live", func(t *testing.T) {
		events := &testutil.Recorder{}
		h := newHarness(t, ModeLive, func(o *Options) { o.ReleaseDeviceOnStop = true })
		h.dev.Events = events
		h.channel.Events = events

		require.NoError(t, h.c.Start())
		h.waitState(t, Recording)
		h.tc.Emit([]byte("tail"))
		require.NoError(t, h.c.Stop())

		assert.Equal(t, []string{"chunk", "device stopped", "channel closed"}, events.Events())
		calls := h.channel.Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, []byte("tail"), calls[len(calls)-1].Payload)
	})
}

func TestArtifactFailureIsEncodingError(t *testing.T) {
	h := newHarnessWithStore(t, ModeLocal, func(s artifact.Store) artifact.Store {
		return failingStore{s}
	})

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(6)

	err := h.c.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoding)
	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Recording)
	assert.Nil(t, st.Artifact)
	require.NotNil(t, st.LastError)
	assert.Equal(t, EncodingError, st.LastError.Kind)
	assert.Equal(t, 0.0, promtest.ToFloat64(h.metrics.RecordingsCompleted.WithLabelValues("local")))
}

func TestToggle(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Toggle())
	h.waitState(t, Recording)
	h.produce(3)
	require.NoError(t, h.c.Toggle())
	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	require.NotNil(t, st.Artifact)
	assert.Equal(t, 3, st.Artifact.Size)
}

func TestDeviceLostDuringRecording(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(9)
	h.dev.LastStream(t).End()

	require.Eventually(t, func() bool { return h.c.Status().State == Idle }, waitFor, tick)
	st := h.c.Status()
	require.NotNil(t, st.LastError)
	assert.Equal(t, DeviceUnavailable, st.LastError.Kind)
	require.NotNil(t, st.Artifact, "audio captured before the loss is kept")
	assert.Equal(t, 9, st.Artifact.Size)
	assert.Nil(t, h.c.capture.Session())
}

func TestTranscodeFailureIsEncodingError(t *testing.T) {
	h := newHarness(t, ModeLocal)
	h.tc.Err = errors.New("ffmpeg exited")

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.produce(5)

	err := h.c.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoding))
	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.Nil(t, st.Artifact)
	assert.Equal(t, 0, h.store.Len())
}

func TestStartClearsLastError(t *testing.T) {
	h := newHarness(t, ModeLocal)
	h.dev.Err = recording.ErrPermissionDenied
	require.NoError(t, h.c.Start())
	require.Eventually(t, func() bool { return h.c.Status().LastError != nil }, waitFor, tick)

	h.dev.Err = nil
	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	assert.Nil(t, h.c.Status().LastError)
}

func TestReconfigureAppliesToNextSession(t *testing.T) {
	h := newHarness(t, ModeLocal)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)

	enc, ticker, tc := testutil.NewEncoder()
	h.c.Reconfigure(Options{
		Mode:       ModeLive,
		Negotiator: codec.NewNegotiator(codec.NewStaticProber("audio/wav"), codec.DefaultPreferences),
		Encoder:    enc,
	})
	assert.Equal(t, ModeLocal, h.c.Status().Mode, "running session keeps its mode")
	h.produce(1)
	require.NoError(t, h.c.Stop())

	h.ticker, h.tc = ticker, tc
	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	st := h.c.Status()
	assert.Equal(t, ModeLive, st.Mode)
	assert.Equal(t, "audio/wav", st.Codec)
	require.NoError(t, h.c.Stop())
}

func TestRunCancellationTearsDown(t *testing.T) {
	h := newHarness(t, ModeLive)

	require.NoError(t, h.c.Start())
	h.waitState(t, Recording)
	h.shutdown()

	assert.Equal(t, h.dev.Opens(), h.dev.Stops())
	assert.Equal(t, 1, h.channel.Closes())
	assert.ErrorIs(t, h.c.Start(), ErrClosed)
}

func TestErrorKinds(t *testing.T) {
	e := &Error{Kind: ConnectionError, Err: transport.ErrReconnectExhausted}
	assert.True(t, errors.Is(e, ErrConnection))
	assert.True(t, errors.Is(e, transport.ErrReconnectExhausted))
	assert.False(t, errors.Is(e, ErrEncoding))
	assert.Contains(t, e.Error(), "reconnect")

	assert.Equal(t, PermissionDenied, acquireError(recording.ErrPermissionDenied).Kind)
	assert.Equal(t, DeviceUnavailable, acquireError(errors.New("pw-record missing")).Kind)
	assert.Equal(t, "no usable microphone", (&Error{Kind: DeviceUnavailable}).Error())
}

type fixedChoice codec.Choice

func (f fixedChoice) Negotiate() (codec.Choice, error) { return codec.Choice(f), nil }

func TestUnknownCodecFailsConstruction(t *testing.T) {
	h := newHarness(t, ModeLocal, func(o *Options) {
		o.Negotiator = fixedChoice{MIMEType: "audio/flac"}
		o.Encoder = encoder.New(0)
	})

	require.NoError(t, h.c.Start())
	require.Eventually(t, func() bool { return h.c.Status().LastError != nil }, waitFor, tick)

	st := h.c.Status()
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, CodecUnsupported, st.LastError.Kind)
	assert.True(t, errors.Is(st.LastError, encoder.ErrUnknownCodec))
	assert.Equal(t, h.dev.Opens(), h.dev.Stops())
}
