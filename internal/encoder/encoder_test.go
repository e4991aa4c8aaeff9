package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/recording"
)

type manualTicker struct{ ch chan time.Time }

func newManualTicker() *manualTicker { return &manualTicker{ch: make(chan time.Time)} }

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}
func (t *manualTicker) Tick()               { t.ch <- time.Now() }

type collector struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (c *collector) sink(ch Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
}

func (c *collector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	for _, ch := range c.chunks {
		b = append(b, ch.Data...)
	}
	return b
}

var testFormat = recording.Format{SampleRate: 16000, Channels: 1, Sample: "s16"}

// scripted writes whatever the test emits and ends when its input closes.
type scripted struct {
	emit chan []byte
	ack  chan struct{}
}

func newScripted() *scripted {
	return &scripted{emit: make(chan []byte), ack: make(chan struct{})}
}

func (s *scripted) Emit(b []byte) {
	s.emit <- b
	<-s.ack
}

func (s *scripted) factory(codec.Choice, recording.Format, recording.Constraints) (Transcoder, error) {
	return TranscoderFunc(func(ctx context.Context, src io.Reader, dst io.Writer) error {
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
				return nil
			}
		}
	}), nil
}

func TestEncoderSlicesPerInterval(t *testing.T) {
	ticker := newManualTicker()
	tc := newScripted()
	enc := New(100*time.Millisecond,
		WithTicker(func(time.Duration) Ticker { return ticker }),
		WithTranscoders(tc.factory))

	src, srcW := io.Pipe()
	defer srcW.Close()
	var got collector
	h, err := enc.Start(src, testFormat, recording.Constraints{}, codec.Choice{MIMEType: "audio/webm"}, got.sink)
	require.NoError(t, err)

	tc.Emit(bytes.Repeat([]byte("a"), 12))
	ticker.Tick()
	ticker.Tick()
	tc.Emit(bytes.Repeat([]byte("b"), 8))
	ticker.Tick()

	require.NoError(t, h.Stop())

	assert.Equal(t, append(bytes.Repeat([]byte("a"), 12), bytes.Repeat([]byte("b"), 8)...), got.joined())

	got.mu.Lock()
	defer got.mu.Unlock()
	require.NotEmpty(t, got.chunks)
	assert.Equal(t, 12, got.chunks[0].Len())
	for i, c := range got.chunks {
		assert.Equal(t, i, c.Seq, "chunks delivered in production order")
	}
	assert.True(t, got.chunks[len(got.chunks)-1].Final)
	nonEmpty := 0
	for _, c := range got.chunks {
		if c.Len() > 0 {
			nonEmpty++
		}
	}
	assert.Equal(t, 2, nonEmpty)
}

func TestEncoderStopIsTerminal(t *testing.T) {
	tc := newScripted()
	enc := New(time.Hour, WithTranscoders(tc.factory))
	src, srcW := io.Pipe()
	defer srcW.Close()

	var got collector
	h, err := enc.Start(src, testFormat, recording.Constraints{}, codec.Choice{MIMEType: "audio/webm"}, got.sink)
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	got.mu.Lock()
	assert.Len(t, got.chunks, 1, "only the final flush")
	got.mu.Unlock()
}

func TestEncoderWAVEndOfInput(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 50)
	enc := New(time.Hour)

	var got collector
	h, err := enc.Start(bytes.NewReader(pcm), testFormat, recording.Constraints{}, codec.Choice{MIMEType: "audio/wav"}, got.sink)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("encoder did not finish at end of input")
	}
	assert.NoError(t, h.Err())

	out := got.joined()
	require.Len(t, out, 44+len(pcm))
	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Equal(t, pcm, out[44:])
}

func TestEncoderUnknownCodec(t *testing.T) {
	enc := New(0)
	_, err := enc.Start(bytes.NewReader(nil), testFormat, recording.Constraints{}, codec.Choice{MIMEType: "audio/flac"}, nil)
	assert.ErrorIs(t, err, ErrUnknownCodec)
	assert.Equal(t, 250*time.Millisecond, enc.Interval())
}

func TestEncoderTranscoderFailure(t *testing.T) {
	boom := errors.New("boom")
	enc := New(time.Hour, WithTranscoders(func(codec.Choice, recording.Format, recording.Constraints) (Transcoder, error) {
		return TranscoderFunc(func(ctx context.Context, src io.Reader, dst io.Writer) error { return boom }), nil
	}))
	src, srcW := io.Pipe()
	defer srcW.Close()

	h, err := enc.Start(src, testFormat, recording.Constraints{}, codec.Choice{MIMEType: "audio/webm"}, nil)
	require.NoError(t, err)
	<-h.Done()
	assert.ErrorIs(t, h.Err(), boom)
}

func TestFFmpegArgs(t *testing.T) {
	webm, _ := codec.ContainerFor("audio/webm")
	mp4, _ := codec.ContainerFor("audio/mp4;codecs=opus")

	tests := []struct {
		name      string
		container codec.Container
		choice    codec.Choice
		cons      recording.Constraints
		contains  []string
		excludes  []string
	}{
		{
			name:      "webm with processing",
			container: webm,
			choice:    codec.Choice{MIMEType: "audio/webm", Bitrate: 32000},
			cons:      recording.DefaultConstraints(),
			contains:  []string{"-af", "afftdn,dynaudnorm", "-c:a", "libopus", "-b:a", "32000", "webm", "pipe:1"},
			excludes:  []string{"-movflags"},
		},
		{
			name:      "mp4 fragmented",
			container: mp4,
			choice:    codec.Choice{MIMEType: "audio/mp4;codecs=opus"},
			contains:  []string{"-movflags", "mp4"},
			excludes:  []string{"-af", "-b:a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := FFmpegArgs(tt.container, tt.choice, testFormat, tt.cons)
			for _, want := range tt.contains {
				assert.Contains(t, args, want)
			}
			for _, not := range tt.excludes {
				assert.NotContains(t, args, not)
			}
			assert.Equal(t, "s16le", args[4])
		})
	}
}

func TestStreamingWAVHeader(t *testing.T) {
	h := StreamingWAVHeader(recording.Format{SampleRate: 48000, Channels: 2, Sample: "s16"})
	require.Len(t, h, 44)
	assert.Equal(t, "WAVE", string(h[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(h[20:22]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(h[22:24]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(h[24:28]))
	assert.Equal(t, uint32(192000), binary.LittleEndian.Uint32(h[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(h[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(h[34:36]))
	assert.Equal(t, "data", string(h[36:40]))
}
