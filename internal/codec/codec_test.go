package codec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate_FirstMatchInPreferenceOrder(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		want      string
	}{
		{"first entry", []string{"audio/webm", "audio/ogg"}, "audio/webm"},
		{"later entry wins over unsupported earlier", []string{"audio/ogg;codecs=opus", "audio/mp4"}, "audio/mp4"},
		{"only fallback", []string{"audio/wav"}, "audio/wav"},
		{"order is priority, not alphabetical", []string{"audio/ogg", "audio/mp4;codecs=opus"}, "audio/mp4;codecs=opus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNegotiator(NewStaticProber(tt.supported...), nil)
			choice, err := n.Negotiate()
			require.NoError(t, err)
			assert.Equal(t, tt.want, choice.MIMEType)
		})
	}
}

func TestNegotiate_NoneSupported(t *testing.T) {
	n := NewNegotiator(NewStaticProber(), []string{"audio/webm", "audio/ogg"})
	_, err := n.Negotiate()
	assert.True(t, errors.Is(err, ErrNotSupported))
}

func TestNegotiate_ReevaluatedPerCall(t *testing.T) {
	supported := map[string]bool{"audio/ogg": true}
	n := NewNegotiator(ProberFunc(func(m string) bool { return supported[m] }), []string{"audio/webm", "audio/ogg"})

	c, err := n.Negotiate()
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", c.MIMEType)

	supported["audio/webm"] = true
	c, err = n.Negotiate()
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", c.MIMEType)
}

func TestNegotiate_CarriesParameters(t *testing.T) {
	n := NewNegotiator(NewStaticProber("audio/webm"), nil, WithBitrate(32000), WithChannels(1))
	c, err := n.Negotiate()
	require.NoError(t, err)
	assert.Equal(t, Choice{MIMEType: "audio/webm", Bitrate: 32000, Channels: 1}, c)
}

func TestPreferencesAreCopied(t *testing.T) {
	prefs := []string{"audio/ogg"}
	n := NewNegotiator(NewStaticProber("audio/ogg"), prefs)
	prefs[0] = "audio/webm"
	assert.Equal(t, []string{"audio/ogg"}, n.Preferences())
}

func TestContainerFor(t *testing.T) {
	tests := []struct {
		mime    string
		format  string
		wantErr bool
	}{
		{"audio/webm", "webm", false},
		{"audio/webm;codecs=opus", "webm", false},
		{"audio/mp4;codecs=opus", "mp4", false},
		{"audio/ogg; codecs=\"opus\"", "ogg", false},
		{"audio/wav", "wav", false},
		{"audio/wav;codecs=opus", "", true},
		{"audio/webm;codecs=vorbis", "", true},
		{"video/webm", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			c, err := ContainerFor(tt.mime)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, c.Format)
		})
	}
}

const muxerListing = `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E mp4             MP4 (MPEG-4 Part 14)
  E ogg             Ogg
  E wav             WAV / WAVE (Waveform Audio)
`

const encoderListing = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`

func TestFFmpegProber(t *testing.T) {
	calls := 0
	prober := NewFFmpegProberWithRunner(func(ctx context.Context, args ...string) ([]byte, error) {
		calls++
		switch args[len(args)-1] {
		case "-muxers":
			return []byte(muxerListing), nil
		case "-encoders":
			return []byte(encoderListing), nil
		}
		return nil, errors.New("unexpected args")
	})

	assert.False(t, prober.IsTypeSupported("audio/webm"), "webm muxer missing from listing")
	assert.True(t, prober.IsTypeSupported("audio/ogg;codecs=opus"))
	assert.True(t, prober.IsTypeSupported("audio/mp4"))
	assert.True(t, prober.IsTypeSupported("audio/wav"))
	assert.False(t, prober.IsTypeSupported("audio/flac"))
	assert.Equal(t, 2, calls, "listing should be read once")

	n := NewNegotiator(prober, nil)
	c, err := n.Negotiate()
	require.NoError(t, err)
	assert.Equal(t, "audio/mp4", c.MIMEType)
}

func TestFFmpegProber_Unavailable(t *testing.T) {
	prober := NewFFmpegProberWithRunner(func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, errors.New("exec: \"ffmpeg\": executable file not found in $PATH")
	})

	assert.False(t, prober.IsTypeSupported("audio/webm"))
	assert.True(t, prober.IsTypeSupported("audio/wav"), "native wav needs no ffmpeg")
}
