package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupported is returned when no preferred encoding is available.
var ErrNotSupported = errors.New("no supported audio MIME type found")

// DefaultPreferences is the priority-ordered candidate list. Earlier
// entries are strictly preferred.
var DefaultPreferences = []string{
	"audio/webm",
	"audio/webm;codecs=opus",
	"audio/mp4",
	"audio/mp4;codecs=opus",
	"audio/ogg",
	"audio/ogg;codecs=opus",
	"audio/wav",
}

// Choice is the encoding selected for one recording session.
type Choice struct {
	MIMEType string
	Bitrate  int // bits per second, 0 = encoder default
	Channels int // 0 = follow the capture stream
}

func (c Choice) String() string {
	return c.MIMEType
}

// Container describes how a MIME tag maps onto an ffmpeg muxer and encoder.
type Container struct {
	Format    string // ffmpeg muxer name
	Codec     string // ffmpeg audio encoder
	Extension string
	Native    bool // produced without external tools
}

var containers = map[string]Container{
	"audio/webm": {Format: "webm", Codec: "libopus", Extension: "webm"},
	"audio/mp4":  {Format: "mp4", Codec: "libopus", Extension: "m4a"},
	"audio/ogg":  {Format: "ogg", Codec: "libopus", Extension: "ogg"},
	"audio/wav":  {Format: "wav", Codec: "pcm_s16le", Extension: "wav", Native: true},
}

// ContainerFor resolves a MIME tag such as "audio/ogg;codecs=opus".
func ContainerFor(mime string) (Container, error) {
	base, params, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mime)), ";")
	c, ok := containers[strings.TrimSpace(base)]
	if !ok {
		return Container{}, fmt.Errorf("unknown container for %q", mime)
	}
	if params != "" {
		key, val, _ := strings.Cut(strings.TrimSpace(params), "=")
		if strings.TrimSpace(key) != "codecs" || strings.Trim(strings.TrimSpace(val), `"`) != "opus" {
			return Container{}, fmt.Errorf("unknown codec parameters in %q", mime)
		}
		if c.Native {
			return Container{}, fmt.Errorf("codec parameters not supported for %q", base)
		}
	}
	return c, nil
}

// Prober reports whether the runtime can produce a given encoding.
type Prober interface {
	IsTypeSupported(mime string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(mime string) bool

func (f ProberFunc) IsTypeSupported(mime string) bool { return f(mime) }

// StaticProber supports a fixed set of MIME tags.
type StaticProber map[string]bool

func NewStaticProber(mimes ...string) StaticProber {
	p := make(StaticProber, len(mimes))
	for _, m := range mimes {
		p[m] = true
	}
	return p
}

func (p StaticProber) IsTypeSupported(mime string) bool { return p[mime] }

// Negotiator picks the first supported entry of an ordered preference list.
type Negotiator struct {
	preferences []string
	prober      Prober
	bitrate     int
	channels    int
}

type Option func(*Negotiator)

// WithBitrate sets the bitrate carried on every negotiated Choice.
func WithBitrate(bps int) Option { return func(n *Negotiator) { n.bitrate = bps } }

// WithChannels sets the channel count carried on every negotiated Choice.
func WithChannels(ch int) Option { return func(n *Negotiator) { n.channels = ch } }

func NewNegotiator(prober Prober, preferences []string, opts ...Option) *Negotiator {
	if len(preferences) == 0 {
		preferences = DefaultPreferences
	}
	prefs := make([]string, len(preferences))
	copy(prefs, preferences)

	n := &Negotiator{preferences: prefs, prober: prober}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Preferences returns a copy of the ordered candidate list.
func (n *Negotiator) Preferences() []string {
	out := make([]string, len(n.preferences))
	copy(out, n.preferences)
	return out
}

// Negotiate queries the prober on every call; results are not cached
// between sessions.
func (n *Negotiator) Negotiate() (Choice, error) {
	for _, mime := range n.preferences {
		if n.prober.IsTypeSupported(mime) {
			return Choice{MIMEType: mime, Bitrate: n.bitrate, Channels: n.channels}, nil
		}
	}
	return Choice{}, ErrNotSupported
}
