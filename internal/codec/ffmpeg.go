package codec

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("codec")

// Runner executes ffmpeg with args and returns stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "ffmpeg", args...).Output()
}

// FFmpegProber reports support based on the muxers and encoders of the
// local ffmpeg build. The listing is read once; native containers are
// always supported.
type FFmpegProber struct {
	run Runner

	once     sync.Once
	muxers   map[string]bool
	encoders map[string]bool
}

func NewFFmpegProber() *FFmpegProber {
	return &FFmpegProber{run: execRunner}
}

// NewFFmpegProberWithRunner is used by tests to fake ffmpeg output.
func NewFFmpegProberWithRunner(run Runner) *FFmpegProber {
	return &FFmpegProber{run: run}
}

func (p *FFmpegProber) IsTypeSupported(mime string) bool {
	c, err := ContainerFor(mime)
	if err != nil {
		return false
	}
	if c.Native {
		return true
	}
	p.once.Do(p.load)
	return p.muxers[c.Format] && p.encoders[c.Codec]
}

func (p *FFmpegProber) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.muxers = map[string]bool{}
	p.encoders = map[string]bool{}

	out, err := p.run(ctx, "-hide_banner", "-muxers")
	if err != nil {
		log.Warnf("Codec: ffmpeg muxer listing unavailable: %v", err)
		return
	}
	p.muxers = parseListing(out)

	out, err = p.run(ctx, "-hide_banner", "-encoders")
	if err != nil {
		log.Warnf("Codec: ffmpeg encoder listing unavailable: %v", err)
		return
	}
	p.encoders = parseListing(out)
	log.Debugf("Codec: ffmpeg reports %d muxers, %d encoders", len(p.muxers), len(p.encoders))
}

// parseListing reads the "<flags> <name>[,alias] <description>" table that
// ffmpeg prints after the "--" separator line.
func parseListing(out []byte) map[string]bool {
	names := map[string]bool{}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	inTable := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			if strings.HasPrefix(line, "--") || strings.HasPrefix(line, "------") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}
