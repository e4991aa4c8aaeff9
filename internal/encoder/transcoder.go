package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/recording"
)

// Transcoder reads raw PCM from src until EOF and writes the encoded
// container to dst, returning once all output has been written.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, dst io.Writer) error
}

type TranscoderFunc func(ctx context.Context, src io.Reader, dst io.Writer) error

func (f TranscoderFunc) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	return f(ctx, src, dst)
}

// TranscoderFactory builds the transcoder for a negotiated codec.
type TranscoderFactory func(choice codec.Choice, format recording.Format, cons recording.Constraints) (Transcoder, error)

// DefaultTranscoders uses native WAV for audio/wav and ffmpeg otherwise.
func DefaultTranscoders(choice codec.Choice, format recording.Format, cons recording.Constraints) (Transcoder, error) {
	c, err := codec.ContainerFor(choice.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, err)
	}
	if c.Native {
		return &WAVTranscoder{Format: format}, nil
	}
	return &FFmpegTranscoder{Args: FFmpegArgs(c, choice, format, cons)}, nil
}

// FFmpegTranscoder pipes PCM through an ffmpeg subprocess.
type FFmpegTranscoder struct {
	Binary string
	Args   []string
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	bin := t.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, t.Args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		if _, err := io.Copy(stdin, src); err != nil {
			return fmt.Errorf("feed ffmpeg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(dst, stdout); err != nil {
			return fmt.Errorf("read ffmpeg: %w", err)
		}
		return nil
	})
	pumpErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return pumpErr
}

// FFmpegArgs builds a streaming pipe:0 -> pipe:1 command line.
func FFmpegArgs(c codec.Container, choice codec.Choice, format recording.Format, cons recording.Constraints) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", pcmDemuxer(format.Sample),
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
	}

	var filters []string
	if cons.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if cons.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args, "-c:a", c.Codec)
	if choice.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(choice.Bitrate))
	}
	if choice.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(choice.Channels))
	}
	if c.Format == "mp4" {
		// fragmented so bytes can be sliced before the recording ends
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	return append(args, "-flush_packets", "1", "-f", c.Format, "pipe:1")
}

func pcmDemuxer(sample string) string {
	switch sample {
	case "s24", "s32", "f32":
		return sample + "le"
	default:
		return "s16le"
	}
}

// WAVTranscoder writes a streaming RIFF header followed by the PCM as-is.
// The header carries maximum sizes since the length is unknown up front.
type WAVTranscoder struct {
	Format recording.Format
}

func (t *WAVTranscoder) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	if _, err := dst.Write(StreamingWAVHeader(t.Format)); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy pcm: %w", err)
	}
	return ctx.Err()
}

const unknownSize = 0xFFFFFFFF

// StreamingWAVHeader returns a 44 byte header for PCM of the given format.
func StreamingWAVHeader(f recording.Format) []byte {
	var buf bytes.Buffer

	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	blockAlign := f.BytesPerFrame()
	if blockAlign <= 0 {
		blockAlign = 2 * channels
	}
	bitsPerSample := blockAlign / channels * 8
	audioFormat := uint16(1) // PCM
	if f.Sample == "f32" {
		audioFormat = 3 // IEEE float
	}

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(unknownSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, audioFormat)
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(unknownSize))
	return buf.Bytes()
}
