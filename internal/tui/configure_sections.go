package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/config"
)

func editGeneral(cfg *config.Config) error {
	mode := cfg.General.Mode

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Recording Mode").
				Description("What happens to encoded chunks while recording").
				Options(
					huh.NewOption("Local - assemble one artifact on stop", config.ModeLocal),
					huh.NewOption("Live - stream chunks to a server", config.ModeLive),
				).
				Value(&mode),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.General.Mode = mode
	return nil
}

func editRecording(cfg *config.Config) error {
	device := cfg.Recording.Device
	sampleRate := strconv.Itoa(cfg.Recording.SampleRate)
	channels := strconv.Itoa(cfg.Recording.Channels)
	format := cfg.Recording.Format
	bufferSize := strconv.Itoa(cfg.Recording.BufferSize)
	echoSource := cfg.Recording.EchoCancelSource
	processing := processingKeys(cfg.Recording)
	release := cfg.Recording.ReleaseDeviceOnStop

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device").
				Description("PipeWire device name. Empty = default microphone.").
				Placeholder("(default)").
				Value(&device),
			huh.NewInput().
				Title("Sample Rate (Hz)").
				Placeholder("48000").
				Value(&sampleRate).
				Validate(validatePositive),
			huh.NewSelect[string]().
				Title("Channels").
				Options(
					huh.NewOption("1 (Mono) - Recommended", "1"),
					huh.NewOption("2 (Stereo)", "2"),
				).
				Value(&channels),
			huh.NewSelect[string]().
				Title("Sample Format").
				Options(
					huh.NewOption("s16 (16-bit signed) - Recommended", "s16"),
					huh.NewOption("f32 (32-bit float)", "f32"),
				).
				Value(&format),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Voice Processing").
				Description("Requested from the capture stack. Unavailable filters are skipped.").
				Options(
					huh.NewOption("Echo cancellation", "echo"),
					huh.NewOption("Noise suppression", "noise"),
					huh.NewOption("Automatic gain control", "gain"),
				).
				Value(&processing),
			huh.NewInput().
				Title("Echo Cancel Source").
				Description("Node created by PipeWire's echo-cancel module. Empty = none.").
				Value(&echoSource),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Buffer Size (bytes)").
				Description("Read size from the capture stream.").
				Placeholder("4096").
				Value(&bufferSize).
				Validate(validatePositive),
			huh.NewConfirm().
				Title("Release microphone after each recording?").
				Description("Otherwise the device stays open until the daemon exits.").
				Value(&release),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Recording.Device = strings.TrimSpace(device)
	cfg.Recording.SampleRate, _ = strconv.Atoi(sampleRate)
	cfg.Recording.Channels, _ = strconv.Atoi(channels)
	cfg.Recording.Format = format
	cfg.Recording.BufferSize, _ = strconv.Atoi(bufferSize)
	cfg.Recording.EchoCancelSource = strings.TrimSpace(echoSource)
	applyProcessing(&cfg.Recording, processing)
	cfg.Recording.ReleaseDeviceOnStop = release
	return nil
}

func processingKeys(r config.RecordingConfig) []string {
	var keys []string
	if r.EchoCancellation {
		keys = append(keys, "echo")
	}
	if r.NoiseSuppression {
		keys = append(keys, "noise")
	}
	if r.AutoGainControl {
		keys = append(keys, "gain")
	}
	return keys
}

func applyProcessing(r *config.RecordingConfig, keys []string) {
	r.EchoCancellation, r.NoiseSuppression, r.AutoGainControl = false, false, false
	for _, k := range keys {
		switch k {
		case "echo":
			r.EchoCancellation = true
		case "noise":
			r.NoiseSuppression = true
		case "gain":
			r.AutoGainControl = true
		}
	}
}

func editCodec(cfg *config.Config) error {
	prefs := strings.Join(cfg.Codec.Preferences, ", ")
	prober := orDefault(cfg.Codec.Prober, "ffmpeg")
	supported := strings.Join(cfg.Codec.Supported, ", ")
	bitrate := strconv.Itoa(cfg.Codec.Bitrate)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Preferred Encodings").
				Description("Comma separated, most preferred first.").
				Placeholder(strings.Join(codec.DefaultPreferences, ", ")).
				Value(&prefs).
				Validate(validatePreferences),
			huh.NewInput().
				Title("Bitrate (bps)").
				Description("0 = encoder default.").
				Value(&bitrate).
				Validate(validateNonNegative),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Support Probe").
				Description("How available encodings are detected").
				Options(
					huh.NewOption("ffmpeg - ask the local ffmpeg build", "ffmpeg"),
					huh.NewOption("static - use the list below", "static"),
				).
				Value(&prober),
			huh.NewInput().
				Title("Supported Encodings").
				Description("Used by the static probe only.").
				Value(&supported),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	if p := parsePreferences(prefs); len(p) > 0 {
		cfg.Codec.Preferences = p
	} else {
		cfg.Codec.Preferences = append([]string(nil), codec.DefaultPreferences...)
	}
	cfg.Codec.Bitrate, _ = strconv.Atoi(bitrate)
	cfg.Codec.Prober = prober
	cfg.Codec.Supported = parsePreferences(supported)
	return nil
}

func validatePreferences(s string) error {
	for _, mime := range parsePreferences(s) {
		if _, err := codec.ContainerFor(mime); err != nil {
			return err
		}
	}
	return nil
}

func editTransport(cfg *config.Config) error {
	endpoint := cfg.Transport.Endpoint
	attempts := strconv.Itoa(cfg.Transport.ReconnectAttempts)
	delay := cfg.Transport.ReconnectDelay.String()
	handshake := cfg.Transport.HandshakeTimeout.String()
	queue := strconv.Itoa(cfg.Transport.QueueSize)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server Endpoint").
				Description("http(s) or ws(s) URL. A bare host connects to /ws.").
				Placeholder("http://127.0.0.1:8000").
				Value(&endpoint).
				Validate(validateEndpoint),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Reconnect Attempts").
				Description("Tries after the connection drops. 0 = never reconnect.").
				Value(&attempts).
				Validate(validateNonNegative),
			huh.NewInput().
				Title("Reconnect Delay").
				Description("Wait between attempts (e.g., '1s').").
				Value(&delay).
				Validate(validateDuration),
			huh.NewInput().
				Title("Handshake Timeout").
				Value(&handshake).
				Validate(validateDuration),
			huh.NewInput().
				Title("Send Queue Size").
				Description("Chunks buffered while the socket is busy.").
				Value(&queue).
				Validate(validateNonNegative),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Transport.Endpoint = strings.TrimSpace(endpoint)
	cfg.Transport.ReconnectAttempts, _ = strconv.Atoi(attempts)
	cfg.Transport.ReconnectDelay, _ = time.ParseDuration(delay)
	cfg.Transport.HandshakeTimeout, _ = time.ParseDuration(handshake)
	cfg.Transport.QueueSize, _ = strconv.Atoi(queue)
	return nil
}

func editArtifact(cfg *config.Config) error {
	store := orDefault(cfg.Artifact.Store, "file")
	dir := cfg.Artifact.Dir

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Artifact Store").
				Description("Where local recordings are kept").
				Options(
					huh.NewOption("Files on disk", "file"),
					huh.NewOption("Memory (lost on exit)", "memory"),
				).
				Value(&store),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}
	cfg.Artifact.Store = store
	if store != "file" {
		return nil
	}

	dirForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Artifact Directory").
				Description(fmt.Sprintf("Empty = %s", config.DefaultConfig().ArtifactDir())).
				Value(&dir),
		),
	).WithTheme(getTheme())

	if err := dirForm.Run(); err != nil {
		return err
	}
	cfg.Artifact.Dir = strings.TrimSpace(dir)
	return nil
}
