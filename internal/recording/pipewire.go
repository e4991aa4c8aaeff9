package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PipeWireConfig configures pw-record based capture.
type PipeWireConfig struct {
	SampleRate int
	Channels   int
	Format     string
	BufferSize int
	Device     string
	// EchoCancelSource is the node used when echo cancellation is requested,
	// typically the source created by libpipewire-module-echo-cancel.
	EchoCancelSource string
}

func DefaultPipeWireConfig() PipeWireConfig {
	return PipeWireConfig{
		SampleRate: 48000,
		Channels:   1,
		Format:     "s16",
		BufferSize: 4096,
	}
}

// PipeWireDevice opens microphone streams with pw-record.
type PipeWireDevice struct {
	config PipeWireConfig
	check  func(ctx context.Context) error
}

func NewPipeWireDevice(config PipeWireConfig) *PipeWireDevice {
	return &PipeWireDevice{config: config, check: CheckPipeWireAvailable}
}

// Open starts pw-record and waits for the first audio bytes, the process
// exiting, or ctx being cancelled.
func (d *PipeWireDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := d.validateConfig(); err != nil {
		return nil, err
	}
	if err := d.check(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	// The process outlives ctx, which only bounds the open itself.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "pw-record", d.buildPwRecordArgs(c)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: start pw-record: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: start pw-record: %v", ErrDeviceUnavailable, err)
	}

	s := &pwStream{
		cmd:        cmd,
		cancel:     cancel,
		stdout:     stdout,
		format:     Format{SampleRate: d.config.SampleRate, Channels: d.config.Channels, Sample: d.config.Format},
		stderrDone: make(chan struct{}),
	}
	go s.logStderr(stderr)

	type firstRead struct {
		data []byte
		err  error
	}
	first := make(chan firstRead, 1)
	go func() {
		buf := make([]byte, d.config.BufferSize)
		n, err := stdout.Read(buf)
		first <- firstRead{data: buf[:n], err: err}
	}()

	select {
	case r := <-first:
		if len(r.data) == 0 {
			stderrText := s.lastStderr()
			_ = s.Stop()
			return nil, classifyExit(stderrText, r.err)
		}
		s.pending = r.data
		if r.err != nil {
			s.pendingErr = r.err
		}
		return s, nil
	case <-ctx.Done():
		_ = s.Stop()
		return nil, ctx.Err()
	}
}

// classifyExit maps a pw-record failure before any audio onto the capture
// error kinds.
func classifyExit(stderr string, readErr error) error {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"permission denied", "access denied", "not authorized", "eacces"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, stderr)
		}
	}
	if stderr == "" && readErr != nil {
		return fmt.Errorf("%w: pw-record exited: %v", ErrDeviceUnavailable, readErr)
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, stderr)
}

type pwStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.Reader
	format Format

	pending    []byte
	pendingErr error

	mu         sync.Mutex
	stderr     []string
	stderrDone chan struct{}
	stopping   atomic.Bool
	stopped    sync.Once
}

func (s *pwStream) Format() Format { return s.format }

func (s *pwStream) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.pendingErr != nil {
		return 0, s.pendingErr
	}
	n, err := s.stdout.Read(p)
	if err != nil && s.stopping.Load() {
		err = io.EOF
	}
	return n, err
}

func (s *pwStream) Stop() error {
	var err error
	s.stopped.Do(func() {
		s.stopping.Store(true)
		s.cancel()
		err = s.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// killed by our own cancel
			err = nil
		}
	})
	return err
}

func (s *pwStream) logStderr(r io.Reader) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debugf("Recording stderr: %s", line)
		s.mu.Lock()
		s.stderr = append(s.stderr, line)
		if len(s.stderr) > 8 {
			s.stderr = s.stderr[1:]
		}
		s.mu.Unlock()
	}
}

func (s *pwStream) lastStderr() string {
	select {
	case <-s.stderrDone:
	case <-time.After(500 * time.Millisecond):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.stderr, "; ")
}

func (d *PipeWireDevice) buildPwRecordArgs(c Constraints) []string {
	args := []string{
		"--format", d.config.Format,
		"--rate", strconv.Itoa(d.config.SampleRate),
		"--channels", strconv.Itoa(d.config.Channels),
		"-", // stdout
	}
	target := d.config.Device
	if c.EchoCancellation && d.config.EchoCancelSource != "" {
		target = d.config.EchoCancelSource
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return args
}

func CheckPipeWireAvailable(ctx context.Context) error {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return fmt.Errorf("pw-record not found: %w (install pipewire-tools)", err)
	}
	// Use a short timeout to avoid hangs on misconfigured systems.
	if ctx == nil {
		ctx = context.Background()
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, "pw-cli", "info")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("PipeWire not running or accessible: %w", err)
	}
	return nil
}

func (d *PipeWireDevice) validateConfig() error {
	if d.config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", d.config.SampleRate)
	}
	if d.config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", d.config.Channels)
	}
	if d.config.BufferSize <= 0 {
		return fmt.Errorf("invalid BufferSize: %d", d.config.BufferSize)
	}
	if d.config.Format == "" {
		return fmt.Errorf("invalid Format: empty")
	}
	frameBytes := Format{Channels: d.config.Channels, Sample: d.config.Format}.BytesPerFrame()
	if d.config.BufferSize%frameBytes != 0 {
		log.Warnf("Recording: BufferSize %d not aligned to frame size %d; audio frames may split",
			d.config.BufferSize, frameBytes)
	}
	return nil
}
