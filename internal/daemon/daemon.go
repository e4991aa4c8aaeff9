package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"

	"github.com/leonardotrapani/micstream/internal/artifact"
	"github.com/leonardotrapani/micstream/internal/bus"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/leonardotrapani/micstream/internal/controller"
	"github.com/leonardotrapani/micstream/internal/logging"
	"github.com/leonardotrapani/micstream/internal/metrics"
	"github.com/leonardotrapani/micstream/internal/notify"
	"github.com/leonardotrapani/micstream/internal/recording"
)

var log = logging.L("daemon")

type Daemon struct {
	mu      sync.Mutex
	config  *config.Manager
	current *config.Config

	ctx    context.Context
	cancel context.CancelFunc

	ctrl        *controller.Controller
	metricsAddr string
}

// New builds the capture stack described by the managed config.
func New(cm *config.Manager) *Daemon {
	cfg := cm.GetConfig()

	var store artifact.Store = artifact.NewMemoryStore()
	if cfg.Artifact.Store == "file" {
		store = artifact.NewFileStore(cfg.ArtifactDir())
	}
	capture := recording.NewCapture(recording.NewPipeWireDevice(cfg.ToPipeWireConfig()))
	ctrl := controller.New(capture, store, ControllerOptions(cfg),
		controller.WithNotifier(notify.New(cfg.NotifierType())),
		controller.WithMetrics(metrics.New()))

	d := NewWithController(ctrl)
	d.config = cm
	d.current = cfg
	d.metricsAddr = cfg.Metrics.Listen
	return d
}

// NewWithController hosts an already wired controller.
func NewWithController(ctrl *controller.Controller) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ControllerOptions maps the config onto per-session controller options.
func ControllerOptions(cfg *config.Config) controller.Options {
	mode := controller.Mode(cfg.General.Mode)
	return controller.Options{
		Mode:                mode,
		Constraints:         cfg.Constraints(),
		Endpoint:            cfg.Transport.Endpoint,
		Transport:           cfg.ToTransportOptions(),
		ReleaseDeviceOnStop: cfg.Recording.ReleaseDeviceOnStop,
		Negotiator:          cfg.NewNegotiator(cfg.NewProber()),
		Encoder:             cfg.NewEncoder(string(mode)),
	}
}

func (d *Daemon) Controller() *controller.Controller { return d.ctrl }

func (d *Daemon) Run() error {
	if err := bus.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := bus.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := bus.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer bus.RemovePidFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("Received signal %v, shutting down gracefully", sig)
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	ctrlDone := make(chan struct{})
	go func() {
		_ = d.ctrl.Run(d.ctx)
		close(ctrlDone)
	}()
	defer func() { <-ctrlDone }()

	if d.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(d.ctx, d.metricsAddr, d.ctrl.Metrics()); err != nil {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	if d.config != nil {
		d.config.OnChange(d.applyConfig)
		if err := d.config.StartWatching(d.ctx); err != nil {
			log.Warnf("Config hot reload disabled: %v", err)
		} else {
			defer d.config.Stop()
		}
	}

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	log.Infof("Daemon started, listening on socket")

	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				log.Infof("Shutdown requested")
				return nil
			}
			log.Errorf("Accept error: %v", err)
			d.cancel()
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

func (d *Daemon) Shutdown() { d.cancel() }

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.current
	d.current = cfg
	d.ctrl.Reconfigure(ControllerOptions(cfg))
	if prev != nil && !reflect.DeepEqual(prev.ToPipeWireConfig(), cfg.ToPipeWireConfig()) {
		log.Warnf("Daemon: capture device settings take effect after a restart")
	}
	if prev != nil && prev.Metrics.Listen != cfg.Metrics.Listen {
		log.Warnf("Daemon: metrics.listen takes effect after a restart")
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		log.Warnf("Client read error: %v", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdToggle:
		d.reply(c, d.ctrl.Toggle())
	case bus.CmdStart:
		d.reply(c, d.ctrl.Start())
	case bus.CmdStop:
		d.reply(c, d.ctrl.Stop())
	case bus.CmdStatus:
		fmt.Fprintf(c, "%s\n", FormatStatus(d.ctrl.Status()))
	case bus.CmdCancel:
		if err := d.ctrl.Teardown(); err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprint(c, "OK cancelled\n")
	case bus.CmdReconnect:
		if err := d.ctrl.Reconnect(); err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprint(c, "OK reconnecting\n")
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		log.Warnf("Unknown command: %c", cmd)
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

// reply answers a control request with the resulting status. Failures are
// already carried in last_error.
func (d *Daemon) reply(c net.Conn, err error) {
	if errors.Is(err, controller.ErrClosed) {
		fmt.Fprint(c, "ERR shutting_down\n")
		return
	}
	fmt.Fprintf(c, "%s\n", FormatStatus(d.ctrl.Status()))
}

// FormatStatus renders s as a single "STATUS k=v ..." line. Empty values
// are left out; the error message is Go-quoted.
func FormatStatus(s controller.Status) string {
	fields := []string{
		"status=" + string(s.State),
		"mode=" + string(s.Mode),
		fmt.Sprintf("recording=%t", s.Recording),
		fmt.Sprintf("connected=%t", s.Connected),
		fmt.Sprintf("chunks=%d", s.ChunksProduced),
		fmt.Sprintf("dropped=%d", s.ChunksDropped),
	}
	if s.Codec != "" {
		fields = append(fields, "codec="+s.Codec)
	}
	if s.LastError != nil {
		fields = append(fields, "last_error="+string(s.LastError.Kind), fmt.Sprintf("error=%q", s.LastError.Error()))
	}
	if s.Artifact != nil {
		fields = append(fields, "artifact="+s.Artifact.Handle, fmt.Sprintf("size=%d", s.Artifact.Size))
	}
	return "STATUS " + strings.Join(fields, " ")
}
