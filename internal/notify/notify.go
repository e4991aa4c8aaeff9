package notify

import (
	"fmt"
	"os/exec"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("notify")

type Notifier interface {
	RecordingChanged(on bool)
	ConnectionChanged(connected bool)
	ArtifactReady(handle string, size int)
	Error(msg string)
}

// New returns the notifier for a config type: "desktop", "log" or "none".
func New(kind string) Notifier {
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		return Log{}
	default:
		return Nop{}
	}
}

// Desktop sends notifications through notify-send.
type Desktop struct {
	// Run executes the command; nil runs notify-send.
	Run func(name string, args ...string) error
}

func (d Desktop) send(args ...string) {
	run := d.Run
	if run == nil {
		run = func(name string, args ...string) error { return exec.Command(name, args...).Run() }
	}
	if err := run("notify-send", append([]string{"-a", "micstream"}, args...)...); err != nil {
		log.Warnf("Failed to send notification: %v", err)
	}
}

func (d Desktop) RecordingChanged(on bool) {
	state := "Stopped"
	if on {
		state = "Started"
	}
	d.send(fmt.Sprintf("micstream: %s Recording", state))
}

func (d Desktop) ConnectionChanged(connected bool) {
	if connected {
		d.send("micstream: Connected")
		return
	}
	d.send("-u", "normal", "micstream: Connection lost")
}

func (d Desktop) ArtifactReady(handle string, size int) {
	d.send("micstream: Recording ready", fmt.Sprintf("%s (%d bytes)", handle, size))
}

func (d Desktop) Error(msg string) {
	d.send("-u", "critical", "micstream Error", msg)
}

// Log writes notifications to the process log.
type Log struct{}

func (Log) RecordingChanged(on bool) {
	if on {
		log.Infof("micstream: Recording Started")
		return
	}
	log.Infof("micstream: Recording Stopped")
}

func (Log) ConnectionChanged(connected bool) {
	if connected {
		log.Infof("micstream: Connected")
		return
	}
	log.Warnf("micstream: Connection lost")
}

func (Log) ArtifactReady(handle string, size int) {
	log.Infof("micstream: Recording ready at %s (%d bytes)", handle, size)
}

func (Log) Error(msg string) {
	log.Errorf("micstream Error: %s", msg)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) RecordingChanged(on bool)              {}
func (Nop) ConnectionChanged(connected bool)      {}
func (Nop) ArtifactReady(handle string, size int) {}
func (Nop) Error(msg string)                      {}
