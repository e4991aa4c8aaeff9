package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leonardotrapani/micstream/internal/logging"
)

type recordedCall struct {
	name string
	args []string
}

func recordingDesktop(calls *[]recordedCall, err error) Desktop {
	return Desktop{Run: func(name string, args ...string) error {
		*calls = append(*calls, recordedCall{name, args})
		return err
	}}
}

func TestDesktopNotifier(t *testing.T) {
	var calls []recordedCall
	d := recordingDesktop(&calls, nil)

	d.RecordingChanged(true)
	d.RecordingChanged(false)
	d.ConnectionChanged(false)
	d.ArtifactReady("file:///tmp/x.webm", 20)
	d.Error("boom")

	if assert.Len(t, calls, 5) {
		for _, c := range calls {
			assert.Equal(t, "notify-send", c.name)
			assert.Equal(t, []string{"-a", "micstream"}, c.args[:2])
		}
		assert.Contains(t, calls[0].args, "micstream: Started Recording")
		assert.Contains(t, calls[1].args, "micstream: Stopped Recording")
		assert.Contains(t, calls[3].args, "file:///tmp/x.webm (20 bytes)")
		assert.Contains(t, calls[4].args, "critical")
	}
}

func TestDesktopNotifier_RunFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.Init(logging.Config{})

	var calls []recordedCall
	recordingDesktop(&calls, errors.New("notify-send missing")).Error("x")
	assert.Contains(t, buf.String(), "Failed to send notification")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.Init(logging.Config{})

	tests := []struct {
		name string
		call func(Log)
		want string
	}{
		{"RecordingStarted", func(l Log) { l.RecordingChanged(true) }, "Recording Started"},
		{"RecordingStopped", func(l Log) { l.RecordingChanged(false) }, "Recording Stopped"},
		{"Connected", func(l Log) { l.ConnectionChanged(true) }, "Connected"},
		{"Disconnected", func(l Log) { l.ConnectionChanged(false) }, "Connection lost"},
		{"ArtifactReady", func(l Log) { l.ArtifactReady("mem://abc", 7) }, "mem://abc (7 bytes)"},
		{"Error", func(l Log) { l.Error("test error message") }, "micstream Error: test error message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.call(Log{})
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output should contain %q, got: %s", tt.want, buf.String())
			}
		})
	}
}

func TestNopNotifier(t *testing.T) {
	nop := Nop{}
	nop.RecordingChanged(true)
	nop.ConnectionChanged(true)
	nop.ArtifactReady("", 0)
	nop.Error("test message")
}

func TestNew(t *testing.T) {
	assert.IsType(t, Desktop{}, New("desktop"))
	assert.IsType(t, Log{}, New("log"))
	assert.IsType(t, Nop{}, New("none"))
	assert.IsType(t, Nop{}, New(""))
}
