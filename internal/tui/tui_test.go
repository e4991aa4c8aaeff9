package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardotrapani/micstream/internal/config"
)

func TestStatusViewRecordingLive(t *testing.T) {
	v := NewPlainStatusView(&bytes.Buffer{})
	out := v.Render(map[string]string{
		"status":     "recording",
		"mode":       "live",
		"connected":  "true",
		"codec":      "audio/webm",
		"chunks":     "12",
		"dropped":    "2",
		"last_error": "connection",
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "● recording (live)", lines[0])
	assert.Contains(t, lines[1], "connected")
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[2], "audio/webm")
	assert.Contains(t, lines[3], "12 (2 dropped)")
	assert.Contains(t, lines[4], "last error")
	assert.Contains(t, lines[4], "connection")
}

func TestStatusViewShowsErrorMessage(t *testing.T) {
	out := NewPlainStatusView(&bytes.Buffer{}).Render(map[string]string{
		"status":     "idle",
		"mode":       "local",
		"last_error": "encoding",
		"error":      "recording could not be encoded: disk full",
	})
	assert.Contains(t, out, "recording could not be encoded: disk full")
	assert.Equal(t, 1, strings.Count(out, "last error"))
}

func TestStatusViewLocalArtifact(t *testing.T) {
	v := NewPlainStatusView(&bytes.Buffer{})
	out := v.Render(map[string]string{
		"status":   "idle",
		"mode":     "local",
		"chunks":   "3",
		"dropped":  "0",
		"artifact": "file:///tmp/a.webm",
		"size":     "2048",
	})

	assert.NotContains(t, out, "connected")
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "file:///tmp/a.webm (2048 bytes)")
}

func TestStatusViewUnknownState(t *testing.T) {
	out := NewPlainStatusView(&bytes.Buffer{}).Render(map[string]string{})
	assert.True(t, strings.HasPrefix(out, "● unknown\n"), out)
	assert.Contains(t, out, "chunks")
}

func TestSummaryLines(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Recording.NoiseSuppression = false

	labels := map[string]string{}
	for _, l := range summaryLines(cfg) {
		labels[l.Label] = l.Value
	}
	assert.Equal(t, config.ModeLocal, labels["Mode:"])
	assert.Equal(t, "default microphone", labels["Device:"])
	assert.Equal(t, "echo cancellation, auto gain", labels["Processing:"])
	assert.Contains(t, labels["Codecs:"], "audio/webm -> ")
	assert.Contains(t, labels, "Artifacts:")
	assert.NotContains(t, labels, "Endpoint:")

	cfg.General.Mode = config.ModeLive
	cfg.Transport.ReconnectDelay = 2 * time.Second
	labels = map[string]string{}
	for _, l := range summaryLines(cfg) {
		labels[l.Label] = l.Value
	}
	assert.Equal(t, cfg.Transport.Endpoint, labels["Endpoint:"])
	assert.Equal(t, "5 attempts, 2s apart", labels["Reconnect:"])
}

func TestProcessingRoundTrip(t *testing.T) {
	var r config.RecordingConfig
	applyProcessing(&r, []string{"noise", "gain"})
	assert.False(t, r.EchoCancellation)
	assert.True(t, r.NoiseSuppression)
	assert.True(t, r.AutoGainControl)
	assert.Equal(t, []string{"noise", "gain"}, processingKeys(r))
	assert.Equal(t, "none", processingSummary(config.RecordingConfig{}))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePositive("16000"))
	assert.Error(t, validatePositive("0"))
	assert.Error(t, validatePositive("abc"))

	assert.NoError(t, validateNonNegative("0"))
	assert.Error(t, validateNonNegative("-1"))

	assert.NoError(t, validateDuration("250ms"))
	assert.Error(t, validateDuration("soon"))
	assert.Error(t, validateDuration("-1s"))

	assert.NoError(t, validateEndpoint("http://localhost:8000"))
	assert.Error(t, validateEndpoint("ftp://localhost"))

	assert.NoError(t, validatePreferences("audio/webm, audio/ogg;codecs=opus"))
	assert.Error(t, validatePreferences("audio/webm, video/mp4"))
}

func TestParsePreferences(t *testing.T) {
	assert.Equal(t, []string{"audio/webm", "audio/wav"}, parsePreferences(" audio/webm ,, audio/wav, "))
	assert.Nil(t, parsePreferences(""))
}

func TestMenuLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := menuOptions(cfg)
	require.Len(t, opts, 9)
	assert.Equal(t, "Mode (local)", opts[0].Key)
	assert.Equal(t, "Recording (default, 48000 Hz)", opts[1].Key)
	assert.Equal(t, "Codec (audio/webm first)", opts[2].Key)
	assert.Equal(t, "Notifications (desktop)", opts[5].Key)
	assert.Equal(t, SectionSaveExit, opts[7].Value)

	cfg.Notifications.Enabled = false
	cfg.Artifact.Store = "memory"
	assert.Equal(t, "Notifications (off)", formatNotificationsLabel(cfg))
	assert.Equal(t, "Artifacts (memory)", formatArtifactLabel(cfg))
	assert.Equal(t, "Metrics (disabled)", formatAdvancedMetricsLabel(cfg))
}

func TestLogoLines(t *testing.T) {
	lines := LogoLines()
	assert.Len(t, lines, 5)
	assert.NotEmpty(t, Logo())
}

func TestApplyNotifierKind(t *testing.T) {
	n := config.NotificationsConfig{Enabled: true, Type: "desktop"}

	applyNotifierKind(&n, "none")
	assert.False(t, n.Enabled)
	assert.Equal(t, "desktop", n.Type)

	applyNotifierKind(&n, "log")
	assert.True(t, n.Enabled)
	assert.Equal(t, "log", n.Type)
}
