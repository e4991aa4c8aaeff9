package deps

import (
	"os/exec"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Name      string
	Installed bool
	Path      string
	Version   string
	Purpose   string
}

// Tool describes an external binary micstream can shell out to.
type Tool struct {
	Name        string
	VersionArgs []string
	Purpose     string
}

// Tools used by the capture and encoding stages.
var (
	PwRecord = Tool{Name: "pw-record", VersionArgs: []string{"--version"}, Purpose: "microphone capture"}
	PwCli    = Tool{Name: "pw-cli", VersionArgs: []string{"--version"}, Purpose: "PipeWire availability check"}
	FFmpeg   = Tool{Name: "ffmpeg", VersionArgs: []string{"-version"}, Purpose: "webm/mp4/ogg encoding"}
	Notify   = Tool{Name: "notify-send", VersionArgs: []string{"--version"}, Purpose: "desktop notifications"}
)

// Check looks the tool up in PATH and tries to read its version.
func Check(tool Tool) Status {
	status := Status{Name: tool.Name, Purpose: tool.Purpose}

	path, err := exec.LookPath(tool.Name)
	if err != nil {
		return status
	}
	status.Installed = true
	status.Path = path

	if len(tool.VersionArgs) == 0 {
		return status
	}
	// first non-empty output line is treated as the version string
	output, err := exec.Command(path, tool.VersionArgs...).Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				status.Version = line
				break
			}
		}
	}
	return status
}

// CheckFFmpeg checks if ffmpeg is installed and returns its status
func CheckFFmpeg() Status {
	return Check(FFmpeg)
}

// CheckPwRecord checks if pw-record is installed and returns its status
func CheckPwRecord() Status {
	return Check(PwRecord)
}

// CheckAll reports every tool in a stable order.
func CheckAll() []Status {
	tools := []Tool{PwRecord, PwCli, FFmpeg, Notify}
	out := make([]Status, 0, len(tools))
	for _, t := range tools {
		out = append(out, Check(t))
	}
	return out
}
