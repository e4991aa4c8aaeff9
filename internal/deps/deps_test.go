package deps

import (
	"os/exec"
	"testing"
)

func TestCheckFFmpeg(t *testing.T) {
	status := CheckFFmpeg()

	if status.Name != "ffmpeg" {
		t.Errorf("name = %q, want ffmpeg", status.Name)
	}
	if status.Installed {
		if status.Path == "" {
			t.Error("installed but path empty")
		}
	} else {
		if status.Path != "" {
			t.Error("not installed but path non-empty")
		}
	}
}

func TestCheckFFmpeg_Installed(t *testing.T) {
	// ffmpeg is commonly installed - test if available
	_, err := exec.LookPath("ffmpeg")
	if err == nil {
		status := CheckFFmpeg()
		if !status.Installed {
			t.Error("ffmpeg in PATH but Installed=false")
		}
		if status.Path == "" {
			t.Error("ffmpeg installed but path empty")
		}
		if status.Version == "" {
			t.Error("ffmpeg installed but version empty")
		}
	} else {
		t.Skip("ffmpeg not installed, can't test installed case")
	}
}

func TestCheck_Missing(t *testing.T) {
	status := Check(Tool{Name: "micstream-definitely-not-a-binary", Purpose: "test"})
	if status.Installed {
		t.Error("expected Installed=false for missing tool")
	}
	if status.Path != "" || status.Version != "" {
		t.Errorf("expected empty path/version, got %+v", status)
	}
	if status.Purpose != "test" {
		t.Errorf("purpose not carried through: %q", status.Purpose)
	}
}

func TestCheckAll(t *testing.T) {
	all := CheckAll()
	want := []string{"pw-record", "pw-cli", "ffmpeg", "notify-send"}
	if len(all) != len(want) {
		t.Fatalf("CheckAll() returned %d entries, want %d", len(all), len(want))
	}
	for i, name := range want {
		if all[i].Name != name {
			t.Errorf("entry %d = %q, want %q", i, all[i].Name, name)
		}
	}
}
