package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/leonardotrapani/micstream/internal/bus"
	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/leonardotrapani/micstream/internal/daemon"
	"github.com/leonardotrapani/micstream/internal/deps"
	"github.com/leonardotrapani/micstream/internal/logging"
	"github.com/leonardotrapani/micstream/internal/recording"
	"github.com/leonardotrapani/micstream/internal/tui"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rawOutput  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "micstream",
	Short:        "Microphone capture with local recording and live streaming",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&rawOutput, "raw", false, "print daemon replies unformatted")

	rootCmd.AddCommand(
		serveCmd(),
		controlCmd("toggle", "Toggle recording on/off", bus.CmdToggle),
		controlCmd("start", "Start recording", bus.CmdStart),
		controlCmd("stop", "Stop recording", bus.CmdStop),
		controlCmd("status", "Get current recording status", bus.CmdStatus),
		controlCmd("cancel", "Abort recording and release the microphone", bus.CmdCancel),
		controlCmd("reconnect", "Reconnect the live stream", bus.CmdReconnect),
		controlCmd("version", "Get protocol version", bus.CmdVersion),
		controlCmd("quit", "Stop the daemon", bus.CmdQuit),
		configureCmd(),
		codecsCmd(),
		doctorCmd(),
	)
}

func loadManager() (*config.Manager, error) {
	if configPath != "" {
		return config.NewManagerForFile(configPath)
	}
	return config.NewManager()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.LoadOrDefault()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := loadManager()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logging.Init(cm.GetConfig().ToLoggingConfig())
			defer logging.Sync()

			return daemon.New(cm).Run()
		},
	}
}

func controlCmd(use, short string, c byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand(c)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			return printResponse(cmd.OutOrStdout(), resp, rawOutput)
		},
	}
}

// printResponse renders STATUS replies through the status view and passes
// everything else through. ERR replies become command errors.
func printResponse(w io.Writer, resp string, raw bool) error {
	line := strings.TrimSpace(resp)
	if strings.HasPrefix(line, "ERR") {
		return errors.New(strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	}
	if raw || !strings.HasPrefix(line, "STATUS ") || strings.HasPrefix(line, "STATUS proto=") {
		fmt.Fprintln(w, line)
		return nil
	}
	fields, err := bus.ParseStatus(line)
	if err != nil {
		fmt.Fprintln(w, line)
		return nil
	}
	fmt.Fprint(w, tui.NewStatusView(w).Render(fields))
	return nil
}

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration menu for micstream.
Covers the recording mode, microphone and voice processing,
codec preferences, the streaming endpoint and local artifact storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure()
		},
	}
}

func runConfigure() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result, err := tui.Run(cfg)
	if err != nil {
		return fmt.Errorf("configuration wizard error: %w", err)
	}

	if result.Cancelled {
		fmt.Println(tui.StyleWarning.Render("Configuration cancelled."))
		return nil
	}

	if err := result.Config.Validate(); err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		return err
	}

	if configPath != "" {
		err = config.SaveFile(configPath, result.Config)
	} else {
		err = config.Save(result.Config)
	}
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println(tui.StyleSuccess.Render("Configuration saved successfully!"))
	fmt.Println()

	showNextSteps()
	return nil
}

func showNextSteps() {
	serviceRunning := false
	if _, err := exec.Command("systemctl", "--user", "is-active", "--quiet", "micstream.service").CombinedOutput(); err == nil {
		serviceRunning = true
	}

	fmt.Println("Next Steps:")
	if !serviceRunning {
		fmt.Println("1. Start the daemon: micstream serve (or systemctl --user start micstream.service)")
	} else {
		fmt.Println("1. Most settings apply to the next recording; device and metrics changes need: systemctl --user restart micstream.service")
	}
	fmt.Println("2. Test recording: micstream toggle")
	fmt.Println()

	path := configPath
	if path == "" {
		path, _ = config.GetConfigPath()
	}
	fmt.Printf("Config file location: %s\n", path)
}

func codecsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "Show which preferred encodings are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return printCodecs(cmd.OutOrStdout(), cfg, cfg.NewProber())
		},
	}
}

func printCodecs(w io.Writer, cfg *config.Config, prober codec.Prober) error {
	neg := cfg.NewNegotiator(prober)
	choice, err := neg.Negotiate()

	for _, mime := range neg.Preferences() {
		mark := "[ ]"
		if prober.IsTypeSupported(mime) {
			mark = "[x]"
		}
		line := fmt.Sprintf("  %s %s", mark, mime)
		if err == nil && mime == choice.MIMEType {
			line += " (selected)"
		}
		fmt.Fprintln(w, line)
	}
	return err
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, PipeWire and the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runDoctor(ctx context.Context, w io.Writer) error {
	problems := 0

	fmt.Fprintln(w, "Tools:")
	for _, s := range deps.CheckAll() {
		if !s.Installed {
			fmt.Fprintf(w, "  [ ] %s - missing (%s)\n", s.Name, s.Purpose)
			if s.Name == deps.PwRecord.Name {
				problems++
			}
			continue
		}
		fmt.Fprintf(w, "  [x] %s - %s\n", s.Name, orDefault(s.Version, s.Path))
	}

	fmt.Fprintln(w, "PipeWire:")
	if err := recording.CheckPipeWireAvailable(ctx); err != nil {
		fmt.Fprintf(w, "  [ ] %v\n", err)
		problems++
	} else {
		fmt.Fprintln(w, "  [x] running")
	}

	fmt.Fprintln(w, "Config:")
	if cfg, err := loadConfig(); err != nil {
		fmt.Fprintf(w, "  [ ] %v\n", err)
		problems++
	} else if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "  [ ] %v\n", err)
		problems++
	} else {
		fmt.Fprintf(w, "  [x] valid (mode=%s)\n", cfg.General.Mode)
	}

	fmt.Fprintln(w, "Daemon:")
	if resp, err := bus.SendCommand(bus.CmdVersion); err != nil {
		fmt.Fprintln(w, "  [ ] not running (start it with: micstream serve)")
	} else {
		fmt.Fprintf(w, "  [x] %s\n", strings.TrimSpace(resp))
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
