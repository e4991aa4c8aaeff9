package bus

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const SockName = "control.sock"
const PidName = "micstream.pid"
const ProtoVer = "0.1"

// Control commands, one byte followed by a newline.
const (
	CmdToggle    byte = 't'
	CmdStart     byte = 'r'
	CmdStop      byte = 'x'
	CmdStatus    byte = 's'
	CmdCancel    byte = 'c'
	CmdReconnect byte = 'n'
	CmdVersion   byte = 'v'
	CmdQuit      byte = 'q'
)

// RuntimeDir is ~/.cache/micstream unless MICSTREAM_RUNTIME_DIR is set.
func RuntimeDir() (string, error) {
	if dir := os.Getenv("MICSTREAM_RUNTIME_DIR"); dir != "" {
		return dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "micstream"), nil
}

// ~/.cache/micstream/control.sock
func SockPath() (string, error) { return getSockPath() }

// ~/.cache/micstream/micstream.pid
func PidPath() (string, error) { return getPidPath() }

func getSockPath() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SockName), nil
}

func getPidPath() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PidName), nil
}

type socketManager struct {
	path string
}

func defaultSocketManager() (*socketManager, error) {
	sp, err := getSockPath()
	if err != nil {
		return nil, err
	}
	return &socketManager{path: sp}, nil
}

func (s *socketManager) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(s.path) // stale socket from last run
	return net.Listen("unix", s.path)
}

func (s *socketManager) dial() (net.Conn, error) {
	return net.DialTimeout("unix", s.path, 2*time.Second)
}

func (s *socketManager) send(cmd byte) (string, error) {
	c, err := s.dial()
	if err != nil {
		return "", err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(30 * time.Second))

	if _, err := c.Write([]byte{cmd, '\n'}); err != nil {
		return "", err
	}
	resp, err := bufio.NewReader(c).ReadString('\n')
	return resp, err
}

func Listen() (net.Listener, error) {
	sm, err := defaultSocketManager()
	if err != nil {
		return nil, err
	}
	return sm.listen()
}

func Dial() (net.Conn, error) {
	sm, err := defaultSocketManager()
	if err != nil {
		return nil, err
	}
	return sm.dial()
}

// SendCommand sends cmd and returns the single response line.
func SendCommand(cmd byte) (string, error) {
	sm, err := defaultSocketManager()
	if err != nil {
		return "", err
	}
	return sm.send(cmd)
}

// ParseStatus splits a "STATUS k=v k=v" response into its fields.
func ParseStatus(resp string) (map[string]string, error) {
	resp = strings.TrimSpace(resp)
	rest, ok := strings.CutPrefix(resp, "STATUS ")
	if !ok {
		return nil, fmt.Errorf("unexpected response: %q", resp)
	}
	fields := make(map[string]string)
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return fields, nil
		}
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}
		k, v, ok := strings.Cut(rest[:end], "=")
		if !ok || !strings.HasPrefix(v, `"`) {
			fields[k] = v
			rest = rest[end:]
			continue
		}

		// quoted values may contain spaces
		tail := rest[len(k)+1:]
		q, err := strconv.QuotedPrefix(tail)
		if err != nil {
			return nil, fmt.Errorf("malformed %s value in %q", k, resp)
		}
		fields[k], _ = strconv.Unquote(q)
		rest = tail[len(q):]
	}
}

type pidManager struct {
	path string
}

func defaultPidManager() (*pidManager, error) {
	pp, err := getPidPath()
	if err != nil {
		return nil, err
	}
	return &pidManager{path: pp}, nil
}

// checkExisting fails when the pid file names a live process and removes
// stale or unreadable pid files.
func (p *pidManager) checkExisting() error {
	pidData, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil // no existing daemon
	}
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || !p.isProcessAlive(pid) {
		_ = os.Remove(p.path)
		return nil
	}
	return fmt.Errorf("daemon already running with PID %d", pid)
}

func (p *pidManager) isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM still means the process exists
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (p *pidManager) create() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (p *pidManager) remove() error {
	return os.Remove(p.path)
}

func CheckExistingDaemon() error {
	pm, err := defaultPidManager()
	if err != nil {
		return err
	}
	return pm.checkExisting()
}

func CreatePidFile() error {
	pm, err := defaultPidManager()
	if err != nil {
		return err
	}
	return pm.create()
}

func RemovePidFile() error {
	pm, err := defaultPidManager()
	if err != nil {
		return err
	}
	return pm.remove()
}
