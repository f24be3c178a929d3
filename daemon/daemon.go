package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// EnvVar marks a child process started by StartDaemon.
const EnvVar = "TRENDRIDER_DAEMON"

// stopWait bounds how long StopDaemon waits for the trader to persist its
// position and exit.
var stopWait = 20 * time.Second

// IsDaemon checks if the process is running as a daemon/background process
func IsDaemon() bool {
	return os.Getenv(EnvVar) == "true"
}

// StartDaemon starts the application as a background process and records its
// PID in pidFile.
func StartDaemon(pidFile string, args []string) error {
	if pid, err := ReadPID(pidFile); err == nil && alive(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	execPath, err := GetExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Env = append(os.Environ(), EnvVar+"=true")
	if runtime.GOOS != "windows" {
		// Output goes to the log file, not the terminal.
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if err := WritePID(pidFile, cmd.Process.Pid); err != nil {
		return err
	}

	fmt.Printf("Daemon started with PID: %d. PID file saved as %s\n", cmd.Process.Pid, pidFile)
	return nil
}

// WritePID writes pid to pidFile.
func WritePID(pidFile string, pid int) error {
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPID reads the PID recorded in pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("failed to parse PID %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// StopDaemon asks the background process to shut down with SIGTERM, so it
// persists its open position, and kills it if it has not exited in time.
func StopDaemon(pidFile string) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if kerr := process.Kill(); kerr != nil {
			return fmt.Errorf("failed to stop process: %w", kerr)
		}
	}
	deadline := time.Now().Add(stopWait)
	for alive(pid) && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
	}
	if alive(pid) {
		_ = process.Kill()
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Printf("Daemon with PID %d has been stopped.\n", pid)
	return nil
}

// RestartDaemon restarts the daemon process
func RestartDaemon(pidFile string, args []string) error {
	if err := StopDaemon(pidFile); err != nil {
		fmt.Printf("Warning: Could not stop daemon: %v\n", err)
	}
	return StartDaemon(pidFile, args)
}

// ChildArgs strips the daemon control flags from args before they are passed
// to the background process.
func ChildArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch strings.TrimLeft(a, "-") {
		case "start-daemon", "stop-daemon", "restart-daemon":
			continue
		}
		out = append(out, a)
	}
	return out
}

// GetExecutablePath returns the current executable path
func GetExecutablePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(execPath)
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return process.Signal(syscall.Signal(0)) == nil
}
