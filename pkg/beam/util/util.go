// Package util holds small OS helpers shared across the host: filesystem
// checks, signal handling and launching external programs.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDirExists creates path (and parents) if missing.
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}
	return nil
}

// Linux reports whether we're running on linux.
func Linux() bool {
	return runtime.GOOS == "linux"
}

// SetupCloseHandler returns a channel that receives SIGINT/SIGTERM.
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

// OpenExternal launches an external program with a single argument,
// without waiting for it.
func OpenExternal(logger *zap.SugaredLogger, command string, arg string) error {
	cmd := exec.Command(command, arg)
	if err := cmd.Start(); err != nil {
		logger.Warnw("Failed to spawn external process",
			"command", command,
			"argument", arg,
			"error", err)
		return fmt.Errorf("spawn external %s: %w", command, err)
	}
	return nil
}
