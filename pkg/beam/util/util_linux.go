package util

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// CreateMutex guards against a second host instance via a pid lock file.
// A stale lock left by a dead process is overwritten.
func CreateMutex(name string) error {
	lockFile := name + ".lock"
	currentPid := os.Getpid()

	lockContent, err := os.ReadFile(lockFile)
	if err == nil && len(lockContent) > 0 && string(lockContent) != strconv.Itoa(currentPid) {
		lockPid, err := strconv.Atoi(string(lockContent))
		if err == nil {
			process, err := os.FindProcess(lockPid)
			if err == nil && process.Signal(syscall.Signal(0)) == nil {
				return fmt.Errorf("another instance of beam is running (pid %d)", lockPid)
			}
		}
	}

	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0664)
	if err != nil {
		return fmt.Errorf("cannot create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(currentPid)); err != nil {
		return fmt.Errorf("cannot write lock file: %w", err)
	}

	return nil
}
