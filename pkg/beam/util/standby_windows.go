package util

import (
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	esContinuous      = 0x80000000
	esSystemRequired  = 0x00000001
	esDisplayRequired = 0x00000002
)

var (
	kernel32                    = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadExecutionState = kernel32.NewProc("SetThreadExecutionState")
)

// BlockStandby keeps the system and display awake for the lifetime of
// the process. The execution state is thread-wide and sticky until the
// process exits, so there is no matching release call.
func BlockStandby(logger *zap.SugaredLogger) {
	ret, _, err := procSetThreadExecutionState.Call(esContinuous | esSystemRequired | esDisplayRequired)
	if ret == 0 {
		logger.Warnw("Failed to block system standby", "error", err)
		return
	}

	logger.Debug("System standby blocked for the process lifetime")
}
