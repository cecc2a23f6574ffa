package util

import "go.uber.org/zap"

// BlockStandby is a no-op on Linux; suspend inhibition is left to the
// desktop session.
func BlockStandby(logger *zap.SugaredLogger) {
	logger.Debug("Standby blocking not implemented on this platform, skipping")
}
