package beam

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beamvr/beam/pkg/beam/util"
)

const (
	logDirectory = "logs"
	logFilename  = "beam-latest-run.log"
)

// NewLogger builds the process logger: debug-level development output for
// non-release builds, info-level for release, always mirrored to a
// per-run log file next to the binary.
func NewLogger(buildType string) (*zap.SugaredLogger, error) {
	if err := util.EnsureDirExists(logDirectory); err != nil {
		return nil, fmt.Errorf("ensure log directory exists: %w", err)
	}

	var cfg zap.Config
	if buildType == "release" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout", filepath.Join(logDirectory, logFilename)}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger.Sugar(), nil
}
