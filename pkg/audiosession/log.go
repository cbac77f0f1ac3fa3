package audiosession

import (
	"fmt"
	"path"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soundwire/audiosession/pkg/audiosession/util"
)

const (
	logDirectory = "logs"
	logFilename  = "audiosession.log"
)

// NewLogger provides a logger instance for the entire application
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	var loggerConfig zap.Config

	if verbose {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		loggerConfig = zap.NewProductionConfig()
		loggerConfig.Encoding = "console"
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		if err := util.EnsureDirExists(logDirectory); err != nil {
			return nil, fmt.Errorf("ensure log directory exists: %w", err)
		}

		loggerConfig.OutputPaths = append(loggerConfig.OutputPaths, path.Join(logDirectory, logFilename))
	}

	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	loggerConfig.EncoderConfig.EncodeCaller = nil

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger.Sugar(), nil
}
