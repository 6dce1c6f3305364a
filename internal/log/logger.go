package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

// InitLogger installs the process-wide zap logger.
// With debug set it logs coloured development output to stderr, or to path
// when one is given; otherwise logging is discarded.
func InitLogger(debug bool, path string) error {
	var l *zap.Logger

	if debug {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		config.DisableStacktrace = true
		if path != "" {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			config.OutputPaths = []string{path}
			config.ErrorOutputPaths = []string{path}
		}

		var err error
		l, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		l = zap.NewNop()
	}

	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l)
	logger = l.Sugar()
	return nil
}

// GetLogger returns the global sugared logger
func GetLogger() *zap.SugaredLogger {
	if logger == nil {
		_ = InitLogger(false, "")
	}
	return logger
}

// Sync flushes buffered log entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
