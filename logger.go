package ocean

import "go.uber.org/zap"

var defaultLogger = zap.NewNop()

// SetLogger replaces the logger used by servers and clients that were not
// given one explicitly.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultLogger = logger
}

func Logger() *zap.Logger {
	return defaultLogger
}

func loggerOr(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return defaultLogger
}
