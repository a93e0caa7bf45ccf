package config

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

func (l Log) validate() error {
	if _, err := zap.ParseAtomicLevel(l.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, l.Level)
	}
	switch l.Format {
	case "", FormatJSON, FormatConsole:
		return nil
	}
	return fmt.Errorf("%w: log format %q", ErrInvalidConfig, l.Format)
}

// NewLogger builds a JSON production logger, or a console development logger
// for the console format.
func NewLogger(l Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, l.Level)
	}

	var zc zap.Config
	switch l.Format {
	case "", FormatJSON:
		zc = zap.NewProductionConfig()
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("%w: log format %q", ErrInvalidConfig, l.Format)
	}
	zc.Level = level
	return zc.Build()
}
