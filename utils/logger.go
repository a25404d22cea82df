package utils

import (
	"fmt"

	"github.com/yuyyi51/ylog"
)

// LoggerConfig configures the logger chain built by BuildLogger,
// mirroring the log_level/log_prefix/log_file flags of ycp-cli's
// own appAction, plus a quiet mode that drops the console chain.
type LoggerConfig struct {
	Level     string
	Prefix    string
	Directory string // empty means "log"
	Quiet     bool
}

// BuildLogger constructs the file+console logger chain the way
// ycp-cli's appAction does: a file logger at the configured level with
// a console logger chained on top, unless Quiet suppresses the console
// side.
func BuildLogger(cfg LoggerConfig) (ylog.ILogger, error) {
	level := ylog.StringToLogLevel(cfg.Level)
	directory := cfg.Directory
	if directory == "" {
		directory = "log"
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "udp-prague"
	}
	logger, err := ylog.NewFileLogger(directory, prefix, level, 0)
	if err != nil {
		return nil, fmt.Errorf("utils: open file logger: %w", err)
	}
	if cfg.Quiet {
		return logger, nil
	}
	console, err := ylog.NewConsoleLogger(level, 0)
	if err != nil {
		return nil, fmt.Errorf("utils: open console logger: %w", err)
	}
	logger.AddLogChain(console)
	return logger, nil
}
