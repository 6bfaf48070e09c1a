// Package logging sets up the harvester's structured logger: a console
// handler plus an optional rotating file handler, verbosity driven by CLI
// flags / the DEBUG env var instead of a full datadir-aware layout.
package logging

import (
	"os"
	"path/filepath"

	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const filePrefix = "harvester"

// Verbosity classes from specification §7: 1=always, 2=default, 3=debug.
const (
	VerbosityAlways = 1
	VerbosityNormal = 2
	VerbosityDebug  = 3
)

// LevelForVerbosity maps a §7 verbosity class onto a log.Lvl.
func LevelForVerbosity(v int) log.Lvl {
	switch {
	case v <= VerbosityAlways:
		return log.LvlWarn
	case v == VerbosityNormal:
		return log.LvlInfo
	default:
		return log.LvlDebug
	}
}

// Setup configures the root logger from urfave CLI flags and returns it.
// debug forces LvlDebug regardless of the console-verbosity flag, matching
// the DEBUG env var described in §6.
func Setup(ctx *cli.Context, debug bool, logDir string) log.Logger {
	logger := log.Root()

	consoleLevel := log.LvlInfo
	if debug {
		consoleLevel = log.LvlDebug
	}

	consoleHandler := log.LvlFilterHandler(consoleLevel, log.StreamHandler(os.Stderr, log.TerminalFormatNoColor()))

	if logDir == "" {
		logger.SetHandler(consoleHandler)
		logger.Info("console logging only")
		return logger
	}

	if err := os.MkdirAll(logDir, 0o764); err != nil {
		logger.SetHandler(consoleHandler)
		logger.Warn("failed to create log dir, console logging only", "err", err)
		return logger
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, filePrefix+".log"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
	fileHandler := log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(fileSink, log.TerminalFormatNoColor()))

	logger.SetHandler(log.MultiHandler(consoleHandler, fileHandler))
	logger.Info("logging to file system", "dir", logDir)
	return logger
}
