package cli

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/posegt/posegt/config"
	"github.com/posegt/posegt/logging"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck // no need to check for errors when writing to the terminal
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck // no need to check for errors when writing to the terminal
	fmt.Fprintf(w, "\x1b[1;33mWarning:\x1b[0m "+format+"\n", a...)
}

func readConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(configFlag)
	if path == "" {
		return nil, errors.Errorf("--%s is required", configFlag)
	}
	return config.Read(path)
}

// newLogger builds the command's logger from the flags, falling back to the config's log section, and installs it as
// the global logger. The returned function flushes it, closes its log file and restores the previous global logger.
func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, func() error) {
	debug := c.Bool(debugFlag)
	file := c.String(logFileFlag)
	if cfg != nil {
		debug = debug || cfg.Log.Debug
		if file == "" {
			file = cfg.Log.File
		}
	}
	var logger logging.Logger
	closeFile := func() error { return nil }
	switch {
	case file != "":
		logger, closeFile = logging.NewFileLogger("posegt", file, debug)
	case debug:
		logger = logging.NewDebugLogger("posegt")
	default:
		logger = logging.NewLogger("posegt")
	}
	prev := logging.Global()
	logging.ReplaceGlobal(logger)
	return logger, func() error {
		//nolint:errcheck // stdout cannot be synced on every terminal
		logger.Sync()
		logging.ReplaceGlobal(prev)
		return closeFile()
	}
}
