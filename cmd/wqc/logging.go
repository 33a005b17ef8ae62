package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/glas/wqconnect/pkg/config"
)

// loadConfig reads the file named by --config, or returns the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger creates the command logger. --log-level takes precedence;
// otherwise the log_level of an explicit config file applies. Without either
// the logger stays silent so it does not interleave with command output.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		level, err := config.ParseLogLevel(s)
		if err != nil {
			return nil, err
		}
		logLevel = level
	} else if path, _ := cmd.Flags().GetString("config"); path != "" && cfg != nil {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		logLevel = level
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(logLevel)
	return logger, nil
}
