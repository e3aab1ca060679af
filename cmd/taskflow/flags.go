package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// CLIConfig holds the command-line settings. Broker, store and queue
// settings live in the YAML config and TASKFLOW_* variables instead.
type CLIConfig struct {
	ConfigPath      string
	Role            string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
}

func parseFlags(args []string, output io.Writer, lookup func(string) (string, bool)) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config", envOr(lookup, "TASKFLOW_CONFIG", ""),
		"Path to a YAML configuration file (env: TASKFLOW_CONFIG)")
	fs.StringVar(&cfg.Role, "role", envOr(lookup, "TASKFLOW_ROLE", "all"),
		"Process role: api, worker, all (env: TASKFLOW_ROLE)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr(lookup, "TASKFLOW_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: TASKFLOW_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr(lookup, "TASKFLOW_LOG_FORMAT", "json"),
		"Log format: json, text (env: TASKFLOW_LOG_FORMAT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second,
		"Time allowed for in-flight messages after a signal")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	return nil
}

func envOr(lookup func(string) (string, bool), key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}
