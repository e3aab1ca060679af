// Command taskflow runs the submission API, the workers, or both, against
// the broker and store named in its configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drblury/taskflow/internal/app"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	_ "github.com/drblury/taskflow/transport/transports"
)

const (
	appName = "taskflow"
	Version = "0.1.0"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("taskflow failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args, os.Stderr, os.LookupEnv)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	slogger := loggingpkg.NewSlog(os.Stdout, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(slogger)
	logger := loggingpkg.NewSlogServiceLogger(slogger)

	role, err := app.ParseRole(cli.Role)
	if err != nil {
		return err
	}
	conf, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, conf, logger, app.Options{Role: role})
	if err != nil {
		return err
	}
	logger.Info("Starting taskflow", loggingpkg.LogFields{
		"version":     Version,
		"role":        string(role),
		"config_path": cli.ConfigPath,
		"api_port":    a.Service.Conf.APIPort,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	select {
	case err = <-runErr:
	case <-ctx.Done():
		logger.Info("Shutting down", nil)
		select {
		case err = <-runErr:
		case <-time.After(cli.ShutdownTimeout):
			err = fmt.Errorf("shutdown timed out after %s", cli.ShutdownTimeout)
		}
	}
	return errors.Join(err, a.Close())
}

// loadConfig reads the optional YAML file and applies TASKFLOW_* overrides.
func loadConfig(path string) (*configpkg.Config, error) {
	conf := &configpkg.Config{}
	if path != "" {
		loaded, err := configpkg.Load(path)
		if err != nil {
			return nil, err
		}
		conf = loaded
	}
	if err := conf.ApplyEnv(configpkg.DefaultEnvPrefix); err != nil {
		return nil, err
	}
	return conf, nil
}
