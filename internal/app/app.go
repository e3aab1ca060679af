// Package app assembles a runnable taskflow process from a Config: the
// service runtime, the store, the RPC client and worker, the pipeline stages
// and the submission API, selected by role.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drblury/taskflow/internal/api"
	"github.com/drblury/taskflow/internal/runtime"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/pacing"
	"github.com/drblury/taskflow/internal/runtime/pipeline"
	"github.com/drblury/taskflow/internal/runtime/rpc"
	"github.com/drblury/taskflow/internal/store"
)

// Role selects which half of the system a process runs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
	RoleAll    Role = "all"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAPI, RoleWorker, RoleAll:
		return r, nil
	case "":
		return RoleAll, nil
	default:
		return "", fmt.Errorf("unknown role %q (want api, worker or all)", s)
	}
}

func (r Role) runsAPI() bool    { return r == RoleAPI || r == RoleAll }
func (r Role) runsWorker() bool { return r == RoleWorker || r == RoleAll }

// Options customises New. Every field is optional.
type Options struct {
	Role Role
	// Store replaces the backend named in the config. The caller keeps
	// ownership and closes it.
	Store store.Store
	// Stall replaces the configured stall bounds.
	Stall pacing.Stall
	// Produce replaces the worker's random result.
	Produce func(ctx context.Context, rec store.WorkRecord) (string, error)

	Dependencies runtime.ServiceDependencies
}

// App is a wired process. Start it with Run and release it with Close.
type App struct {
	Service *runtime.Service
	Store   store.Store
	// Client and API are nil when the role does not serve the API.
	Client *rpc.Client
	API    *api.Server
	// Worker is nil when the role does not run workers.
	Worker *rpc.Worker

	role      Role
	ownsStore bool
}

// New builds the service for conf and registers the handlers of opts.Role.
func New(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, opts Options) (*App, error) {
	role := opts.Role
	if role == "" {
		role = RoleAll
	}

	svc, err := runtime.TryNewService(ctx, conf, log, opts.Dependencies)
	if err != nil {
		return nil, err
	}
	effective := svc.Conf

	a := &App{Service: svc, Store: opts.Store, role: role}
	if a.Store == nil {
		st, err := store.Open(ctx, store.Options{
			Driver:   effective.StoreDriver,
			DSN:      effective.StoreDSN,
			Database: effective.StoreDatabase,
			Prefix:   effective.StorePrefix,
		})
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		a.Store = st
		a.ownsStore = true
	}
	if role != RoleAll && effective.StoreDriver == store.DriverMemory && opts.Store == nil {
		log.Info("Memory store is private to this process; api and worker will not share records", loggingpkg.LogFields{
			"role": string(role),
		})
	}

	if err := a.wire(opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	log.Info("Task service wired", loggingpkg.LogFields{
		"role":         string(role),
		"store_driver": effective.StoreDriver,
		"handlers":     len(svc.Handlers()),
	})
	return a, nil
}

func (a *App) wire(opts Options) error {
	svc := a.Service
	conf := svc.Conf

	stall := opts.Stall
	if stall == nil {
		stall = pacing.FromBounds(conf.StallDisabled, conf.StallMin, conf.StallMax)
	}

	if a.role.runsWorker() {
		worker, err := rpc.NewWorker(rpc.WorkerConfig{
			Store:     a.Store,
			Publisher: svc.Publisher(),
			Stall:     stall,
			Produce:   opts.Produce,
			Metrics:   svc.Metrics(),
		})
		if err != nil {
			return err
		}
		if err := worker.Register(svc, conf.RPCQueue); err != nil {
			return fmt.Errorf("register rpc worker: %w", err)
		}
		a.Worker = worker

		queues := pipeline.Queues{
			Stream:     conf.StreamQueue,
			Part:       conf.PartQueue,
			ChainEntry: conf.ChainEntryQueue,
			Chain:      conf.ChainQueue,
		}
		deps := pipeline.Dependencies{Audit: a.Store, Stall: stall, Metrics: svc.Metrics()}
		if err := pipeline.Register(svc, queues, deps); err != nil {
			return fmt.Errorf("register pipeline: %w", err)
		}
	}

	if a.role.runsAPI() {
		client, err := rpc.NewClient(svc.Publisher(), rpc.NewRegistry(), rpc.ClientConfig{
			RequestQueue: conf.RPCQueue,
			ReplyQueue:   conf.ReplyQueue,
			Timeout:      conf.RPCTimeout,
			TokenPrefix:  conf.RPCTokenPrefix,
			Logger:       svc.Logger,
			Metrics:      svc.Metrics(),
		})
		if err != nil {
			return err
		}
		if err := client.RegisterReplyHandler(svc); err != nil {
			return fmt.Errorf("register reply handler: %w", err)
		}
		a.Client = client

		server, err := api.New(api.Config{
			Store:       a.Store,
			Caller:      client,
			Producer:    svc,
			RPCQueue:    conf.RPCQueue,
			StreamQueue: conf.StreamQueue,
			ChainQueue:  conf.ChainQueue,
			Timeout:     conf.RPCTimeout,
			Handlers:    svc.Handlers,
			Logger:      svc.Logger,
		})
		if err != nil {
			return err
		}
		server.Mount(svc, conf.APIPort)
		a.API = server
	}
	return nil
}

func (a *App) Role() Role {
	return a.role
}

// Run blocks until ctx is cancelled or the router stops.
func (a *App) Run(ctx context.Context) error {
	return a.Service.Start(ctx)
}

// Close stops the service and closes the store when New opened it.
func (a *App) Close() error {
	err := a.Service.Close()
	if a.ownsStore && a.Store != nil {
		err = errors.Join(err, a.Store.Close())
	}
	return err
}
