package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/telemetry"
	transportpkg "github.com/drblury/taskflow/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	// Transports selects the registry used to build the broker connection.
	// Nil means transport.DefaultRegistry.
	Transports *transportpkg.Registry
	// Transport, when set, is used as is and no registry build happens.
	Transport *transportpkg.Transport

	ErrorClassifier ErrorClassifier
	// Metrics receives taskflow counters. When nil and metrics are enabled in
	// the config, a collector set on the default Prometheus registerer is used.
	Metrics *telemetry.Metrics
}

// Service wires a Watermill router, publisher, subscriber, and middleware chain.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportpkg.Capabilities
	metrics      *telemetry.Metrics

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	closeOnce       sync.Once
	closeErr        error
}

// TryNewService builds a Service for conf. Defaults are applied to a copy of
// conf and the result is validated before any broker connection is opened.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	effective := conf.WithDefaults()
	if err := configpkg.ValidateConfig(&effective); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating task service", loggingpkg.LogFields{
		"pubsub_system": effective.PubSubSystem,
		"config":        effective.String(),
	})

	var tr transportpkg.Transport
	if deps.Transport != nil {
		tr = *deps.Transport
	} else {
		registry := deps.Transports
		if registry == nil {
			registry = transportpkg.DefaultRegistry
		}
		built, err := registry.Build(ctx, &effective, wmLogger)
		if err != nil {
			return nil, err
		}
		tr = built
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		return nil, errors.New("taskflow: transport must provide a publisher and a subscriber")
	}

	caps := transportpkg.Capabilities{Name: effective.PubSubSystem}
	if tr.Caps != nil {
		caps = *tr.Caps
	}
	if !caps.SuitableForWorkQueues() {
		log.Info("Transport lacks competing consumers or redelivery; run a single worker instance", loggingpkg.LogFields{
			"pubsub_system":       effective.PubSubSystem,
			"competing_consumers": caps.CompetingConsumers,
			"reliable_delivery":   caps.SupportsReliableDelivery(),
		})
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}
	router.AddPlugin(plugin.SignalsHandler)

	s := &Service{
		Conf:            &effective,
		Logger:          log,
		publisher:       tr.Publisher,
		subscriber:      tr.Subscriber,
		router:          router,
		capabilities:    caps,
		metrics:         deps.Metrics,
		errorClassifier: deps.ErrorClassifier,
	}
	if s.metrics == nil && effective.MetricsEnabled {
		s.metrics = telemetry.New(nil)
	}
	if err := s.metrics.Register(); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

// NewService is TryNewService for callers that treat a broken setup as fatal.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// Start runs the underlying Watermill router until the provided context is
// cancelled. HTTP servers registered with RegisterHTTPHandler are started
// first; subscribers that serve pushes start once every handler is subscribed.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers(ctx)

	if starter, ok := s.subscriber.(transportpkg.Starter); ok {
		go func() {
			select {
			case <-s.router.Running():
				if err := starter.Start(ctx); err != nil {
					s.Logger.Error("Subscriber failed to start", err, nil)
				}
			case <-ctx.Done():
			}
		}()
	}

	return routerRun(s.router, ctx)
}

// Running is closed once every handler has subscribed.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the broker connection. Safe to call
// more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		routerErr := s.router.Close()
		transportErr := transportpkg.Transport{Publisher: s.publisher, Subscriber: s.subscriber}.Close()
		s.closeErr = errors.Join(routerErr, transportErr)
	})
	return s.closeErr
}

// Publisher returns the broker publisher so callers outside a handler, such
// as the RPC client and the API, can emit messages.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

func (s *Service) Subscriber() message.Subscriber {
	return s.subscriber
}

// Capabilities reports what the configured transport guarantees.
func (s *Service) Capabilities() transportpkg.Capabilities {
	return s.capabilities
}

// Metrics returns the taskflow collectors, nil when metrics are off.
func (s *Service) Metrics() *telemetry.Metrics {
	return s.metrics
}

// Handlers lists registered handlers sorted by name.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PendingCount reports queued messages for transports that can count them.
// ok is false when the transport cannot.
func (s *Service) PendingCount(ctx context.Context, queue string) (count int64, ok bool, err error) {
	introspector, ok := s.subscriber.(transportpkg.QueueIntrospector)
	if !ok {
		return 0, false, nil
	}
	count, err = introspector.GetPendingCount(ctx, queue)
	return count, true, err
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with Start, so register before calling it.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
}
