package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/telemetry"
)

// DefaultTimeout bounds a call when neither the caller nor the config set one.
const DefaultTimeout = 10 * time.Second

// ClientConfig wires a Client. RequestQueue and ReplyQueue are required.
type ClientConfig struct {
	RequestQueue string
	ReplyQueue   string
	Timeout      time.Duration
	TokenPrefix  string

	Logger  loggingpkg.ServiceLogger
	Metrics *telemetry.Metrics
}

// Client publishes work requests and blocks until the matching reply arrives.
// Replies reach it through HandleReply, which must consume ReplyQueue.
type Client struct {
	publisher message.Publisher
	registry  *Registry
	cfg       ClientConfig
	logger    loggingpkg.ServiceLogger
	tracer    trace.Tracer
}

func NewClient(publisher message.Publisher, registry *Registry, cfg ClientConfig) (*Client, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if cfg.RequestQueue == "" || cfg.ReplyQueue == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = idspkg.DefaultTokenPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Client{
		publisher: publisher,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With(loggingpkg.LogFields{"component": "rpc_client"}),
		tracer:    otel.Tracer(runtime.TracerName),
	}, nil
}

// Call sends req and waits for its reply. A non-positive timeout uses the
// configured default. Errors are ErrRPCTimeout, ErrRPCTransport when the
// request could not be published, ErrDuplicateToken, or the context error.
func (c *Client) Call(ctx context.Context, req codec.WorkRequest, timeout time.Duration) (reply codec.WorkReply, err error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	token := idspkg.NewCorrelationToken(c.cfg.TokenPrefix)

	ctx, span := c.tracer.Start(ctx, "rpc call "+c.cfg.RequestQueue,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.cfg.RequestQueue),
			attribute.String("taskflow.correlation_id", token),
			attribute.Int64("taskflow.work_id", req.WorkID),
		),
	)
	start := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		c.cfg.Metrics.ObserveCall(outcome, time.Since(start))
		c.cfg.Metrics.SetPendingCalls(c.registry.Pending())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("taskflow.rpc.outcome", outcome))
		span.End()
	}()

	handle, err := c.registry.Register(token)
	if err != nil {
		return codec.WorkReply{}, err
	}
	c.cfg.Metrics.SetPendingCalls(c.registry.Pending())

	payload, err := codec.Encode(req)
	if err != nil {
		c.registry.Cancel(handle)
		return codec.WorkReply{}, err
	}
	msg := runtime.NewRawMessage(payload, metadatapkg.New(
		metadatapkg.KeyCorrelationID, token,
		metadatapkg.KeyReplyTo, c.cfg.ReplyQueue,
		metadatapkg.KeyEventSchema, fmt.Sprintf("%T", req),
	))
	msg.SetContext(ctx)

	log := c.logger.With(loggingpkg.LogFields{"correlation_id": token, "work_id": req.WorkID})
	if err := c.publisher.Publish(c.cfg.RequestQueue, msg); err != nil {
		c.registry.Cancel(handle)
		log.Error("Failed to publish work request", err, nil)
		return codec.WorkReply{}, errspkg.Transport(err)
	}
	log.Debug("Work request published", loggingpkg.LogFields{"timeout": timeout.String()})

	reply, err = c.registry.Await(ctx, handle, timeout)
	if err != nil {
		log.Info("Work request ended without reply", loggingpkg.LogFields{"error": err.Error()})
		return codec.WorkReply{}, err
	}
	return reply, nil
}

// HandleReply consumes one message from the reply queue. Malformed replies
// are returned as errors so the router rejects them; replies nobody waits for
// are logged, counted and acknowledged.
func (c *Client) HandleReply(msg *message.Message) error {
	reply, err := codec.DecodeWorkReply(msg.Payload)
	if err != nil {
		return err
	}
	token := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	if c.registry.Resolve(token, reply) {
		return nil
	}
	c.cfg.Metrics.UnmatchedReply()
	c.logger.Info("Discarding unmatched reply", loggingpkg.LogFields{
		"correlation_id": token,
		"message_uuid":   msg.UUID,
		"error":          errspkg.ErrUnmatchedReply.Error(),
	})
	return nil
}

// RegisterReplyHandler makes svc consume the client's reply queue.
func (c *Client) RegisterReplyHandler(svc *runtime.Service) error {
	return runtime.RegisterMessageHandler(svc, runtime.MessageHandlerRegistration{
		Name:         "rpc_replies",
		ConsumeQueue: c.cfg.ReplyQueue,
		Handler: func(msg *message.Message) ([]*message.Message, error) {
			return nil, c.HandleReply(msg)
		},
	})
}

// Pending is the number of calls waiting for a reply.
func (c *Client) Pending() int {
	return c.registry.Pending()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.Is(err, errspkg.ErrRPCTimeout):
		return telemetry.OutcomeTimeout
	case errors.Is(err, errspkg.ErrRPCTransport):
		return telemetry.OutcomeTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return telemetry.OutcomeCanceled
	default:
		return telemetry.OutcomeError
	}
}
