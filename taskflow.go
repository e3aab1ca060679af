package taskflow

import (
	"context"

	"github.com/drblury/taskflow/internal/app"
	runtimepkg "github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/taskflow/internal/runtime/handlers"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/pacing"
	"github.com/drblury/taskflow/internal/runtime/pipeline"
	"github.com/drblury/taskflow/internal/runtime/rpc"
	"github.com/drblury/taskflow/internal/store"
	"github.com/drblury/taskflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	App        = app.App
	AppOptions = app.Options
	Role       = app.Role

	MessageHandlerRegistration            = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any] = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]             = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]              = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]      = handlerpkg.JSONMessageHandler[T, O]
	MessageContextBase                    = handlerpkg.MessageContextBase
	NoOutput                              = handlerpkg.NoOutput

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer
	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ErrorClassifier       = runtimepkg.ErrorClassifier
	ErrorCategory         = runtimepkg.ErrorCategory
	ConfigValidationError = errspkg.ConfigValidationError
	MalformedPayloadError = errspkg.MalformedPayloadError

	// Wire payloads.
	WorkRequest      = codec.WorkRequest
	WorkReply        = codec.WorkReply
	SplitInput       = codec.SplitInput
	PartEnvelope     = codec.PartEnvelope
	PipelineEnvelope = codec.PipelineEnvelope
	Accumulator      = codec.Accumulator

	// RPC and pipeline building blocks for callers that wire their own process.
	RPCClient           = rpc.Client
	RPCClientConfig     = rpc.ClientConfig
	RPCWorker           = rpc.Worker
	RPCWorkerConfig     = rpc.WorkerConfig
	CorrelationRegistry = rpc.Registry
	PipelineQueues      = pipeline.Queues
	PipelineDeps        = pipeline.Dependencies
	Stall               = pacing.Stall

	Store        = store.Store
	StoreOptions = store.Options
	WorkRecord   = store.WorkRecord
	AuditEntry   = store.AuditEntry

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

const (
	RoleAPI    = app.RoleAPI
	RoleWorker = app.RoleWorker
	RoleAll    = app.RoleAll

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema

	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load
	ParseRole      = app.ParseRole

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewCorrelationRegistry = rpc.NewRegistry
	NewRPCClient           = rpc.NewClient
	NewRPCWorker           = rpc.NewWorker
	RegisterPipeline       = pipeline.Register
	NewEnvelope            = pipeline.NewEnvelope

	NoStall     = pacing.NoStall
	FixedStall  = pacing.FixedStall
	RandomStall = pacing.RandomStall

	OpenStore      = store.Open
	NewMemoryStore = store.NewMemory

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewMetadata          = metadatapkg.New
	CreateULID           = idspkg.CreateULID

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrStoreRequired        = errspkg.ErrStoreRequired

	ErrMalformedPayload = errspkg.ErrMalformedPayload
	ErrDuplicateToken   = errspkg.ErrDuplicateToken
	ErrUnmatchedReply   = errspkg.ErrUnmatchedReply
	ErrRPCTimeout       = errspkg.ErrRPCTimeout
	ErrRPCTransport     = errspkg.ErrRPCTransport
	ErrRecordNotFound   = errspkg.ErrRecordNotFound

	IsMalformed = errspkg.IsMalformed
)

// NewApp wires a complete process for opts.Role. Import
// github.com/drblury/taskflow/transport/transports, or a single transport
// package, so the configured broker is registered.
func NewApp(ctx context.Context, conf *Config, log ServiceLogger, opts AppOptions) (*App, error) {
	return app.New(ctx, conf, log, opts)
}

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}
