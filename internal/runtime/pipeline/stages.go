package pipeline

import (
	"context"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/pacing"
	"github.com/drblury/taskflow/internal/runtime/telemetry"
	"github.com/drblury/taskflow/internal/store"
)

// Queues names the queues the stages read and write.
type Queues struct {
	Stream     string
	Part       string
	ChainEntry string
	Chain      string
}

// Dependencies are shared by every stage. Audit is required by the stages
// that persist.
type Dependencies struct {
	Audit   store.AuditLog
	Stall   pacing.Stall
	Metrics *telemetry.Metrics
}

func (d Dependencies) stall() pacing.Stall {
	if d.Stall == nil {
		return pacing.NoStall
	}
	return d.Stall
}

// Splitter fans a batch out into part messages.
type Splitter struct {
	deps Dependencies
}

func NewSplitter(deps Dependencies) *Splitter {
	return &Splitter{deps: deps}
}

func (s *Splitter) Handle(_ context.Context, evt handlerpkg.JSONMessageContext[*codec.SplitInput]) ([]handlerpkg.JSONMessageOutput[*codec.PartEnvelope], error) {
	parts := Split(evt.Raw, *evt.Payload)
	out := make([]handlerpkg.JSONMessageOutput[*codec.PartEnvelope], len(parts))
	for i := range parts {
		out[i] = handlerpkg.JSONMessageOutput[*codec.PartEnvelope]{Message: &parts[i]}
	}
	s.deps.Metrics.PipelineStep(telemetry.StageSplit)
	evt.Logger.Debug("Batch split", loggingpkg.LogFields{"parts": len(parts)})
	return out, nil
}

// PartWorker handles one split part and records it in the audit log.
type PartWorker struct {
	deps Dependencies
}

func NewPartWorker(deps Dependencies) (*PartWorker, error) {
	if deps.Audit == nil {
		return nil, errspkg.ErrStoreRequired
	}
	return &PartWorker{deps: deps}, nil
}

func (p *PartWorker) Handle(ctx context.Context, evt handlerpkg.JSONMessageContext[*codec.PartEnvelope]) ([]handlerpkg.JSONMessageOutput[handlerpkg.NoOutput], error) {
	if err := p.deps.stall()(ctx); err != nil {
		return nil, err
	}
	evt.Logger.Info("Processing part", loggingpkg.LogFields{"text": evt.Payload.Text, "last": evt.Payload.IsLast()})

	if _, err := p.deps.Audit.Append(ctx, string(evt.Raw)); err != nil {
		return nil, err
	}
	if evt.Payload.IsLast() {
		if _, err := p.deps.Audit.Append(ctx, *evt.Payload.SourceEnvelope); err != nil {
			return nil, err
		}
	}
	p.deps.Metrics.PipelineStep(telemetry.StagePart)
	return nil, nil
}

// ChainStarter turns a batch into the first envelope of a chain.
type ChainStarter struct {
	deps Dependencies
}

func NewChainStarter(deps Dependencies) *ChainStarter {
	return &ChainStarter{deps: deps}
}

func (c *ChainStarter) Handle(_ context.Context, evt handlerpkg.JSONMessageContext[*codec.SplitInput]) ([]handlerpkg.JSONMessageOutput[*codec.PipelineEnvelope], error) {
	env := NewEnvelope(evt.Payload.Items)
	c.deps.Metrics.PipelineStep(telemetry.StageChainStart)
	evt.Logger.Debug("Chain started", loggingpkg.LogFields{"items": len(env.Items)})
	return []handlerpkg.JSONMessageOutput[*codec.PipelineEnvelope]{{Message: &env}}, nil
}

// ChainWorker processes the item at the cursor and hands the advanced
// envelope back to the chain queue. At the end it persists the accumulator.
type ChainWorker struct {
	deps Dependencies
}

func NewChainWorker(deps Dependencies) (*ChainWorker, error) {
	if deps.Audit == nil {
		return nil, errspkg.ErrStoreRequired
	}
	return &ChainWorker{deps: deps}, nil
}

func (c *ChainWorker) Handle(ctx context.Context, evt handlerpkg.JSONMessageContext[*codec.PipelineEnvelope]) ([]handlerpkg.JSONMessageOutput[*codec.PipelineEnvelope], error) {
	env := *evt.Payload
	log := evt.Logger.With(loggingpkg.LogFields{"cursor": env.Cursor, "items": len(env.Items)})

	if env.Done() {
		log.Info("Chain arrived complete, persisting", nil)
		return nil, c.finish(ctx, evt.Raw, env.Accumulator)
	}

	if err := c.deps.stall()(ctx); err != nil {
		return nil, err
	}
	log.Info("Processing chain item", loggingpkg.LogFields{"text": env.Items[env.Cursor]})

	next, done := Advance(env)
	c.deps.Metrics.PipelineStep(telemetry.StageChain)
	if done {
		return nil, c.finish(ctx, evt.Raw, next.Accumulator)
	}
	if _, err := c.deps.Audit.Append(ctx, string(evt.Raw)); err != nil {
		return nil, err
	}
	return []handlerpkg.JSONMessageOutput[*codec.PipelineEnvelope]{{Message: &next}}, nil
}

// finish records the last envelope and the accumulated result.
func (c *ChainWorker) finish(ctx context.Context, raw []byte, acc codec.Accumulator) error {
	if _, err := c.deps.Audit.Append(ctx, string(raw)); err != nil {
		return err
	}
	encoded, err := codec.Encode(acc)
	if err != nil {
		return err
	}
	if _, err := c.deps.Audit.Append(ctx, string(encoded)); err != nil {
		return err
	}
	c.deps.Metrics.ChainCompleted()
	return nil
}

// Register attaches every stage to svc.
func Register(svc *runtime.Service, queues Queues, deps Dependencies) error {
	partWorker, err := NewPartWorker(deps)
	if err != nil {
		return err
	}
	chainWorker, err := NewChainWorker(deps)
	if err != nil {
		return err
	}

	if err := runtime.RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*codec.SplitInput, *codec.PartEnvelope]{
		Name:         "splitter",
		ConsumeQueue: queues.Stream,
		PublishQueue: queues.Part,
		Handler:      NewSplitter(deps).Handle,
	}); err != nil {
		return err
	}
	if err := runtime.RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*codec.PartEnvelope, handlerpkg.NoOutput]{
		Name:         "part_worker",
		ConsumeQueue: queues.Part,
		Handler:      partWorker.Handle,
	}); err != nil {
		return err
	}
	if err := runtime.RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*codec.SplitInput, *codec.PipelineEnvelope]{
		Name:         "chain_starter",
		ConsumeQueue: queues.ChainEntry,
		PublishQueue: queues.Chain,
		Handler:      NewChainStarter(deps).Handle,
	}); err != nil {
		return err
	}
	return runtime.RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*codec.PipelineEnvelope, *codec.PipelineEnvelope]{
		Name:         "chain_worker",
		ConsumeQueue: queues.Chain,
		PublishQueue: queues.Chain,
		Handler:      chainWorker.Handle,
	})
}
