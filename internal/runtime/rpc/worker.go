package rpc

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/pacing"
	"github.com/drblury/taskflow/internal/runtime/telemetry"
	"github.com/drblury/taskflow/internal/store"
)

// WorkerConfig wires a Worker. Store and Publisher are required.
type WorkerConfig struct {
	Store     store.WorkStore
	Publisher message.Publisher
	// Stall runs before each result is produced. Nil means no pause.
	Stall pacing.Stall
	// Produce computes the result of a record. Nil means a random unsigned
	// 64-bit integer in decimal.
	Produce func(ctx context.Context, rec store.WorkRecord) (string, error)
	Now     func() time.Time

	Metrics *telemetry.Metrics
}

// Worker completes work records and answers the caller named by reply_to.
type Worker struct {
	cfg WorkerConfig
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if cfg.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.Stall == nil {
		cfg.Stall = pacing.NoStall
	}
	if cfg.Produce == nil {
		cfg.Produce = RandomResult
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{cfg: cfg}, nil
}

// RandomResult renders a random uint64 in decimal.
func RandomResult(context.Context, store.WorkRecord) (string, error) {
	return strconv.FormatUint(rand.Uint64(), 10), nil
}

// Handle processes one decoded request. It returns only after the record is
// committed and the reply, if one was asked for, is published, so the
// message is acknowledged last. A redelivered request for a completed record
// re-sends the stored result without touching the record.
func (w *Worker) Handle(ctx context.Context, evt handlerpkg.JSONMessageContext[*codec.WorkRequest]) ([]handlerpkg.JSONMessageOutput[handlerpkg.NoOutput], error) {
	id := evt.Payload.WorkID
	log := evt.Logger.With(loggingpkg.LogFields{
		"work_id":        id,
		"correlation_id": evt.CorrelationID(),
	})

	rec, err := w.cfg.Store.Find(ctx, id)
	if errors.Is(err, errspkg.ErrRecordNotFound) {
		log.Info("Work record not found, skipping", nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.Completed() {
		log.Info("Work record already completed, reusing result", nil)
	} else {
		if err := w.cfg.Stall(ctx); err != nil {
			return nil, err
		}
		result, err := w.cfg.Produce(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec, err = w.cfg.Store.Commit(ctx, id, result, w.cfg.Now())
		if err != nil {
			return nil, err
		}
		w.cfg.Metrics.RecordCompleted()
		log.Info("Work record completed", loggingpkg.LogFields{"result": rec.Result})
	}

	replyTo := evt.ReplyTo()
	if replyTo == "" {
		return nil, nil
	}

	payload, err := codec.Encode(codec.WorkReply{
		Result:            rec.Result,
		ProcessingSeconds: rec.ProcessingSeconds(),
	})
	if err != nil {
		return nil, err
	}
	reply := runtime.NewRawMessage(payload, metadatapkg.New(metadatapkg.KeyCorrelationID, evt.CorrelationID()))
	reply.SetContext(ctx)
	if err := w.cfg.Publisher.Publish(replyTo, reply); err != nil {
		return nil, errspkg.Transport(err)
	}
	log.Debug("Reply published", loggingpkg.LogFields{"reply_to": replyTo})
	return nil, nil
}

// Register makes svc consume queue with this worker.
func (w *Worker) Register(svc *runtime.Service, queue string) error {
	return runtime.RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*codec.WorkRequest, handlerpkg.NoOutput]{
		Name:         "rpc_worker",
		ConsumeQueue: queue,
		Handler:      w.Handle,
	})
}
