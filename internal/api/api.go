// Package api is the HTTP submission surface. It creates work records and
// starts either the RPC path or one of the pipelines.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/codec"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/pipeline"
	"github.com/drblury/taskflow/internal/store"
)

const maxBodyBytes = 1 << 20

// Caller runs a blocking work request. *rpc.Client implements it.
type Caller interface {
	Call(ctx context.Context, req codec.WorkRequest, timeout time.Duration) (codec.WorkReply, error)
}

// Config wires a Server. Store, Caller and Producer are required.
type Config struct {
	Store    store.Store
	Caller   Caller
	Producer runtime.Producer

	RPCQueue    string
	StreamQueue string
	ChainQueue  string
	// Timeout bounds POST /tasks. Zero leaves the choice to the Caller.
	Timeout time.Duration

	// Handlers lists the router handlers for GET /handlers. Optional.
	Handlers func() []*runtime.HandlerInfo
	Logger   loggingpkg.ServiceLogger
}

type Server struct {
	cfg    Config
	logger loggingpkg.ServiceLogger
	mux    *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if cfg.Caller == nil {
		return nil, errors.New("api: caller is required")
	}
	if cfg.Producer == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.RPCQueue == "" || cfg.StreamQueue == "" || cfg.ChainQueue == "" {
		return nil, errspkg.ErrTopicRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With(loggingpkg.LogFields{"component": "api"}),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /tasks", s.handleCreateTask)
	s.mux.HandleFunc("POST /tasks/async", s.handleCreateTaskAsync)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("POST /streams", s.handleStream)
	s.mux.HandleFunc("POST /chains", s.handleChain)
	s.mux.HandleFunc("GET /audit", s.handleAudit)
	s.mux.HandleFunc("GET /handlers", s.handleHandlers)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	return s, nil
}

// ServeHTTP makes the server mountable on any mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Mount serves the API from svc's HTTP server on port.
func (s *Server) Mount(svc *runtime.Service, port int) {
	svc.RegisterHTTPHandler(port, "/", s)
}

type errorResponse struct {
	Error  string `json:"error"`
	TaskID int64  `json:"taskId,omitempty"`
}

type taskAccepted struct {
	TaskID int64 `json:"taskId"`
}

type batchAccepted struct {
	Items int `json:"items"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Store.Create(r.Context())
	if err != nil {
		s.internalError(w, "create work record", err)
		return
	}
	log := s.logger.With(loggingpkg.LogFields{"task_id": rec.ID})

	reply, err := s.cfg.Caller.Call(r.Context(), codec.WorkRequest{WorkID: rec.ID}, s.cfg.Timeout)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, errspkg.ErrRPCTimeout):
		log.Info("Work request timed out", nil)
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "work request timed out", TaskID: rec.ID})
	case errors.Is(err, errspkg.ErrRPCTransport):
		log.Error("Work request could not be sent", err, nil)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "broker unavailable", TaskID: rec.ID})
	default:
		log.Error("Work request failed", err, nil)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "work request failed", TaskID: rec.ID})
	}
}

func (s *Server) handleCreateTaskAsync(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Store.Create(r.Context())
	if err != nil {
		s.internalError(w, "create work record", err)
		return
	}
	if err := s.cfg.Producer.PublishJSON(r.Context(), s.cfg.RPCQueue, codec.WorkRequest{WorkID: rec.ID}, nil); err != nil {
		s.logger.Error("Failed to publish work request", err, loggingpkg.LogFields{"task_id": rec.ID})
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "broker unavailable", TaskID: rec.ID})
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskAccepted{TaskID: rec.ID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "task id must be an integer"})
		return
	}
	rec, err := s.cfg.Store.Find(r.Context(), id)
	if errors.Is(err, errspkg.ErrRecordNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "task not found", TaskID: id})
		return
	}
	if err != nil {
		s.internalError(w, "find work record", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	body, input, ok := s.readBatch(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Producer.PublishRaw(r.Context(), s.cfg.StreamQueue, body, nil); err != nil {
		s.logger.Error("Failed to publish batch", err, nil)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "broker unavailable"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, batchAccepted{Items: len(input.Items)})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	_, input, ok := s.readBatch(w, r)
	if !ok {
		return
	}
	env := pipeline.NewEnvelope(input.Items)
	if err := s.cfg.Producer.PublishJSON(r.Context(), s.cfg.ChainQueue, env, nil); err != nil {
		s.logger.Error("Failed to publish chain", err, nil)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "broker unavailable"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, batchAccepted{Items: len(input.Items)})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := s.cfg.Store.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list audit log", err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHandlers(w http.ResponseWriter, _ *http.Request) {
	handlers := []*runtime.HandlerInfo{}
	if s.cfg.Handlers != nil {
		handlers = s.cfg.Handlers()
	}
	s.writeJSON(w, http.StatusOK, handlers)
}

// readBatch reads and validates an {"items": [...]} body, answering 400 itself.
func (s *Server) readBatch(w http.ResponseWriter, r *http.Request) ([]byte, codec.SplitInput, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read body"})
		return nil, codec.SplitInput{}, false
	}
	input, err := codec.DecodeSplitInput(body)
	if err != nil {
		reason := err
		var malformed *errspkg.MalformedPayloadError
		if errors.As(err, &malformed) && malformed.Err != nil {
			reason = malformed.Err
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid batch: %v", reason)})
		return nil, codec.SplitInput{}, false
	}
	return body, input, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", err, loggingpkg.LogFields{"operation": op})
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
