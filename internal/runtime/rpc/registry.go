// Package rpc implements request/reply calls over the broker: a correlation
// registry of waiting callers, the client that publishes tagged requests, and
// the worker that answers them.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/taskflow/internal/runtime/codec"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// WaitHandle is a caller's claim on one pending token.
type WaitHandle struct {
	token string
	ch    chan codec.WorkReply
}

// Token is the correlation token the handle waits on.
func (h *WaitHandle) Token() string {
	return h.token
}

// Registry tracks outstanding calls by token. Each token has at most one
// entry, removed as soon as its reply is matched or its wait ends.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*WaitHandle
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*WaitHandle)}
}

// Register opens a wait for token. It fails with ErrDuplicateToken when the
// token is already pending.
func (r *Registry) Register(token string) (*WaitHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[token]; ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDuplicateToken, token)
	}
	h := &WaitHandle{token: token, ch: make(chan codec.WorkReply, 1)}
	r.pending[token] = h
	return h, nil
}

// Resolve hands reply to the caller waiting on token and removes the entry.
// It returns false when nobody is waiting.
func (r *Registry) Resolve(token string, reply codec.WorkReply) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pending[token]
	if !ok {
		return false
	}
	delete(r.pending, token)
	h.ch <- reply
	return true
}

// Await blocks until h is resolved, timeout elapses or ctx is done. A
// non-positive timeout waits on ctx alone. The entry is gone when Await
// returns. A reply that lands while the wait is being abandoned is returned
// instead of the timeout.
func (r *Registry) Await(ctx context.Context, h *WaitHandle, timeout time.Duration) (codec.WorkReply, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case reply := <-h.ch:
		return reply, nil
	case <-expired:
		if reply, ok := r.abandon(h); ok {
			return reply, nil
		}
		return codec.WorkReply{}, fmt.Errorf("%w after %s: %s", errspkg.ErrRPCTimeout, timeout, h.token)
	case <-ctx.Done():
		if reply, ok := r.abandon(h); ok {
			return reply, nil
		}
		return codec.WorkReply{}, ctx.Err()
	}
}

// Cancel drops the wait without blocking. Safe to call after the handle was resolved.
func (r *Registry) Cancel(h *WaitHandle) {
	r.abandon(h)
}

// abandon removes h and reports a reply that was delivered before removal.
func (r *Registry) abandon(h *WaitHandle) (codec.WorkReply, bool) {
	r.mu.Lock()
	if current, ok := r.pending[h.token]; ok && current == h {
		delete(r.pending, h.token)
	}
	r.mu.Unlock()

	select {
	case reply := <-h.ch:
		return reply, true
	default:
		return codec.WorkReply{}, false
	}
}

// Pending is the number of outstanding calls.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) Has(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[token]
	return ok
}
