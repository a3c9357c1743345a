package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
)

const (
	// DefaultUsageQueueSize is used when a non-positive size is requested.
	DefaultUsageQueueSize = 1024

	maxUsageBatch   = 64
	markUsedTimeout = 5 * time.Second
	// abandonGrace bounds the wait for an in-flight flush after Shutdown gives up.
	abandonGrace = 100 * time.Millisecond
)

// UsageRecorder moves lastUsedAt updates off the request path. Credentials are
// queued on a bounded channel and a single worker flushes them in batches.
type UsageRecorder struct {
	BaseService
	tokenSvc portssvc.TokenSvc
	metrics  *metrics.Metrics
	queue    chan string

	// mu guards closed so Record never sends on a closed queue.
	mu      sync.RWMutex
	closed  bool
	started bool

	workCtx context.Context
	abandon context.CancelFunc
	done    chan struct{}
}

var _ portssvc.UsageRecorder = (*UsageRecorder)(nil)

// UsageRecorderOption configures a UsageRecorder.
type UsageRecorderOption func(*UsageRecorder)

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger *slog.Logger) UsageRecorderOption {
	return func(r *UsageRecorder) {
		r.Logger = logger
	}
}

// WithRecorderMetrics counts dropped updates on m.
func WithRecorderMetrics(m *metrics.Metrics) UsageRecorderOption {
	return func(r *UsageRecorder) {
		r.metrics = m
	}
}

// NewUsageRecorder creates a recorder with a queue of queueSize pending updates.
// Call Start before recording and Shutdown when done.
func NewUsageRecorder(tokenSvc portssvc.TokenSvc, queueSize int, opts ...UsageRecorderOption) *UsageRecorder {
	if queueSize <= 0 {
		queueSize = DefaultUsageQueueSize
	}
	workCtx, abandon := context.WithCancel(context.Background())
	r := &UsageRecorder{
		tokenSvc: tokenSvc,
		queue:    make(chan string, queueSize),
		workCtx:  workCtx,
		abandon:  abandon,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker. Calling it more than once has no effect.
func (r *UsageRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.run()
}

// Record queues a usage update without blocking. It returns false when the
// queue is full or the recorder is shut down; the update is then dropped.
func (r *UsageRecorder) Record(rawToken string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- rawToken:
		return true
	default:
		r.metrics.ObserveUsageDropped()
		r.GetLogger(r.workCtx).Debug("Usage queue full, dropping update")
		return false
	}
}

// Shutdown stops intake and waits for buffered updates to be flushed. When ctx
// expires first the remaining updates are abandoned and ctx.Err() is returned.
func (r *UsageRecorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		r.abandon()
		return nil
	}

	select {
	case <-r.done:
		r.abandon()
		return nil
	case <-ctx.Done():
		r.abandon()
		// A flush that ignores cancellation is left behind.
		select {
		case <-r.done:
		case <-time.After(abandonGrace):
		}
		r.GetLogger(ctx).Warn("Usage recorder shutdown timed out, abandoning pending updates",
			slog.Int("pending", len(r.queue)))
		return ctx.Err()
	}
}

func (r *UsageRecorder) run() {
	defer close(r.done)
	for {
		select {
		case <-r.workCtx.Done():
			return
		case raw, ok := <-r.queue:
			if !ok {
				return
			}
			r.flush(r.collect(raw))
		}
	}
}

// collect gathers whatever is already queued behind first, up to maxUsageBatch.
func (r *UsageRecorder) collect(first string) []string {
	batch := make([]string, 1, maxUsageBatch)
	batch[0] = first
	for len(batch) < maxUsageBatch {
		select {
		case raw, ok := <-r.queue:
			if !ok {
				return batch
			}
			batch = append(batch, raw)
		default:
			return batch
		}
	}
	return batch
}

func (r *UsageRecorder) flush(batch []string) {
	ctx, cancel := context.WithTimeout(r.workCtx, markUsedTimeout)
	defer cancel()
	if err := r.tokenSvc.MarkUsed(ctx, batch...); err != nil {
		r.GetLogger(ctx).Warn("Failed to record token usage",
			slog.Int("batch", len(batch)),
			slog.String("error", err.Error()))
	}
}
