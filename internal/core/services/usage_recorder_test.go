package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/core/services"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
	"github.com/SscSPs/bearer_gate/internal/repositories/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTokenSvc captures MarkUsed batches. Only MarkUsed is exercised.
type recordingTokenSvc struct {
	portssvc.TokenSvc

	mu      sync.Mutex
	batches [][]string
	block   chan struct{}
	err     error
}

func (s *recordingTokenSvc) MarkUsed(ctx context.Context, rawTokens ...string) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]string(nil), rawTokens...))
	return s.err
}

func (s *recordingTokenSvc) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []string
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func TestUsageRecorder_FlushesQueuedUpdates(t *testing.T) {
	svc := &recordingTokenSvc{}
	rec := services.NewUsageRecorder(svc, 16)
	rec.Start()

	assert.True(t, rec.Record("bgt_a"))
	assert.True(t, rec.Record("bgt_b"))

	assert.Eventually(t, func() bool { return len(svc.recorded()) == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, rec.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"bgt_a", "bgt_b"}, svc.recorded())
}

func TestUsageRecorder_ShutdownDrainsBuffered(t *testing.T) {
	svc := &recordingTokenSvc{}
	rec := services.NewUsageRecorder(svc, 128)

	// Queue before the worker runs so everything is buffered at shutdown.
	for i := 0; i < 100; i++ {
		require.True(t, rec.Record("bgt_x"))
	}
	rec.Start()
	require.NoError(t, rec.Shutdown(context.Background()))

	assert.Len(t, svc.recorded(), 100)
	for _, b := range svc.batches {
		assert.LessOrEqual(t, len(b), 64)
	}
}

func TestUsageRecorder_FullQueueDropsAndCounts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rec := services.NewUsageRecorder(&recordingTokenSvc{}, 2, services.WithRecorderMetrics(m))

	assert.True(t, rec.Record("bgt_1"))
	assert.True(t, rec.Record("bgt_2"))
	assert.False(t, rec.Record("bgt_3"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageDropped))
	require.NoError(t, rec.Shutdown(context.Background()))
}

func TestUsageRecorder_RecordAfterShutdownIsRejected(t *testing.T) {
	rec := services.NewUsageRecorder(&recordingTokenSvc{}, 4)
	rec.Start()
	require.NoError(t, rec.Shutdown(context.Background()))

	assert.False(t, rec.Record("bgt_late"))
	assert.NoError(t, rec.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestUsageRecorder_ShutdownTimeoutAbandons(t *testing.T) {
	svc := &recordingTokenSvc{block: make(chan struct{})}
	rec := services.NewUsageRecorder(svc, 4)
	rec.Start()
	require.True(t, rec.Record("bgt_stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rec.Shutdown(ctx)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, svc.recorded())
}

// stuckTokenSvc blocks MarkUsed until released, ignoring cancellation.
type stuckTokenSvc struct {
	portssvc.TokenSvc
	release chan struct{}
}

func (s *stuckTokenSvc) MarkUsed(context.Context, ...string) error {
	<-s.release
	return nil
}

func TestUsageRecorder_ShutdownDoesNotWaitForStuckFlush(t *testing.T) {
	svc := &stuckTokenSvc{release: make(chan struct{})}
	defer close(svc.release)
	rec := services.NewUsageRecorder(svc, 4)
	rec.Start()
	require.True(t, rec.Record("bgt_stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rec.Shutdown(ctx)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestUsageRecorder_MarkUsedFailureIsSwallowed(t *testing.T) {
	svc := &recordingTokenSvc{err: errors.New("disk full")}
	rec := services.NewUsageRecorder(svc, 4)
	rec.Start()

	assert.True(t, rec.Record("bgt_a"))
	require.NoError(t, rec.Shutdown(context.Background()))
	assert.Equal(t, []string{"bgt_a"}, svc.recorded())
}

func TestUsageRecorder_UpdatesStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := services.NewTokenService(store)
	raw, _, err := svc.Issue(ctx, portssvc.IssueTokenRequest{ClientID: "alice"})
	require.NoError(t, err)

	rec := services.NewUsageRecorder(svc, 4)
	rec.Start()
	require.True(t, rec.Record(raw))
	require.NoError(t, rec.Shutdown(ctx))

	got, err := store.Get(ctx, domain.HashSecret(raw))
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func newTestStore(t *testing.T) *memory.TokenStore {
	t.Helper()
	store, err := memory.NewTokenStore(context.Background(), memory.NewVolatilePersister(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
