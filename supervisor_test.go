package geyserstream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingWait captures every reconnect delay and returns immediately.
type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
	// stopAfter cancels the run once that many delays were recorded, when > 0.
	stopAfter int
	cancel    context.CancelFunc
}

func (w *recordingWait) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	n := len(w.delays)
	w.mu.Unlock()
	if w.stopAfter > 0 && n >= w.stopAfter {
		w.cancel()
		return context.Canceled
	}
	return ctx.Err()
}

func (w *recordingWait) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func refusingTransport() *fakeTransport {
	return &fakeTransport{open: func(context.Context, int) (*fakeStream, error) {
		return nil, errRefused
	}}
}

func TestSupervisor_BackoffGrowsWithoutCap(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{InitialInterval: 500 * time.Millisecond, Multiplier: 1.5}
	cfg.MaxReconnectAttempts = 12

	w := &recordingWait{}
	s := NewSupervisor(refusingTransport(), slotsFilter(), NewHandoff(1), cfg,
		WithLogger(zaptest.NewLogger(t).Sugar()), WithWait(w.wait))

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrConnect)
	assert.Contains(t, err.Error(), "after 12 attempts")
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, uint64(12), s.Attempts())

	delays := w.Delays()
	require.Len(t, delays, 11)
	assert.Equal(t, 500*time.Millisecond, delays[0])
	assert.Equal(t, 750*time.Millisecond, delays[1])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1], "delay %d", i)
	}
}

func TestSupervisor_BackoffRespectsCap(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{
		InitialInterval:     500 * time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxInterval:         8 * time.Second,
	}
	cfg.MaxReconnectAttempts = 40

	w := &recordingWait{}
	s := NewSupervisor(refusingTransport(), slotsFilter(), NewHandoff(1), cfg, WithWait(w.wait))

	require.Error(t, s.Run(context.Background()))
	delays := w.Delays()
	require.Len(t, delays, 39)
	for i, d := range delays {
		assert.LessOrEqual(t, d, 8*time.Second, "delay %d", i)
		assert.Positive(t, d, "delay %d", i)
	}
}

func TestSupervisor_ResetsBackoffAfterProgress(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{InitialInterval: 500 * time.Millisecond, Multiplier: 1.5}

	tr := &fakeTransport{open: func(ctx context.Context, attempt int) (*fakeStream, error) {
		if attempt == 2 {
			return nil, errRefused
		}
		return newFakeStream(ctx, io.EOF, slotUpdate(uint64(attempt))), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWait{stopAfter: 3, cancel: cancel}
	s := NewSupervisor(tr, slotsFilter(), NewHandoff(10), cfg, WithWait(w.wait))

	require.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		750 * time.Millisecond,
		500 * time.Millisecond,
	}, w.Delays())
	assert.Equal(t, StateTerminated, s.State())
}

func TestSupervisor_ReconnectResendsFilterAndKeepsCorrelation(t *testing.T) {
	blockTime := time.Unix(1_700_000_000, 0).UTC()
	blockMeta := &SubscribeUpdate{UpdateOneof: &SubscribeUpdate_BlockMeta{BlockMeta: &SubscribeUpdateBlockMeta{
		Slot:      100,
		BlockTime: &pb.UnixTimestamp{Timestamp: blockTime.Unix()},
	}}}

	tr := &fakeTransport{open: func(ctx context.Context, attempt int) (*fakeStream, error) {
		if attempt == 1 {
			return newFakeStream(ctx, io.EOF, statusUpdate(100, 0xA)), nil
		}
		return newFakeStream(ctx, nil, blockMeta), nil
	}}

	filter := mustFilter(NewFilterBuilder().TransactionStatus().AccountInclude(tokenProgram).BlocksMeta())
	handoff := NewHandoff(10)
	buf := NewCorrelationBuffer(20)

	got := make(chan CorrelationRecord, 1)
	sink := NewCorrelatingSink(buf, SinkFunc(func(r Record) {
		if cr, ok := r.(CorrelationRecord); ok {
			got <- cr
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handoff.Drain(ctx, sink)

	s := NewSupervisor(tr, filter, handoff, testConfig(),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithWait(func(context.Context, time.Duration) error { return nil }))
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case cr := <-got:
		assert.Equal(t, CorrelationRecord{Slot: 100, Signature: sigString(0xA), BlockTime: blockTime}, cr)
	case <-time.After(testTimeout):
		t.Fatal("correlation not emitted across reconnect")
	}
	assert.Equal(t, StateStreaming, s.State())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(testTimeout):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, StateTerminated, s.State())

	streams := tr.Streams()
	require.Len(t, streams, 2)
	first, second := streams[0].Sent(), streams[1].Sent()
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	if diff := cmp.Diff(first[0], second[0], cmpOpts...); diff != "" {
		t.Errorf("resubscription differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(filter.Request(), second[0], cmpOpts...); diff != "" {
		t.Errorf("resubscription differs from filter (-want +got):\n%s", diff)
	}
}

func TestSupervisor_CancelWhileStreaming(t *testing.T) {
	tr := &fakeTransport{open: func(ctx context.Context, _ int) (*fakeStream, error) {
		return newFakeStream(ctx, nil), nil
	}}
	s := NewSupervisor(tr, slotsFilter(), NewHandoff(1), testConfig())
	assert.Equal(t, StateIdle, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateStreaming }, testTimeout, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(testTimeout):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, 1, tr.Attempts())
}

func TestSupervisor_NilFilter(t *testing.T) {
	s := NewSupervisor(refusingTransport(), nil, NewHandoff(1), testConfig())
	require.ErrorIs(t, s.Run(context.Background()), ErrInvalidFilter)
	assert.Equal(t, StateTerminated, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
