package geyserstream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// State is the reconnect supervisor's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WaitFunc sleeps for d or until ctx is done, returning ctx.Err() in the latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default WaitFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type options struct {
	logger  *zap.SugaredLogger
	metrics *Metrics
	wait    WaitFunc
}

// Option customises a Client, Supervisor or Session.
type Option func(*options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWait replaces the delay between reconnect attempts, mainly for tests.
func WithWait(w WaitFunc) Option {
	return func(o *options) { o.wait = w }
}

func newOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop().Sugar(),
		wait:   SleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}
	if o.wait == nil {
		o.wait = SleepContext
	}
	return o
}

// Supervisor keeps one logical subscription alive across transport failures.
// It owns at most one live Session at a time and resends the same filter on
// every attempt.
type Supervisor struct {
	transport Transport
	filter    *FilterSpec
	cfg       Config
	handoff   *Handoff
	opts      []Option
	o         options

	state    atomic.Int32
	attempts atomic.Uint64
}

// NewSupervisor creates a supervisor that feeds decoded records into handoff.
func NewSupervisor(transport Transport, filter *FilterSpec, handoff *Handoff, cfg Config, opts ...Option) *Supervisor {
	return &Supervisor{
		transport: transport,
		filter:    filter,
		cfg:       cfg.WithDefaults(),
		handoff:   handoff,
		opts:      opts,
		o:         newOptions(opts),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Attempts returns the number of connection attempts made so far.
func (s *Supervisor) Attempts() uint64 { return s.attempts.Load() }

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.o.metrics.setState(st)
	if prev != st {
		s.o.logger.Debugw("state changed", "from", prev, "to", st)
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with exponential
// backoff after every failure. It returns ctx.Err() on cancellation, or the last
// error once MaxReconnectAttempts consecutive attempts have failed.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.filter == nil {
		s.setState(StateTerminated)
		return fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}

	b := s.cfg.Backoff.NewBackOff()
	failures := 0

	for {
		if ctx.Err() != nil {
			s.setState(StateTerminated)
			return ctx.Err()
		}

		s.setState(StateConnecting)
		attempt := s.attempts.Add(1)

		sess, err := OpenSession(ctx, s.transport, s.filter, s.cfg, s.opts...)
		s.o.metrics.connectAttempt(err)
		if err == nil {
			s.setState(StateStreaming)
			s.o.logger.Infow("connected", "attempt", attempt, "session", sess.ID())
			err = sess.Run(ctx, s.handoff)
			if sess.MadeProgress() {
				b.Reset()
				failures = 0
			}
		}

		if ctx.Err() != nil {
			s.setState(StateTerminated)
			return ctx.Err()
		}

		failures++
		if s.cfg.MaxReconnectAttempts > 0 && failures >= s.cfg.MaxReconnectAttempts {
			s.setState(StateTerminated)
			return fmt.Errorf("connection failed after %d attempts: %w", failures, err)
		}

		delay := s.nextDelay(b)
		s.setState(StateConnecting)
		s.o.logger.Warnw("reconnecting",
			"attempt", attempt,
			"failures", failures,
			"delay", delay,
			"error", err,
		)
		if err := s.o.wait(ctx, delay); err != nil {
			s.setState(StateTerminated)
			return err
		}
	}
}

// nextDelay draws the next backoff interval, never exceeding the configured cap.
func (s *Supervisor) nextDelay(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = s.cfg.Backoff.MaxInterval
	}
	if limit := s.cfg.Backoff.MaxInterval; limit > 0 && d > limit {
		d = limit
	}
	return d
}
