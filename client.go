package geyserstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrorCallback receives the error that ended a subscription. It is not called
// when the subscription is cancelled.
type ErrorCallback func(err error)

// Client manages one streaming subscription and its reconnects.
type Client struct {
	config        Config
	transport     Transport
	ownsTransport bool
	opts          []Option

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	done       chan struct{}
	supervisor *Supervisor
	handoff    *Handoff
}

// NewClient creates a client that streams from config.Endpoint over gRPC.
func NewClient(config Config, opts ...Option) *Client {
	config = config.WithDefaults()
	return &Client{
		config:        config,
		transport:     NewGRPCTransport(config),
		ownsTransport: true,
		opts:          opts,
	}
}

// NewClientWithTransport creates a client on a caller-provided transport.
func NewClientWithTransport(config Config, transport Transport, opts ...Option) *Client {
	return &Client{
		config:    config.WithDefaults(),
		transport: transport,
		opts:      opts,
	}
}

// SubscribeWithContext starts streaming filter into sink. It returns once the
// subscription loop is started; ctx controls its lifetime.
func (c *Client) SubscribeWithContext(
	ctx context.Context,
	filter *FilterSpec,
	sink Sink,
	errorCallback ErrorCallback,
) error {
	if filter == nil {
		return fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}
	if sink == nil {
		return errors.New("sink is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadySubscribed
	}

	handoff := NewHandoff(c.config.HandoffCapacity)
	supervisor := NewSupervisor(c.transport, filter, handoff, c.config, c.opts...)
	c.handoff = handoff
	c.supervisor = supervisor

	// Derive a cancelable child context so Close() remains effective
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})
	done := c.done

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		handoff.Drain(ctx, sink)
	}()

	go func() {
		err := supervisor.Run(ctx)
		cancel()
		<-drainDone

		if closer, ok := c.transport.(io.Closer); ok && c.ownsTransport {
			closer.Close() //nolint:errcheck // best-effort shutdown
		}

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && errorCallback != nil {
			errorCallback(err)
		}
		close(done)
	}()

	return nil
}

// Subscribe delegates to SubscribeWithContext using context.Background().
func (c *Client) Subscribe(filter *FilterSpec, sink Sink, errorCallback ErrorCallback) error {
	return c.SubscribeWithContext(context.Background(), filter, sink, errorCallback)
}

// State reports the supervisor state, or StateIdle before Subscribe.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor == nil {
		return StateIdle
	}
	return c.supervisor.State()
}

// Dropped returns the number of records dropped because the sink fell behind.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handoff == nil {
		return 0
	}
	return c.handoff.Dropped()
}

// Done is closed when the current subscription has fully stopped.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Close terminates the subscription. The gRPC connection of a client created
// by NewClient is released once the loop has stopped; see Done.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
