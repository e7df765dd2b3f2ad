package geyserstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeStream serves scripted frames once the subscription has been sent, then
// returns end. A nil end blocks until the stream context is cancelled.
type fakeStream struct {
	ctx        context.Context
	frames     []*SubscribeUpdate
	end        error
	sendErr    error
	blockSends bool // block every send after the subscription until cancelled
	beforeRecv func(pingsDelivered int)

	subscribed chan struct{}
	subOnce    sync.Once
	sentCh     chan *SubscribeRequest

	mu    sync.Mutex
	sent  []*SubscribeRequest
	pos   int
	pings int
}

func newFakeStream(ctx context.Context, end error, frames ...*SubscribeUpdate) *fakeStream {
	return &fakeStream{
		ctx:        ctx,
		frames:     frames,
		end:        end,
		subscribed: make(chan struct{}),
		sentCh:     make(chan *SubscribeRequest, 64),
	}
}

func (s *fakeStream) Send(req *SubscribeRequest) error {
	s.mu.Lock()
	first := len(s.sent) == 0
	s.mu.Unlock()
	defer s.subOnce.Do(func() { close(s.subscribed) })

	if s.sendErr != nil {
		return s.sendErr
	}
	if s.blockSends && !first {
		<-s.ctx.Done()
		return status.Error(codes.Canceled, s.ctx.Err().Error())
	}

	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	select {
	case s.sentCh <- req:
	default:
	}
	return nil
}

func (s *fakeStream) Recv() (*SubscribeUpdate, error) {
	select {
	case <-s.subscribed:
	case <-s.ctx.Done():
		return nil, status.Error(codes.Canceled, s.ctx.Err().Error())
	}

	s.mu.Lock()
	pings := s.pings
	s.mu.Unlock()
	if s.beforeRecv != nil {
		s.beforeRecv(pings)
	}

	s.mu.Lock()
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		if _, ok := f.GetUpdateOneof().(*SubscribeUpdate_Ping); ok {
			s.pings++
		}
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if s.end != nil {
		return nil, s.end
	}
	<-s.ctx.Done()
	return nil, status.Error(codes.Canceled, s.ctx.Err().Error())
}

func (s *fakeStream) CloseSend() error { return nil }

func (s *fakeStream) Sent() []*SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SubscribeRequest(nil), s.sent...)
}

// waitSent returns the next n requests, or fewer if timeout elapses first.
func (s *fakeStream) waitSent(n int, timeout time.Duration) []*SubscribeRequest {
	var out []*SubscribeRequest
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case req := <-s.sentCh:
			out = append(out, req)
		case <-deadline:
			return out
		}
	}
	return out
}

// fakeTransport delegates every OpenStream to open and remembers the streams.
type fakeTransport struct {
	open func(ctx context.Context, attempt int) (*fakeStream, error)

	mu       sync.Mutex
	attempts int
	streams  []*fakeStream
}

func (t *fakeTransport) OpenStream(ctx context.Context) (Stream, error) {
	t.mu.Lock()
	t.attempts++
	n := t.attempts
	t.mu.Unlock()

	s, err := t.open(ctx, n)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	return s, nil
}

func (t *fakeTransport) Streams() []*fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeStream(nil), t.streams...)
}

func (t *fakeTransport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

var errRefused = errors.New("connection refused")
