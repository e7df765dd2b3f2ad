package geyserstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// outboundFrame is a request queued for the outbound task. kind labels keepalive pings.
type outboundFrame struct {
	req  *SubscribeRequest
	kind string
}

// Session owns one duplex stream attempt. It is created by OpenSession, runs
// once, and is never resumed after Run returns.
type Session struct {
	id      string
	stream  Stream
	cancel  context.CancelFunc
	filter  *FilterSpec
	decoder *Decoder

	outbound     chan outboundFrame
	replyTimeout time.Duration
	pingInterval time.Duration

	pingID   atomic.Int32
	replies  atomic.Uint64
	progress atomic.Bool

	logger  *zap.SugaredLogger
	metrics *Metrics
}

// OpenSession opens a duplex stream on transport. It fails with ErrConnect when
// the stream cannot be established. Nothing is sent until Run.
func OpenSession(ctx context.Context, transport Transport, filter *FilterSpec, cfg Config, opts ...Option) (*Session, error) {
	if filter == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}
	o := newOptions(opts)
	cfg = cfg.WithDefaults()

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := transport.OpenStream(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	id := uuid.New().String()
	return &Session{
		id:           id,
		stream:       stream,
		cancel:       cancel,
		filter:       filter,
		decoder:      NewDecoder(cfg.PriceOffset),
		outbound:     make(chan outboundFrame, cfg.OutboundCapacity),
		replyTimeout: cfg.KeepaliveReplyTimeout,
		pingInterval: cfg.PingInterval,
		logger:       o.logger.With("session", id),
		metrics:      o.metrics,
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// MadeProgress reports whether at least one frame was received.
func (s *Session) MadeProgress() bool { return s.progress.Load() }

// RepliesQueued returns how many keepalive replies the inbound task has queued.
func (s *Session) RepliesQueued() uint64 { return s.replies.Load() }

// Run sends the subscription, then streams until the transport fails or ctx is
// cancelled. Decoded records go to out. The returned error wraps ErrStream for
// transport failures, or is ctx.Err() after cancellation.
func (s *Session) Run(ctx context.Context, out *Handoff) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	// Recv only returns once the stream context is gone.
	stop := context.AfterFunc(gctx, s.cancel)
	defer stop()

	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.readLoop(gctx, out) })

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) close() {
	s.cancel()
	if err := s.stream.CloseSend(); err != nil {
		s.logger.Debugw("close send", "error", err)
	}
}

func (s *Session) nextPingID() int32 { return s.pingID.Add(1) }

// writeLoop is the only caller of stream.Send.
func (s *Session) writeLoop(ctx context.Context) error {
	if err := s.stream.Send(s.filter.Request()); err != nil {
		return fmt.Errorf("%w: failed to send subscription request: %w", ErrStream, err)
	}
	s.logger.Debug("subscription request sent")

	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		var f outboundFrame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f = <-s.outbound:
		case <-tick:
			f = outboundFrame{req: pingRequest(s.nextPingID()), kind: PingIdle}
		}
		if err := s.stream.Send(f.req); err != nil {
			return fmt.Errorf("%w: failed to send %s ping: %w", ErrStream, f.kind, err)
		}
		s.metrics.pingSent(f.kind)
		s.logger.Debugw("ping sent", "kind", f.kind, "id", f.req.GetPing().GetId())
	}
}

// readLoop is the only caller of stream.Recv. Frames are handled strictly in
// arrival order; a service ping is answered before the next frame is read.
func (s *Session) readLoop(ctx context.Context, out *Handoff) error {
	for {
		update, err := s.stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyRecvError(err)
		}
		s.progress.Store(true)

		kind := frameKind(update)
		s.metrics.frameReceived(kind)

		rec, err := s.decoder.Decode(update)
		if err != nil {
			s.metrics.decodeError(kind)
			s.logger.Warnw("skipping frame", "kind", kind, "error", err)
			continue
		}

		switch r := rec.(type) {
		case PingRecord:
			if err := s.queueReply(ctx); err != nil {
				return err
			}
		case PongRecord:
			s.metrics.pongReceived()
			s.logger.Debugw("pong received", "id", r.ID)
		default:
			if err := out.TrySend(rec); err != nil {
				s.metrics.recordDropped()
				s.logger.Warnw("dropping record", "kind", kind, "queued", out.Len(), "error", err)
			}
		}
	}
}

func (s *Session) queueReply(ctx context.Context) error {
	f := outboundFrame{req: pingRequest(s.nextPingID()), kind: PingReply}

	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()

	select {
	case s.outbound <- f:
		s.replies.Add(1)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: keepalive reply not queued within %s", ErrStream, s.replyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pingRequest(id int32) *SubscribeRequest {
	return &SubscribeRequest{Ping: &SubscribeRequestPing{Id: id}}
}

func classifyRecvError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: stream ended", ErrStream)
	}
	if st, ok := status.FromError(err); ok && (st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded) {
		return fmt.Errorf("%w: stream unavailable: %w", ErrStream, err)
	}
	return fmt.Errorf("%w: %w", ErrStream, err)
}
