package geyserstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Unary wraps the request/response RPCs of a geyser endpoint. It shares the
// connection of the transport it was created from.
type Unary struct {
	transport *GRPCTransport
}

// NewUnary returns a unary RPC client on transport.
func NewUnary(transport *GRPCTransport) *Unary {
	return &Unary{transport: transport}
}

// LatestBlockhash is the answer to GetLatestBlockhash.
type LatestBlockhash struct {
	Slot                 uint64
	Blockhash            string
	LastValidBlockHeight uint64
}

// BlockhashValidity is the answer to IsBlockhashValid.
type BlockhashValidity struct {
	Slot  uint64
	Valid bool
}

func (u *Unary) geyser(ctx context.Context) (pb.GeyserClient, context.Context, error) {
	client, err := u.transport.Geyser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return client, u.transport.outgoingContext(ctx), nil
}

// GetVersion returns the server's version string, usually a JSON document.
func (u *Unary) GetVersion(ctx context.Context) (string, error) {
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.GetVersion(ctx, &pb.GetVersionRequest{})
	if err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	return resp.GetVersion(), nil
}

// Ping sends a unary ping and returns the echoed count.
func (u *Unary) Ping(ctx context.Context, count int32) (int32, error) {
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := client.Ping(ctx, &pb.PingRequest{Count: count})
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	return resp.GetCount(), nil
}

func (u *Unary) GetLatestBlockhash(ctx context.Context, commitment CommitmentLevel) (LatestBlockhash, error) {
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return LatestBlockhash{}, err
	}
	resp, err := client.GetLatestBlockhash(ctx, &pb.GetLatestBlockhashRequest{Commitment: &commitment})
	if err != nil {
		return LatestBlockhash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return LatestBlockhash{
		Slot:                 resp.GetSlot(),
		Blockhash:            resp.GetBlockhash(),
		LastValidBlockHeight: resp.GetLastValidBlockHeight(),
	}, nil
}

func (u *Unary) GetSlot(ctx context.Context, commitment CommitmentLevel) (uint64, error) {
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := client.GetSlot(ctx, &pb.GetSlotRequest{Commitment: &commitment})
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return resp.GetSlot(), nil
}

func (u *Unary) GetBlockHeight(ctx context.Context, commitment CommitmentLevel) (uint64, error) {
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := client.GetBlockHeight(ctx, &pb.GetBlockHeightRequest{Commitment: &commitment})
	if err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	return resp.GetBlockHeight(), nil
}

func (u *Unary) IsBlockhashValid(ctx context.Context, blockhash string, commitment CommitmentLevel) (BlockhashValidity, error) {
	if blockhash == "" {
		return BlockhashValidity{}, errors.New("blockhash is required")
	}
	client, ctx, err := u.geyser(ctx)
	if err != nil {
		return BlockhashValidity{}, err
	}
	resp, err := client.IsBlockhashValid(ctx, &pb.IsBlockhashValidRequest{
		Blockhash:  blockhash,
		Commitment: &commitment,
	})
	if err != nil {
		return BlockhashValidity{}, fmt.Errorf("is blockhash valid: %w", err)
	}
	return BlockhashValidity{Slot: resp.GetSlot(), Valid: resp.GetValid()}, nil
}

// HealthCheck queries the standard gRPC health service.
func (u *Unary) HealthCheck(ctx context.Context) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := u.transport.clientConn(ctx)
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(u.transport.outgoingContext(ctx), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

// HealthWatch streams serving-status changes into fn until the server ends the
// stream or ctx is cancelled.
func (u *Unary) HealthWatch(ctx context.Context, fn func(grpc_health_v1.HealthCheckResponse_ServingStatus)) error {
	conn, err := u.transport.clientConn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	stream, err := grpc_health_v1.NewHealthClient(conn).Watch(u.transport.outgoingContext(ctx), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health watch: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrStream, err)
		}
		fn(resp.GetStatus())
	}
}

// Retry runs op until it succeeds, ctx is done, or maxAttempts attempts have
// failed (0 means unbounded). Delays follow cfg.
func Retry(ctx context.Context, cfg BackoffConfig, maxAttempts int, logger *zap.SugaredLogger, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var b backoff.BackOff = backoff.WithContext(cfg.NewBackOff(), ctx)
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	}

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			if attempt > 1 {
				logger.Infow("retrying", "attempt", attempt)
			}
			return op(ctx)
		},
		b,
		func(err error, d time.Duration) {
			logger.Warnw("attempt failed", "attempt", attempt, "delay", d, "error", err)
		},
	)
}
