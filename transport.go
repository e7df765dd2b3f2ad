package geyserstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Stream is one duplex subscription stream. Send is called only by the
// session's outbound task and Recv only by its inbound task.
type Stream interface {
	Send(*SubscribeRequest) error
	Recv() (*SubscribeUpdate, error)
	CloseSend() error
}

// Transport opens duplex streams. The stream lives until ctx is cancelled.
type Transport interface {
	OpenStream(ctx context.Context) (Stream, error)
}

// ChannelOptions configures gRPC channel behavior
type ChannelOptions struct {
	MinConnectTimeoutSecs int // Default: 10

	// Message size limits
	MaxRecvMsgSize int // Max message size in bytes for receiving. Default: 1GB
	MaxSendMsgSize int // Max message size in bytes for sending. Default: 32MB

	// Keepalive settings
	KeepaliveTimeSecs    int  // Default: 30
	KeepaliveTimeoutSecs int  // Default: 5
	PermitWithoutStream  bool // Default: true

	// Window sizes for flow control
	InitialWindowSize     int32 // Per-stream window size. Default: 4MB
	InitialConnWindowSize int32 // Connection window size. Default: 8MB

	// Buffer settings
	WriteBufferSize int // Default: 64KB
	ReadBufferSize  int // Default: 64KB

	UseCompression bool // gzip
}

// GRPCTransport talks to a geyser endpoint over a single lazily dialed
// gRPC connection. gRPC re-establishes the underlying connection by itself;
// every OpenStream call starts a new Subscribe stream on it.
type GRPCTransport struct {
	endpoint    string
	xToken      string
	insecure    bool
	channelOpts *ChannelOptions
	extraOpts   []grpc.DialOption

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewGRPCTransport creates a transport for cfg. Extra dial options are applied
// after the ones derived from cfg.
func NewGRPCTransport(cfg Config, extra ...grpc.DialOption) *GRPCTransport {
	return &GRPCTransport{
		endpoint:    cfg.Endpoint,
		xToken:      cfg.XToken,
		insecure:    cfg.Insecure,
		channelOpts: cfg.ChannelOptions,
		extraOpts:   extra,
	}
}

// OpenStream starts a Subscribe stream. The caller sends the first request.
func (t *GRPCTransport) OpenStream(ctx context.Context) (Stream, error) {
	client, err := t.Geyser(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := client.Subscribe(t.outgoingContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return stream, nil
}

// Geyser returns a geyser client on the shared connection.
func (t *GRPCTransport) Geyser(ctx context.Context) (pb.GeyserClient, error) {
	conn, err := t.clientConn(ctx)
	if err != nil {
		return nil, err
	}
	return pb.NewGeyserClient(conn), nil
}

// Close tears down the connection. A later OpenStream dials again.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *GRPCTransport) clientConn(ctx context.Context) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	target, err := normalizeTarget(t.endpoint)
	if err != nil {
		return nil, err
	}
	opts := append(dialOptions(t.channelOpts, t.insecure), t.extraOpts...)
	conn, err := grpc.DialContext(ctx, target, opts...) //nolint:staticcheck // DialContext keeps passthrough resolution
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	t.conn = conn
	return conn, nil
}

// outgoingContext attaches SDK metadata and the access token.
func (t *GRPCTransport) outgoingContext(ctx context.Context) context.Context {
	md := metadata.New(map[string]string{
		"x-sdk-name":    SDKName,
		"x-sdk-version": SDKVersion,
	})
	if t.xToken != "" {
		md.Set("x-token", t.xToken)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// normalizeTarget turns https://host, http://host:port, host or host:port into a dial target.
func normalizeTarget(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("%w: endpoint is required", ErrConnect)
	}
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("error parsing endpoint URL: %w", err)
		}
		if u.Port() != "" {
			return u.Host, nil
		}
		if u.Scheme == "http" {
			return u.Hostname() + ":80", nil
		}
		return u.Hostname() + ":443", nil
	}
	if strings.Contains(endpoint, ":") {
		return endpoint, nil
	}
	return endpoint + ":443", nil
}

func dialOptions(channelOpts *ChannelOptions, plaintext bool) []grpc.DialOption {
	var opts []grpc.DialOption
	if plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	if channelOpts == nil {
		channelOpts = &ChannelOptions{PermitWithoutStream: true}
	}

	keepaliveTime := 30 * time.Second
	keepaliveTimeout := 5 * time.Second
	if channelOpts.KeepaliveTimeSecs > 0 {
		keepaliveTime = time.Duration(channelOpts.KeepaliveTimeSecs) * time.Second
	}
	if channelOpts.KeepaliveTimeoutSecs > 0 {
		keepaliveTimeout = time.Duration(channelOpts.KeepaliveTimeoutSecs) * time.Second
	}
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                keepaliveTime,
		Timeout:             keepaliveTimeout,
		PermitWithoutStream: channelOpts.PermitWithoutStream,
	}))

	maxRecvMsgSize := 1024 * 1024 * 1024
	maxSendMsgSize := 32 * 1024 * 1024
	if channelOpts.MaxRecvMsgSize > 0 {
		maxRecvMsgSize = channelOpts.MaxRecvMsgSize
	}
	if channelOpts.MaxSendMsgSize > 0 {
		maxSendMsgSize = channelOpts.MaxSendMsgSize
	}
	callOpts := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(maxRecvMsgSize),
		grpc.MaxCallSendMsgSize(maxSendMsgSize),
	}
	if channelOpts.UseCompression {
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))

	minConnectTimeout := 10 * time.Second
	if channelOpts.MinConnectTimeoutSecs > 0 {
		minConnectTimeout = time.Duration(channelOpts.MinConnectTimeoutSecs) * time.Second
	}
	opts = append(opts, grpc.WithConnectParams(grpc.ConnectParams{
		Backoff:           backoff.DefaultConfig,
		MinConnectTimeout: minConnectTimeout,
	}))

	initialWindow := int32(4 * 1024 * 1024)
	if channelOpts.InitialWindowSize > 0 {
		initialWindow = channelOpts.InitialWindowSize
	}
	opts = append(opts, grpc.WithInitialWindowSize(initialWindow))

	initialConnWindow := int32(8 * 1024 * 1024)
	if channelOpts.InitialConnWindowSize > 0 {
		initialConnWindow = channelOpts.InitialConnWindowSize
	}
	opts = append(opts, grpc.WithInitialConnWindowSize(initialConnWindow))

	writeBuffer := 64 * 1024
	if channelOpts.WriteBufferSize > 0 {
		writeBuffer = channelOpts.WriteBufferSize
	}
	opts = append(opts, grpc.WithWriteBufferSize(writeBuffer))
	if channelOpts.ReadBufferSize > 0 {
		opts = append(opts, grpc.WithReadBufferSize(channelOpts.ReadBufferSize))
	}
	return opts
}
