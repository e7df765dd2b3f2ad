// Package chaosproxy is a TCP proxy that periodically goes offline and kills
// every live connection, for exercising client reconnects.
package chaosproxy

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const flipCheckInterval = 500 * time.Millisecond

type Proxy struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	online bool
	flipAt time.Time
	live   map[net.Conn]struct{}
}

func New(cfg Config, logger *zap.SugaredLogger) *Proxy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Proxy{
		cfg:    cfg,
		logger: logger,
		online: true,
		flipAt: time.Now().Add(randomDuration(cfg.MinUp, cfg.MaxUp)),
		live:   make(map[net.Conn]struct{}),
	}
}

func randomDuration(lo, hi time.Duration) time.Duration {
	diff := int64(hi - lo)
	if diff <= 0 {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(diff))
	if err != nil {
		return lo
	}
	return lo + time.Duration(n.Int64())
}

// Online reports whether the proxy currently forwards connections.
func (p *Proxy) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// LiveConns returns the number of tracked client and upstream connections.
func (p *Proxy) LiveConns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// SetOnline forces the proxy up or down and schedules the next automatic flip.
// Going offline closes every live connection.
func (p *Proxy) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setOnlineLocked(online, time.Now())
}

func (p *Proxy) setOnlineLocked(online bool, now time.Time) {
	p.online = online
	if online {
		p.flipAt = now.Add(randomDuration(p.cfg.MinUp, p.cfg.MaxUp))
		p.logger.Infow("proxy online", "next_flip", p.flipAt)
		return
	}

	for conn := range p.live {
		conn.Close() //nolint:errcheck // forced disconnect
	}
	clear(p.live)
	p.flipAt = now.Add(randomDuration(p.cfg.MinDown, p.cfg.MaxDown))
	p.logger.Infow("proxy offline", "next_flip", p.flipAt)
}

func (p *Proxy) flipLoop(ctx context.Context) {
	ticker := time.NewTicker(flipCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.mu.Lock()
			if now.After(p.flipAt) {
				p.setOnlineLocked(!p.online, now)
			}
			p.mu.Unlock()
		}
	}
}

// ListenAndServe listens on the configured local port and serves until ctx is done.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.cfg.ListenAddr())
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln and forwards them upstream while online. It
// closes ln and every live connection when ctx is done.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.logger.Infow("listening", "addr", ln.Addr().String(), "upstream", p.cfg.UpstreamAddr())

	stop := context.AfterFunc(ctx, func() {
		ln.Close() //nolint:errcheck // unblocks Accept
		p.mu.Lock()
		for conn := range p.live {
			conn.Close() //nolint:errcheck // shutdown
		}
		clear(p.live)
		p.mu.Unlock()
	})
	defer stop()

	go p.flipLoop(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		client, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			p.logger.Warnw("failed to accept connection", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.handle(ctx, client)
		}()
	}
}

func (p *Proxy) track(conns ...net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online {
		return false
	}
	for _, c := range conns {
		p.live[c] = struct{}{}
	}
	return true
}

func (p *Proxy) untrack(conns ...net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range conns {
		delete(p.live, c)
	}
}

func (p *Proxy) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	if !p.Online() {
		return
	}

	var d net.Dialer
	upstream, err := d.DialContext(ctx, "tcp", p.cfg.UpstreamAddr())
	if err != nil {
		p.logger.Warnw("failed to connect upstream", "error", err)
		return
	}
	defer upstream.Close()

	if tcp, ok := client.(*net.TCPConn); ok {
		tcp.SetNoDelay(true) //nolint:errcheck // best effort
	}
	if tcp, ok := upstream.(*net.TCPConn); ok {
		tcp.SetNoDelay(true) //nolint:errcheck // best effort
	}

	// The proxy may have gone offline while dialing.
	if !p.track(client, upstream) {
		return
	}
	defer p.untrack(client, upstream)
	p.logger.Debugw("upstream connected", "client", client.RemoteAddr().String())

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client) //nolint:errcheck // ends on close
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream) //nolint:errcheck // ends on close
		done <- struct{}{}
	}()
	<-done
}
