// Package heartbeat maintains the long-lived bidirectional stream that
// tells the block engine which regions this proxy wants shreds for, and
// receives back the current forwarding destination list in return.
// It owns the restart signal that forces a full gRPC reconnect. A
// session is restarted when the stream ends or errors, or when a caller
// invokes RestartSignal.Request (the pipeline's metrics tick does so
// when the inbound shred rate collapses). A failed access-token refresh
// does not restart the session.
package heartbeat

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/shredcore/shredstream/blockenginepb"
	"github.com/shredcore/shredstream/forward"
	"github.com/shredcore/shredstream/log"
)

const (
	sendInterval = 5 * time.Second
	dialTimeout  = 10 * time.Second

	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second

	// reconnectRateLimit and reconnectBurst cap how often Run may
	// redial regardless of the jittered backoff below, so a stream
	// that fails instantly on every dial (misconfigured endpoint)
	// can't busy-loop.
	reconnectRateLimit = 1 // per second
	reconnectBurst     = 2
)

// RestartSignal is a level-triggered request to tear down and redial
// the heartbeat stream. Request is safe to call from any goroutine,
// including the metrics tick that notices the inbound rate has
// collapsed; it never blocks and coalesces concurrent requests into
// one pending restart.
type RestartSignal struct {
	ch chan struct{}
}

func NewRestartSignal() *RestartSignal {
	return &RestartSignal{ch: make(chan struct{}, 1)}
}

func (r *RestartSignal) Request() {
	select {
	case r.ch <- struct{}{}:
	default:
	}
}

// Loop drives one session's worth of heartbeat streaming. Dial opens a
// fresh stream each time the loop (re)connects; a production caller
// passes a closure that dials the block engine and attaches the
// current access token to the outgoing context.
type Loop struct {
	log     *log.Logger
	dial    func(ctx context.Context) (blockenginepb.HeartbeatStreamClient, error)
	dests   *forward.Destinations
	regions []string
	address string
	restart *RestartSignal

	reconnectLimiter *rate.Limiter
}

func NewLoop(logger *log.Logger, dial func(ctx context.Context) (blockenginepb.HeartbeatStreamClient, error), dests *forward.Destinations, regions []string, forwardAddress string, restart *RestartSignal) *Loop {
	return &Loop{
		log:              logger,
		dial:             dial,
		dests:            dests,
		regions:          regions,
		address:          forwardAddress,
		restart:          restart,
		reconnectLimiter: rate.NewLimiter(rate.Limit(reconnectRateLimit), reconnectBurst),
	}
}

// Run blocks until ctx is cancelled, reconnecting with jittered
// backoff whenever a session ends for any reason other than ctx
// cancellation. It never returns except on shutdown.
func (l *Loop) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if l.log != nil {
			l.log.Warn("heartbeat session ended, reconnecting", "err", err)
		}
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff(attempt)):
		}
		if err := l.reconnectLimiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (l *Loop) runSession(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	stream, err := l.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- l.recvLoop(stream) }()

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	if err := l.send(stream); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = stream.CloseSend()
			return ctx.Err()
		case <-l.restart.ch:
			_ = stream.CloseSend()
			return errRestartRequested
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := l.send(stream); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) send(stream blockenginepb.HeartbeatStreamClient) error {
	return stream.Send(&blockenginepb.HeartbeatRequest{Regions: l.regions, ForwardAddress: l.address})
}

func (l *Loop) recvLoop(stream blockenginepb.HeartbeatStreamClient) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		addrs, err := parseUDPAddrs(resp.Destinations)
		if err != nil {
			if l.log != nil {
				l.log.Warn("heartbeat received unparseable destination", "err", err)
			}
			continue
		}
		l.dests.Publish(addrs)
	}
}

var errRestartRequested = restartErr{}

type restartErr struct{}

func (restartErr) Error() string { return "heartbeat: restart requested" }

func parseUDPAddrs(raw []string) ([]*net.UDPAddr, error) {
	addrs := make([]*net.UDPAddr, 0, len(raw))
	for _, s := range raw {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("heartbeat: resolve destination %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func backoff(attempt int) time.Duration {
	d := minBackoff << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	jitter := rand.Int63n(int64(d) / 2)
	return d/2 + time.Duration(jitter)
}
