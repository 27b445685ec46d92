// Package ingest owns the UDP receive side: a pool of worker
// goroutines sharing one bound socket, each parsing a datagram into a
// shred, deduplicating it, forwarding the raw packet downstream, and
// feeding the surviving shred into the FEC accumulator.
package ingest

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shredcore/shredstream/dedup"
	"github.com/shredcore/shredstream/fec"
	"github.com/shredcore/shredstream/forward"
	"github.com/shredcore/shredstream/log"
	"github.com/shredcore/shredstream/metrics"
	"github.com/shredcore/shredstream/shred"
)

const maxDatagramSize = 2048

// Pipeline wires a bound UDP socket through dedup, forward, and FEC
// accumulation. NumWorkers goroutines read from the same socket
// concurrently, relying on the kernel to distribute datagrams across
// them (SO_REUSEPORT semantics, or simple concurrent ReadFrom calls on
// one shared fd — both are valid with Go's net.PacketConn since reads
// are independently synchronized by the runtime's netpoller).
type Pipeline struct {
	log        *log.Logger
	conn       net.PacketConn
	dedup      *dedup.Deduper
	forwarder  *forward.Forwarder
	accum      *fec.Accumulator
	metrics    *metrics.ShredMetrics
	numWorkers int

	// debugTrace gates a Trace-level log call per received shred. It
	// is compiled in but inert by default: the per-shred volume is
	// too high for routine operation, so this is left off unless a
	// caller is actively diagnosing the receive path.
	debugTrace bool
}

func New(logger *log.Logger, conn net.PacketConn, d *dedup.Deduper, fwd *forward.Forwarder, accum *fec.Accumulator, m *metrics.ShredMetrics, numWorkers int, debugTrace bool) *Pipeline {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pipeline{log: logger, conn: conn, dedup: d, forwarder: fwd, accum: accum, metrics: m, numWorkers: numWorkers, debugTrace: debugTrace}
}

// Run starts NumWorkers receive workers and blocks until ctx is
// cancelled or a worker returns a non-shutdown error. Cancelling ctx
// closes the shared socket, which unblocks every worker's pending
// ReadFrom with a use-of-closed-network-connection error that Run
// treats as a clean shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.numWorkers; i++ {
		g.Go(func() error { return p.worker(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		_ = p.conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// worker reads one datagram at a time and pushes it straight through
// dedup, forward, and FEC insertion; batching here would trade latency
// for a throughput gain the erasure-coded path doesn't need, since
// forward and accumulator insertion are already cheap, non-blocking
// operations per packet.
func (p *Pipeline) worker(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || isClosedConnErr(err) {
				return nil
			}
			if p.log != nil {
				p.log.Warn("udp read failed", "err", err)
			}
			continue
		}
		p.metrics.AddReceived(1)

		raw := append([]byte(nil), buf[:n]...)
		sh, err := shred.Parse(raw)
		if err != nil {
			if p.log != nil {
				p.log.Debug("dropping unparseable datagram", "err", err)
			}
			continue
		}
		sh.ReceivedAt = time.Now()

		if p.debugTrace && p.log != nil {
			p.log.Trace("received shred", "slot", sh.Slot, "fec_set_index", sh.FecSetIndex, "index", sh.Index, "type", sh.Type)
		}

		if p.dedup.CheckAndInsert(raw) {
			p.metrics.AddDuplicates(1)
			continue
		}

		p.forwarder.ForwardBatch([][]byte{raw})
		p.accum.Insert(sh)
	}
}

func isClosedConnErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout() && errors.Is(err, net.ErrClosed)
	}
	return errors.Is(err, net.ErrClosed)
}
