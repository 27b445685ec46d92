// Package pipeline wires every stage of the core together: heartbeat,
// UDP ingest, FEC accumulation, Reed-Solomon recovery,
// deshredding, transaction decode, and analytics persistence. It owns
// the metrics tick that drives dedup rotation, FEC eviction, and the
// heartbeat restart signal.
package pipeline

import (
	"context"
	"net"
	"time"

	"github.com/shredcore/shredstream/analytics"
	"github.com/shredcore/shredstream/blockenginepb"
	"github.com/shredcore/shredstream/decode"
	"github.com/shredcore/shredstream/dedup"
	"github.com/shredcore/shredstream/deshred"
	"github.com/shredcore/shredstream/event"
	"github.com/shredcore/shredstream/fec"
	"github.com/shredcore/shredstream/forward"
	"github.com/shredcore/shredstream/governor"
	"github.com/shredcore/shredstream/heartbeat"
	"github.com/shredcore/shredstream/ingest"
	"github.com/shredcore/shredstream/log"
	"github.com/shredcore/shredstream/metrics"
	rs "github.com/shredcore/shredstream/reedsolomon"
)

// minInboundRateBeforeRestart is the received-shred count per metrics
// tick below which the heartbeat loop is assumed stalled rather than
// merely quiet, and a gRPC restart is requested.
const minInboundRateBeforeRestart = 1

// Options configures an assembled Pipeline.
type Options struct {
	Regions        []string
	ForwardAddress string
	NumThreads     int

	DedupExpectedElements uint64
	IgnoreSetCapacity     int

	MetricsReportInterval time.Duration

	// DebugTraceShred gates a Trace-level log call per shred in the
	// receive path. Compiled in but inert by default; the per-shred
	// volume is too high for routine operation.
	DebugTraceShred bool

	// EnableWSCompare activates the optional WebSocket comparison
	// subscriber. The pipeline only wires the toggle through here;
	// the subscriber itself lives in the compare package and is
	// started by the caller when this is set.
	EnableWSCompare bool
}

// Pipeline is the assembled, running core. Construct with New, then
// call Run.
type Pipeline struct {
	log *log.Logger
	opt Options

	dedup      *dedup.Deduper
	dests      *forward.Destinations
	forwarder  *forward.Forwarder
	accum      *fec.Accumulator
	ingest     *ingest.Pipeline
	metrics    *metrics.ShredMetrics
	gov        *governor.Governor
	decoder    *decode.Decoder
	analytics  *analytics.Sink
	restart    *heartbeat.RestartSignal
	heartbeat  *heartbeat.Loop
	outbound   event.Feed
	detectTool int
}

// DecodedTransactions exposes the outbound transaction feed; Register
// application consumers here.
func (p *Pipeline) DecodedTransactions() *event.Feed { return &p.outbound }

// New assembles every stage. conn is the already-bound UDP socket;
// dial opens the gRPC heartbeat stream (already carrying the current
// access token in its context).
func New(logger *log.Logger, opt Options, conn net.PacketConn, dial func(ctx context.Context) (blockenginepb.HeartbeatStreamClient, error), decoder *decode.Decoder, analyticsSink *analytics.Sink, detectToolID int) (*Pipeline, error) {
	d, err := dedup.New(opt.DedupExpectedElements)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	dests := forward.NewDestinations()
	fwd := forward.New(logger.With("stage", "forward"), dests, m, conn)

	restart := heartbeat.NewRestartSignal()
	hb := heartbeat.NewLoop(logger.With("stage", "heartbeat"), dial, dests, opt.Regions, opt.ForwardAddress, restart)

	p := &Pipeline{
		log:        logger,
		opt:        opt,
		dedup:      d,
		dests:      dests,
		forwarder:  fwd,
		metrics:    m,
		gov:        governor.New(opt.NumThreads),
		decoder:    decoder,
		analytics:  analyticsSink,
		restart:    restart,
		heartbeat:  hb,
		detectTool: detectToolID,
	}

	p.accum = fec.NewAccumulator(logger.With("stage", "fec"), fec.NewIgnoreSet(opt.IgnoreSetCapacity))
	p.accum.OnReady = p.onSetReady

	p.ingest = ingest.New(logger.With("stage", "ingest"), conn, d, fwd, p.accum, m, opt.NumThreads, opt.DebugTraceShred)

	return p, nil
}

// Run blocks until ctx is cancelled or the ingest pipeline fails. It
// runs the ingest pipeline, the heartbeat loop, and the metrics tick
// concurrently, and returns once all three have stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{}, 2)
	go func() { p.heartbeat.Run(ctx); done <- struct{}{} }()
	go func() { p.metricsTick(ctx); done <- struct{}{} }()

	err := p.ingest.Run(ctx)
	cancel()
	<-done
	<-done
	return err
}

// onSetReady runs the recovery→deshred→decode→analytics chain for one
// claimed FEC set, under the governor so a burst of simultaneously
// ready sets cannot unboundedly fan out goroutines.
func (p *Pipeline) onSetReady(set *fec.Set) {
	p.gov.Run(func() {
		dataShreds, err := rs.Reconstruct(set)
		if err != nil {
			if p.log != nil {
				p.log.Debug("reed-solomon recovery failed", "slot", set.Key.Slot, "fec_set_index", set.Key.FecSetIndex, "err", err)
			}
			return
		}

		raw := deshred.Concatenate(dataShreds)
		entries, err := deshred.ParseEntries(raw)
		if err != nil {
			if p.log != nil {
				p.log.Debug("entry parse failed", "slot", set.Key.Slot, "fec_set_index", set.Key.FecSetIndex, "err", err)
			}
			return
		}

		for _, entry := range entries {
			for _, tx := range p.decoder.DecodeEntry(set.Key.Slot, entry) {
				p.recordAnalytics(tx)
				p.outbound.Send(tx)
			}
		}
	})
}

func (p *Pipeline) recordAnalytics(tx decode.DecodedTransaction) {
	if p.analytics == nil {
		return
	}
	p.analytics.Enqueue(analytics.Event{
		InsertTiming: &analytics.InsertTiming{
			Signature:   string(tx.Signature[:]),
			ToolID:      tx.DetectToolID,
			TimestampMs: time.Now().UnixMilli(),
		},
	})
	for _, ix := range tx.Instructions {
		if ix.Kind != decode.KindTokenMintCreate || ix.TokenMintCreate == nil {
			continue
		}
		p.analytics.Enqueue(analytics.Event{
			InsertTokenCreation: &analytics.InsertTokenCreation{
				Name:         ix.TokenMintCreate.Name,
				Mint:         string(ix.TokenMintCreate.Mint[:]),
				Signature:    string(tx.Signature[:]),
				DetectToolID: tx.DetectToolID,
			},
		})
	}
}

// metricsTick drives the periodic maintenance every stage needs:
// dedup generation rotation, FEC-set TTL eviction, and the
// low-inbound-rate signal that forces a heartbeat stream restart.
func (p *Pipeline) metricsTick(ctx context.Context) {
	interval := p.opt.MetricsReportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := p.metrics.SnapshotAndResetInterval()
			p.dedup.Rotate()
			evicted := p.accum.EvictExpired(now)
			if p.log != nil {
				p.log.Info("metrics tick", "received", snap.Received, "forwarded_ok", snap.ForwardedOK,
					"forwarded_err", snap.ForwardedErr, "duplicates", snap.Duplicates, "fec_evicted", evicted)
			}
			if snap.Received < minInboundRateBeforeRestart {
				if p.log != nil {
					p.log.Warn("inbound shred rate collapsed, requesting heartbeat restart")
				}
				p.restart.Request()
			}
		}
	}
}
