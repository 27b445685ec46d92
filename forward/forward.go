// Package forward implements a lock-free, atomically swappable
// destination snapshot and a best-effort multicast sender over it.
package forward

import (
	"net"
	"sync/atomic"

	"github.com/shredcore/shredstream/log"
	"github.com/shredcore/shredstream/metrics"
)

// Destinations is an atomically swappable snapshot of a set of UDP
// socket addresses. Readers never block writers; publication is a
// single pointer swap.
type Destinations struct {
	ptr atomic.Pointer[[]*net.UDPAddr]
}

func NewDestinations() *Destinations {
	d := &Destinations{}
	empty := make([]*net.UDPAddr, 0)
	d.ptr.Store(&empty)
	return d
}

// Publish atomically swaps in a new destination list. Only the
// heartbeat loop is expected to call this.
func (d *Destinations) Publish(addrs []*net.UDPAddr) {
	snapshot := make([]*net.UDPAddr, len(addrs))
	copy(snapshot, addrs)
	d.ptr.Store(&snapshot)
}

// Snapshot returns the current destination list. The returned slice
// must not be mutated by the caller.
func (d *Destinations) Snapshot() []*net.UDPAddr {
	return *d.ptr.Load()
}

// Forwarder multicasts received, deduplicated shred datagrams, as they
// arrived, to every published destination.
type Forwarder struct {
	log     *log.Logger
	dests   *Destinations
	metrics *metrics.ShredMetrics
	conn    net.PacketConn
}

func New(logger *log.Logger, dests *Destinations, m *metrics.ShredMetrics, conn net.PacketConn) *Forwarder {
	return &Forwarder{log: logger, dests: dests, metrics: m, conn: conn}
}

// ForwardBatch reads the current destination snapshot once per batch
// and issues a non-blocking send of each packet to every destination.
// A full kernel send buffer drops the datagram silently — there is no
// queueing and no retry, since the erasure-coded upstream is expected
// to tolerate loss.
func (f *Forwarder) ForwardBatch(packets [][]byte) {
	dests := f.dests.Snapshot()
	if len(dests) == 0 {
		return
	}
	for _, pkt := range packets {
		for _, dst := range dests {
			if err := f.sendNonBlocking(pkt, dst); err != nil {
				f.metrics.AddForwardedErr(1)
				if f.log != nil {
					f.log.Warn("forward send failed", "dst", dst.String(), "err", err)
				}
				continue
			}
			f.metrics.AddForwardedOK(1)
		}
	}
}

// sendNonBlocking writes pkt to dst. UDP writes on a connected/unconnected
// socket do not block on a full receive buffer downstream, but they can
// briefly block on a full local send buffer under extreme burst; that is
// an accepted cost here since the call is still bounded by the kernel,
// never by application-level queueing.
func (f *Forwarder) sendNonBlocking(pkt []byte, dst *net.UDPAddr) error {
	_, err := f.conn.WriteTo(pkt, dst)
	return err
}
