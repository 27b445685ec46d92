package forward

import (
	"net"
	"testing"

	"github.com/shredcore/shredstream/metrics"
)

type fakeConn struct {
	net.PacketConn
	sent []struct {
		pkt []byte
		dst net.Addr
	}
	failFor net.Addr
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if f.failFor != nil && addr.String() == f.failFor.String() {
		return 0, net.ErrClosed
	}
	f.sent = append(f.sent, struct {
		pkt []byte
		dst net.Addr
	}{append([]byte(nil), p...), addr})
	return len(p), nil
}

func TestForwardBatchSendsToAllDestinations(t *testing.T) {
	dests := NewDestinations()
	d1 := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	d2 := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}
	dests.Publish([]*net.UDPAddr{d1, d2})

	conn := &fakeConn{}
	m := metrics.New()
	fw := New(nil, dests, m, conn)
	fw.ForwardBatch([][]byte{[]byte("a"), []byte("b")})

	if len(conn.sent) != 4 {
		t.Fatalf("expected 4 sends (2 packets x 2 dests), got %d", len(conn.sent))
	}
	if m.Cumulative.ForwardedOK.Load() != 4 {
		t.Fatalf("expected 4 forwarded_ok, got %d", m.Cumulative.ForwardedOK.Load())
	}
}

func TestForwardBatchNoDestinationsIsNoop(t *testing.T) {
	dests := NewDestinations()
	conn := &fakeConn{}
	m := metrics.New()
	fw := New(nil, dests, m, conn)
	fw.ForwardBatch([][]byte{[]byte("a")})
	if len(conn.sent) != 0 {
		t.Fatalf("expected no sends with empty destination set, got %d", len(conn.sent))
	}
}

func TestForwardBatchCountsPerDestinationFailures(t *testing.T) {
	dests := NewDestinations()
	bad := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	good := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 10}
	dests.Publish([]*net.UDPAddr{bad, good})

	conn := &fakeConn{failFor: bad}
	m := metrics.New()
	fw := New(nil, dests, m, conn)
	fw.ForwardBatch([][]byte{[]byte("a")})

	if m.Cumulative.ForwardedOK.Load() != 1 {
		t.Fatalf("expected 1 ok, got %d", m.Cumulative.ForwardedOK.Load())
	}
	if m.Cumulative.ForwardedErr.Load() != 1 {
		t.Fatalf("expected 1 err, got %d", m.Cumulative.ForwardedErr.Load())
	}
}

func TestHotSwapDestinations(t *testing.T) {
	dests := NewDestinations()
	d1 := &net.UDPAddr{Port: 1}
	dests.Publish([]*net.UDPAddr{d1})

	conn := &fakeConn{}
	m := metrics.New()
	fw := New(nil, dests, m, conn)
	fw.ForwardBatch([][]byte{[]byte("before")})

	d2 := &net.UDPAddr{Port: 2}
	d3 := &net.UDPAddr{Port: 3}
	dests.Publish([]*net.UDPAddr{d2, d3})
	fw.ForwardBatch([][]byte{[]byte("after")})

	if len(conn.sent) != 3 {
		t.Fatalf("expected 1 send before swap + 2 after, got %d", len(conn.sent))
	}
	if conn.sent[0].dst.(*net.UDPAddr).Port != 1 {
		t.Fatalf("expected first send to d1")
	}
	for _, s := range conn.sent[1:] {
		if s.dst.(*net.UDPAddr).Port == 1 {
			t.Fatalf("packet sent after swap should never reach d1")
		}
	}
}
