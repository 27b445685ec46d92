package ingest

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/shredcore/shredstream/dedup"
	"github.com/shredcore/shredstream/fec"
	"github.com/shredcore/shredstream/forward"
	"github.com/shredcore/shredstream/metrics"
)

func buildDatagram(slot uint64, index, fecSetIndex uint32) []byte {
	buf := make([]byte, 18+64+8)
	binary.LittleEndian.PutUint64(buf[0:], slot)
	binary.LittleEndian.PutUint32(buf[8:], index)
	binary.LittleEndian.PutUint32(buf[12:], fecSetIndex)
	buf[16] = 0 // TypeData
	buf[17] = 0 // flags
	return buf
}

func TestPipelineForwardsAndAccumulates(t *testing.T) {
	src, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	dst, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen dst: %v", err)
	}
	defer dst.Close()

	d, err := dedup.New(1024)
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	dests := forward.NewDestinations()
	dstAddr := dst.LocalAddr().(*net.UDPAddr)
	dests.Publish([]*net.UDPAddr{dstAddr})
	fwd := forward.New(nil, dests, metrics.New(), src)

	var claimedCount int
	accum := fec.NewAccumulator(nil, fec.NewIgnoreSet(1024))
	accum.OnReady = func(s *fec.Set) { claimedCount++ }

	m := metrics.New()
	p := New(nil, src, d, fwd, accum, m, 1, false)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() { p.Run(ctx); close(runDone) }()

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen sender: %v", err)
	}
	defer sender.Close()

	datagram := buildDatagram(100, 0, 5)
	if _, err := sender.WriteTo(datagram, src.LocalAddr()); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst.SetReadDeadline(time.Now().Add(2 * time.Second))
	readBuf := make([]byte, 2048)
	n, _, err := dst.ReadFrom(readBuf)
	if err != nil {
		t.Fatalf("expected forwarded datagram, got err: %v", err)
	}
	if n != len(datagram) {
		t.Fatalf("forwarded datagram length mismatch: got %d want %d", n, len(datagram))
	}

	deadline := time.After(2 * time.Second)
	for accum.Active() == 0 {
		select {
		case <-deadline:
			t.Fatalf("shred was never accumulated into a FEC set")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestPipelineDropsDuplicateDatagrams(t *testing.T) {
	src, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d, err := dedup.New(1024)
	if err != nil {
		t.Fatalf("dedup.New: %v", err)
	}
	fwd := forward.New(nil, forward.NewDestinations(), metrics.New(), src)
	accum := fec.NewAccumulator(nil, fec.NewIgnoreSet(1024))
	m := metrics.New()
	p := New(nil, src, d, fwd, accum, m, 1, false)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() { p.Run(ctx); close(runDone) }()

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen sender: %v", err)
	}
	defer sender.Close()

	datagram := buildDatagram(200, 1, 7)
	for i := 0; i < 3; i++ {
		if _, err := sender.WriteTo(datagram, src.LocalAddr()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for m.CumulativeSnapshot().Duplicates < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected duplicate datagrams to be counted, got snapshot %+v", m.CumulativeSnapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
