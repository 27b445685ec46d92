package analytics

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analytics.db")
	s, err := Open(nil, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEnqueueTimingIsPersisted(t *testing.T) {
	s := openTestSink(t)
	s.Enqueue(Event{InsertTiming: &InsertTiming{Signature: "sig1", ToolID: ToolShredstream, TimestampMs: 100}})
	waitUntil(t, func() bool {
		avg, err := s.AverageLatencyMs(ToolShredstream)
		return err == nil && avg == 100
	})
}

func TestEnqueueTokenCreationIsPersisted(t *testing.T) {
	s := openTestSink(t)
	s.Enqueue(Event{InsertTokenCreation: &InsertTokenCreation{
		Name: "Foo", Mint: "mintA", Signature: "sig2", DetectToolID: ToolShredstream,
	}})
	waitUntil(t, func() bool {
		n, err := s.TokenCreationCount(ToolShredstream)
		return err == nil && n == 1
	})
}

func TestCloseDrainsBacklogBeforeReturning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	s, err := Open(nil, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 50; i++ {
		s.Enqueue(Event{InsertTiming: &InsertTiming{Signature: "sig", ToolID: ToolShredstream, TimestampMs: int64(i)}})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Enqueued() != 50 {
		t.Fatalf("expected 50 enqueued, got %d", s.Enqueued())
	}

	reopened, err := Open(nil, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	avg, err := reopened.AverageLatencyMs(ToolShredstream)
	if err != nil {
		t.Fatalf("AverageLatencyMs: %v", err)
	}
	if avg != 24.5 {
		t.Fatalf("expected all 50 timings (0..49, mean 24.5) persisted by Close, got mean %v", avg)
	}
}

func TestEnqueueAfterCloseIsDroppedNotBlocked(t *testing.T) {
	s := openTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Enqueue(Event{InsertTiming: &InsertTiming{Signature: "late", ToolID: ToolShredstream, TimestampMs: 1}})
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event after close, got %d", s.Dropped())
	}
}

func TestOpenWithUnwritableDirDegradesGracefully(t *testing.T) {
	s, err := Open(nil, "/nonexistent-dir-for-test/analytics.db")
	if err == nil {
		t.Fatal("expected error opening sqlite file in a nonexistent directory")
	}
	if !s.Degraded() {
		t.Fatal("expected sink to report degraded after failed Open")
	}
	// Enqueue and Close must both be safe no-ops on a degraded sink.
	s.Enqueue(Event{InsertTiming: &InsertTiming{Signature: "x", ToolID: ToolShredstream, TimestampMs: 1}})
	if s.Dropped() != 1 {
		t.Fatalf("expected degraded sink to drop enqueued events, got dropped=%d", s.Dropped())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected Close on degraded sink to be a no-op, got %v", err)
	}
}
