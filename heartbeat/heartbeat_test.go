package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shredcore/shredstream/blockenginepb"
	"github.com/shredcore/shredstream/forward"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      []*blockenginepb.HeartbeatRequest
	responses chan *blockenginepb.HeartbeatResponse
	closed    atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *blockenginepb.HeartbeatResponse, 8)}
}

func (f *fakeStream) Send(req *blockenginepb.HeartbeatRequest) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Recv() (*blockenginepb.HeartbeatResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		return nil, errors.New("stream closed")
	}
	return resp, nil
}

func (f *fakeStream) CloseSend() error {
	f.closed.Store(true)
	close(f.responses)
	return nil
}

func TestRunPublishesReceivedDestinations(t *testing.T) {
	stream := newFakeStream()
	dests := forward.NewDestinations()
	restart := NewRestartSignal()

	loop := NewLoop(nil, func(ctx context.Context) (blockenginepb.HeartbeatStreamClient, error) {
		return stream, nil
	}, dests, []string{"ny"}, "1.2.3.4:1000", restart)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { loop.Run(ctx); close(done) }()

	stream.responses <- &blockenginepb.HeartbeatResponse{Destinations: []string{"127.0.0.1:9000"}}

	deadline := time.After(2 * time.Second)
	for len(dests.Snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("destinations never published")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := dests.Snapshot()
	if len(got) != 1 || got[0].String() != "127.0.0.1:9000" {
		t.Fatalf("unexpected destinations: %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRestartRequestEndsSessionWithoutExitingRun(t *testing.T) {
	var dialCount atomic.Int32
	restart := NewRestartSignal()
	dests := forward.NewDestinations()

	loop := NewLoop(nil, func(ctx context.Context) (blockenginepb.HeartbeatStreamClient, error) {
		dialCount.Add(1)
		return newFakeStream(), nil
	}, dests, []string{"ny"}, "1.2.3.4:1000", restart)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	restart.Request()

	deadline := time.After(5 * time.Second)
	for dialCount.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected a reconnect after restart request, dialCount=%d", dialCount.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
