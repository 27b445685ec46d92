package compare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shredcore/shredstream/analytics"
)

var upgrader = websocket.Upgrader{}

func newEchoServer(t *testing.T, payloads [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
				return
			}
		}
		// keep the connection open until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSubscriberRecordsTimingForEachSignature(t *testing.T) {
	srv := newEchoServer(t, [][]byte{
		[]byte(`{"signature":"sig-1"}`),
		[]byte(`{"signature":"sig-2"}`),
	})
	defer srv.Close()

	sink, err := analytics.Open(nil, t.TempDir()+"/compare.db")
	if err != nil {
		t.Fatalf("analytics.Open: %v", err)
	}
	defer sink.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub, err := New(nil, wsURL, sink, analytics.ToolHeliusYellowstone)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	deadline := time.After(2 * time.Second)
	for sink.Enqueued() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 enqueued timing events, got %d", sink.Enqueued())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	sink, err := analytics.Open(nil, t.TempDir()+"/compare2.db")
	if err != nil {
		t.Fatalf("analytics.Open: %v", err)
	}
	defer sink.Close()

	if _, err := New(nil, "ht\ntp://bad", sink, analytics.ToolHeliusYellowstone); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
