// Package compare implements an optional secondary subscriber used
// only to benchmark detection latency: it connects to a WebSocket feed
// (e.g. Helius Yellowstone) that republishes the same transactions,
// timestamps each signature it sees, and records the timing in the
// shared analytics sink under a distinct tool id. It never decodes a
// transaction itself — decoding is the ingest pipeline's job — so this
// package has no dependency on decode or deshred.
package compare

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shredcore/shredstream/analytics"
	"github.com/shredcore/shredstream/log"
)

const (
	reconnectBackoff = 2 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Message is the minimal shape this package reads off the wire: a
// transaction signature and nothing else. Any other fields the feed
// sends are ignored.
type Message struct {
	Signature string `json:"signature"`
}

// Subscriber runs the secondary feed's receive loop until its context
// is cancelled, reconnecting with a fixed backoff on any read error.
type Subscriber struct {
	log    *log.Logger
	url    string
	sink   *analytics.Sink
	toolID int

	dialer *websocket.Dialer
}

func New(logger *log.Logger, feedURL string, sink *analytics.Sink, toolID int) (*Subscriber, error) {
	if _, err := url.Parse(feedURL); err != nil {
		return nil, err
	}
	return &Subscriber{
		log:    logger,
		url:    feedURL,
		sink:   sink,
		toolID: toolID,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runSession(ctx); err != nil && s.log != nil {
			s.log.Warn("compare subscriber session ended", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (s *Subscriber) runSession(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Signature == "" {
			continue
		}
		s.sink.Enqueue(analytics.Event{
			InsertTiming: &analytics.InsertTiming{
				Signature:   msg.Signature,
				ToolID:      s.toolID,
				TimestampMs: time.Now().UnixMilli(),
			},
		})
	}
}
