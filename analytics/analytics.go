// Package analytics is a single-writer relational store for the two
// timing/detection facts this core produces: per-transaction latency
// samples and new-token-mint detections. It is fed by an unbounded
// in-process queue so producers never block on disk I/O, and serves
// reads from a connection isolated from the writer. A single writer
// goroutine owns a dedicated connection capped at one, generalized
// from a simple embedded key/value store into a fixed three-table
// schema over database/sql (mattn/go-sqlite3).
package analytics

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shredcore/shredstream/log"
)

// Tool ids seeded into the tool table at startup.
const (
	ToolShredstream       = 1
	ToolHeliusYellowstone = 2
)

var seedTools = map[int]string{
	ToolShredstream:       "shredstream",
	ToolHeliusYellowstone: "helius_yellowstone",
}

// Event is the tagged union of facts the writer persists.
// CorrelationID is assigned by Enqueue and carried through to any
// write-failure log line, so a dropped or failed write can be traced
// back to the producer that enqueued it without persisting an extra
// column in either table.
type Event struct {
	InsertTokenCreation *InsertTokenCreation
	InsertTiming        *InsertTiming

	CorrelationID uuid.UUID
}

type InsertTokenCreation struct {
	Name         string
	Mint         string
	Signature    string
	DetectToolID int
}

type InsertTiming struct {
	Signature   string
	ToolID      int
	TimestampMs int64
}

// Sink owns two independent connections to the same sqlite file: one
// for the single background writer, one for synchronous reads, so a
// read query never contends with the write queue's drain loop.
type Sink struct {
	log     *log.Logger
	writeDB *sql.DB
	readDB  *sql.DB

	mu     sync.Mutex
	cond   *sync.Cond
	backlog []Event
	closed bool
	wg     sync.WaitGroup

	degraded  atomic.Bool
	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	writeErrs atomic.Uint64
}

// Open opens (or creates) the sqlite file at path, applies
// CREATE TABLE IF NOT EXISTS for the three relations, seeds the tool
// table, and starts the single writer goroutine. If anything here
// fails, the store is unavailable at startup and the sink degrades to
// a no-op: Enqueue silently drops and Close is a no-op, so the rest of
// the pipeline is never blocked by analytics unavailability. Open still
// returns the error so the caller can log it.
func Open(logger *log.Logger, path string) (*Sink, error) {
	s := &Sink{log: logger}
	s.cond = sync.NewCond(&s.mu)

	writeDB, err := sql.Open("sqlite3", path)
	if err != nil {
		s.degraded.Store(true)
		return s, fmt.Errorf("analytics: open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = writeDB.Close()
		s.degraded.Store(true)
		return s, fmt.Errorf("analytics: open read connection: %w", err)
	}

	if err := createSchema(writeDB); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		s.degraded.Store(true)
		return s, fmt.Errorf("analytics: create schema: %w", err)
	}

	s.writeDB = writeDB
	s.readDB = readDB
	s.wg.Add(1)
	go s.runWriter()
	return s, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS timing_per_transaction (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_signature TEXT NOT NULL,
			tool_id INTEGER NOT NULL REFERENCES tool(id),
			timestamp_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS token_creations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			mint TEXT NOT NULL,
			transaction_signature TEXT NOT NULL,
			detect_tool_id INTEGER NOT NULL REFERENCES tool(id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	for id, name := range seedTools {
		if _, err := db.Exec(`INSERT OR IGNORE INTO tool (id, name) VALUES (?, ?)`, id, name); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue hands an event to the writer. It never blocks: if the sink
// is degraded or already closed the event is dropped and counted, but
// producers are never slowed down by the store.
func (s *Sink) Enqueue(ev Event) {
	if s.degraded.Load() {
		s.dropped.Add(1)
		return
	}
	if ev.CorrelationID == uuid.Nil {
		ev.CorrelationID = uuid.New()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}
	s.backlog = append(s.backlog, ev)
	s.enqueued.Add(1)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Sink) runWriter() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.backlog) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.backlog) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.backlog
		s.backlog = nil
		s.mu.Unlock()

		for _, ev := range batch {
			if err := s.write(ev); err != nil {
				s.writeErrs.Add(1)
				if s.log != nil {
					s.log.Warn("analytics write failed", "correlation_id", ev.CorrelationID, "err", err)
				}
			}
		}
	}
}

func (s *Sink) write(ev Event) error {
	switch {
	case ev.InsertTiming != nil:
		t := ev.InsertTiming
		_, err := s.writeDB.Exec(
			`INSERT INTO timing_per_transaction (transaction_signature, tool_id, timestamp_ms) VALUES (?, ?, ?)`,
			t.Signature, t.ToolID, t.TimestampMs,
		)
		return err
	case ev.InsertTokenCreation != nil:
		c := ev.InsertTokenCreation
		_, err := s.writeDB.Exec(
			`INSERT INTO token_creations (name, mint, transaction_signature, detect_tool_id) VALUES (?, ?, ?, ?)`,
			c.Name, c.Mint, c.Signature, c.DetectToolID,
		)
		return err
	default:
		return nil
	}
}

// Close stops accepting new events, drains the backlog, and closes
// both connections. It blocks until the writer has flushed everything
// already enqueued.
func (s *Sink) Close() error {
	if s.degraded.Load() {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
	s.wg.Wait()

	var err error
	if e := s.writeDB.Close(); e != nil {
		err = e
	}
	if e := s.readDB.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// AverageLatencyMs returns the mean timestamp_ms over every timing row
// recorded for toolID (0 when there are none); callers typically use
// this for periodic comparison reporting (for example, comparing
// shredstream against a secondary feed's recorded timings).
func (s *Sink) AverageLatencyMs(toolID int) (float64, error) {
	if s.degraded.Load() {
		return 0, fmt.Errorf("analytics: store unavailable")
	}
	row := s.readDB.QueryRow(`SELECT AVG(timestamp_ms) FROM timing_per_transaction WHERE tool_id = ?`, toolID)
	var avg sql.NullFloat64
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// TokenCreationCount returns how many creations this core has recorded
// for the given detecting tool.
func (s *Sink) TokenCreationCount(detectToolID int) (int64, error) {
	if s.degraded.Load() {
		return 0, fmt.Errorf("analytics: store unavailable")
	}
	row := s.readDB.QueryRow(`SELECT COUNT(*) FROM token_creations WHERE detect_tool_id = ?`, detectToolID)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Sink) Enqueued() uint64  { return s.enqueued.Load() }
func (s *Sink) Dropped() uint64   { return s.dropped.Load() }
func (s *Sink) WriteErrs() uint64 { return s.writeErrs.Load() }
func (s *Sink) Degraded() bool    { return s.degraded.Load() }
