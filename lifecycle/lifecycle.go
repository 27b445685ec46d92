// Package lifecycle owns process-wide shutdown: an exit flag set
// exactly once, a broadcast every long-running goroutine can listen
// on, and a panic handler that forces the same shutdown sequence
// before re-raising so a panicking goroutine never leaves the rest of
// the process running with a dead component.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shredcore/shredstream/log"
)

// Supervisor coordinates process shutdown across every goroutine the
// core starts. The zero value is not usable; construct with New.
type Supervisor struct {
	log      *log.Logger
	exiting  atomic.Bool
	cancel   context.CancelFunc
	ctx      context.Context
	once     sync.Once
	panicLog *log.Logger
}

// New returns a Supervisor whose Context is cancelled exactly once,
// either by Shutdown or by an OS signal caught via NotifyOnSignal.
func New(logger *log.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{log: logger, ctx: ctx, cancel: cancel, panicLog: logger}
}

// Context is cancelled once shutdown begins. Every long-running loop
// in the core selects on this alongside its own work.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Exiting reports whether shutdown has already started.
func (s *Supervisor) Exiting() bool { return s.exiting.Load() }

// Shutdown begins the shutdown sequence. Safe to call more than once
// or concurrently; only the first call has an effect.
func (s *Supervisor) Shutdown() {
	s.once.Do(func() {
		s.exiting.Store(true)
		s.cancel()
	})
}

// NotifyOnSignal spawns a goroutine that calls Shutdown on SIGINT or
// SIGTERM. It returns immediately; the spawned goroutine exits once
// a signal arrives or ctx is done.
func (s *Supervisor) NotifyOnSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if s.log != nil {
				s.log.Info("received shutdown signal")
			}
			s.Shutdown()
		case <-s.ctx.Done():
		}
		signal.Stop(sigCh)
	}()
}

// InstallPanicHandler wraps fn so that a panic inside it triggers
// Shutdown, gives the rest of the process a moment to observe the
// cancelled context and stop cleanly, then re-panics with the
// original value so the process still terminates with a nonzero exit
// status and the original panic is visible in the crash log.
func (s *Supervisor) InstallPanicHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.Shutdown()
			if s.panicLog != nil {
				s.panicLog.Error("panic, shutting down", "recovered", r)
			}
			time.Sleep(time.Second)
			panic(r)
		}
	}()
	fn()
}
