package lifecycle

import (
	"testing"
	"time"
)

func TestShutdownCancelsContextExactlyOnce(t *testing.T) {
	s := New(nil)
	if s.Exiting() {
		t.Fatalf("expected not exiting initially")
	}

	s.Shutdown()
	s.Shutdown() // safe to call twice

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("context was not cancelled")
	}
	if !s.Exiting() {
		t.Fatalf("expected Exiting true after Shutdown")
	}
}

func TestInstallPanicHandlerShutsDownThenRepanics(t *testing.T) {
	s := New(nil)

	done := make(chan any, 1)
	func() {
		defer func() {
			done <- recover()
		}()
		s.InstallPanicHandler(func() {
			panic("boom")
		})
	}()

	got := <-done
	if got != "boom" {
		t.Fatalf("expected re-panic with original value, got %v", got)
	}
	if !s.Exiting() {
		t.Fatalf("expected Exiting true after panic")
	}
}
