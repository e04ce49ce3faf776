package calls

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorFires(t *testing.T) {
	var fired atomic.Int32
	got := make(chan string, 1)
	sup := NewSupervisor(10*time.Millisecond, func(callID string) {
		fired.Add(1)
		got <- callID
	})
	defer sup.Stop()

	sup.Arm("c1")
	select {
	case id := <-got:
		if id != "c1" {
			t.Fatalf("fired for %q, want c1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if sup.Armed("c1") {
		t.Fatal("timer still armed after firing")
	}
}

func TestSupervisorCancelPreventsFire(t *testing.T) {
	var fired atomic.Int32
	sup := NewSupervisor(20*time.Millisecond, func(string) { fired.Add(1) })
	defer sup.Stop()

	sup.Arm("c1")
	sup.Cancel("c1")

	time.Sleep(60 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled timer fired %d times", n)
	}
	// Cancelling again is a no-op.
	sup.Cancel("c1")
	sup.Cancel("never-armed")
}

func TestSupervisorRearmResetsWindow(t *testing.T) {
	var fired atomic.Int32
	sup := NewSupervisor(50*time.Millisecond, func(string) { fired.Add(1) })
	defer sup.Stop()

	sup.Arm("c1")
	sup.Arm("c1")
	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("re-armed timer fired %d times, want 1", n)
	}
}

func TestSupervisorStopCancelsAll(t *testing.T) {
	var fired atomic.Int32
	sup := NewSupervisor(20*time.Millisecond, func(string) { fired.Add(1) })

	sup.Arm("a")
	sup.Arm("b")
	sup.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("stopped supervisor fired %d times", n)
	}
}
