package core

import (
	"sync"
	"testing"
	"time"
)

// TestSynchronizer_GateIsStableUntilRemoved
// Given: two Gate(id) calls for the same id with no RemoveMutex in between
// When: comparing the returned gates
// Then: they are the identical object
func TestSynchronizer_GateIsStableUntilRemoved(t *testing.T) {
	s := NewSynchronizer()
	g1 := s.Gate("x")
	g2 := s.Gate("x")
	if g1 != g2 {
		t.Fatal("Gate(id) must return the same object until RemoveMutex")
	}
	s.RemoveMutex("x")
	g3 := s.Gate("x")
	if g3 == g1 {
		t.Fatal("Gate(id) after RemoveMutex must return a fresh object")
	}
}

// TestSynchronizer_ExecuteRemovesGateAfterUse
// Given: an Execute call for id "slot"
// When: it returns
// Then: a subsequent Gate("slot") is a different object, proving Execute's ephemeral-mutex contract
func TestSynchronizer_ExecuteRemovesGateAfterUse(t *testing.T) {
	s := NewSynchronizer()
	var ranInside bool
	before := s.Gate("slot")
	s.Execute("slot", func() { ranInside = true })
	if !ranInside {
		t.Fatal("Execute must run fn")
	}
	after := s.Gate("slot")
	if after == before {
		t.Fatal("Execute must remove the gate once fn returns")
	}
}

// TestGate_BroadcastWakesAllWaiters
// Given: several goroutines parked in Wait on the same gate
// When: Broadcast is called
// Then: all of them wake
func TestGate_BroadcastWakesAllWaiters(t *testing.T) {
	g := newGate()
	const n = 8
	var wg sync.WaitGroup
	woke := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Lock()
			woke <- g.Wait(2 * time.Second)
			g.Unlock()
		}()
	}
	time.Sleep(20 * time.Millisecond)
	g.Lock()
	g.Broadcast()
	g.Unlock()
	wg.Wait()
	close(woke)
	for w := range woke {
		if !w {
			t.Fatal("expected every waiter to report a Broadcast wake, not a timeout")
		}
	}
}

// TestGate_WaitTimesOutWithoutBroadcast
func TestGate_WaitTimesOutWithoutBroadcast(t *testing.T) {
	g := newGate()
	g.Lock()
	woke := g.Wait(20 * time.Millisecond)
	g.Unlock()
	if woke {
		t.Fatal("expected a timeout, not a wake")
	}
}

// TestExecuteValue_ReturnsCallableResult
func TestExecuteValue_ReturnsCallableResult(t *testing.T) {
	s := NewSynchronizer()
	got := ExecuteValue(s, "k", func() int { return 42 })
	if got != 42 {
		t.Fatalf("ExecuteValue returned %d, want 42", got)
	}
}
