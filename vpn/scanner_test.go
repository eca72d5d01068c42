package vpn

import (
	"sync"
	"testing"
	"time"

	"github.com/yllada/vpn-guard/common"
)

func TestScannerDeliversSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  int
		probe = func() Snapshot { return Snapshot{At: time.Now(), TunnelUp: true} }
	)
	sink := func(snap Snapshot) {
		if !snap.TunnelUp {
			t.Error("sink received a snapshot the probe did not produce")
		}
		mu.Lock()
		seen++
		mu.Unlock()
	}

	s := NewScanner(10*time.Millisecond, probe, sink)
	s.Start()
	defer s.Stop()

	waitFor(t, "snapshots", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen >= 3
	})
}

func TestScannerStopHaltsDelivery(t *testing.T) {
	var (
		mu   sync.Mutex
		seen int
	)
	s := NewScanner(5*time.Millisecond,
		func() Snapshot { return Snapshot{} },
		func(Snapshot) { mu.Lock(); seen++; mu.Unlock() })

	s.Start()
	waitFor(t, "first snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen >= 1
	})
	s.Stop()

	mu.Lock()
	atStop := seen
	mu.Unlock()
	// One in-flight tick may still land; after that the count is frozen.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	final := seen
	mu.Unlock()
	if final > atStop+1 {
		t.Errorf("snapshots kept arriving after Stop: %d -> %d", atStop, final)
	}
}

func TestScannerStartStop(t *testing.T) {
	s := NewScanner(time.Hour, func() Snapshot { return Snapshot{} }, func(Snapshot) {})

	if s.IsRunning() {
		t.Error("new scanner reports running")
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	s.Start() // no-op
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	s.Stop() // no-op

	// Restartable.
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after restart")
	}
	s.Stop()
}

func TestScannerDefaultInterval(t *testing.T) {
	s := NewScanner(0, func() Snapshot { return Snapshot{} }, func(Snapshot) {})
	if s.interval != common.ScanInterval {
		t.Errorf("interval = %v, want %v", s.interval, common.ScanInterval)
	}
}
