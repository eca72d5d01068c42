package vpn

import (
	"sync"
	"time"

	"github.com/yllada/vpn-guard/common"
)

// Scanner polls observed tunnel state on a fixed interval and posts
// each snapshot to a sink. It performs read-only queries only; every
// decision belongs to the manager's reconciliation step.
type Scanner struct {
	mu       sync.Mutex
	interval time.Duration
	probe    func() Snapshot
	sink     func(Snapshot)
	running  bool
	stopChan chan struct{}
}

// NewScanner creates a scanner. probe produces an observation, sink
// receives it; both are called from the scanner goroutine.
func NewScanner(interval time.Duration, probe func() Snapshot, sink func(Snapshot)) *Scanner {
	if interval <= 0 {
		interval = common.ScanInterval
	}
	return &Scanner{
		interval: interval,
		probe:    probe,
		sink:     sink,
	}
}

// Start begins the polling loop.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	common.LogInfo("Scanner started (interval: %v)", s.interval)

	go s.runLoop(stop)
}

// Stop stops the polling loop.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	common.LogInfo("Scanner stopped")
}

// IsRunning returns whether the scanner is currently polling.
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scanner) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sink(s.probe())
		}
	}
}
