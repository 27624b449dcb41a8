package ipc

import (
	"fmt"
	"sync"
	"time"
)

// Telemetry is the latest known state of one fan. A zero Updated means
// nothing has been received yet.
type Telemetry struct {
	Fan         int
	Temperature int
	FanSpeed    int
	FanRPM      int
	HaveRPM     bool
	Updated     time.Time
}

func (t Telemetry) String() string {
	rpm := FanRPM{Fan: t.Fan, Value: t.FanRPM}
	if !t.HaveRPM {
		rpm.Value = RPMUnavailable
	}
	return fmt.Sprintf("fan %d: %d°C, %d%%, %s", t.Fan, t.Temperature, t.FanSpeed, rpm)
}

// Monitor folds responses into a snapshot that a display goroutine can read
// while the connection's read goroutine keeps writing it.
type Monitor struct {
	mu          sync.RWMutex
	fans        map[int]Telemetry
	lastFailure *Failure
	acks        int
	now         func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{fans: map[int]Telemetry{}, now: time.Now}
}

// Handle is suitable as ClientConfig.OnResponse.
func (m *Monitor) Handle(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r := resp.(type) {
	case Temperature:
		t := m.fans[r.Fan]
		t.Fan, t.Temperature, t.Updated = r.Fan, r.Value, m.now()
		m.fans[r.Fan] = t
	case FanSpeed:
		t := m.fans[r.Fan]
		t.Fan, t.FanSpeed, t.Updated = r.Fan, r.Value, m.now()
		m.fans[r.Fan] = t
	case FanRPM:
		t := m.fans[r.Fan]
		t.Fan, t.FanRPM, t.HaveRPM, t.Updated = r.Fan, r.Value, r.Available(), m.now()
		m.fans[r.Fan] = t
	case Failure:
		f := r
		m.lastFailure = &f
	case Ack:
		m.acks++
	}
}

func (m *Monitor) Snapshot(fan int) (Telemetry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.fans[fan]
	return t, ok
}

// LastFailure returns the most recent Failure response, if any.
func (m *Monitor) LastFailure() (Failure, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastFailure == nil {
		return Failure{}, false
	}
	return *m.lastFailure, true
}

func (m *Monitor) Acks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acks
}
