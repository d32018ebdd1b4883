// Package sysmon samples local system load in the background so a long
// collective or a stuck Recv can be correlated against CPU/memory pressure
// on the host, without the core runtime ever depending on it.
package sysmon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats holds the most recently collected system metrics.
type Stats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// Monitor periodically samples CPU, memory and load average.
// It is purely observational: nothing in the runtime blocks on it, and a
// failed sample is logged at debug and otherwise ignored.
type Monitor struct {
	logger *slog.Logger
	rank   int
	period time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a Monitor for the given rank. Call Start to begin sampling.
func New(rank int, period time.Duration, logger *slog.Logger) *Monitor {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Monitor{
		logger: logger.With("component", "sysmon", "rank", rank),
		rank:   rank,
		period: period,
		close:  make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop stops the monitor and waits for the sampling goroutine to exit.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var s Stats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		m.logger.Debug("cpu sample failed", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("memory sample failed", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		s.LoadAverage = l.Load1
	} else {
		m.logger.Debug("load sample failed", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()

	m.logger.Debug("system sample", "cpu_pct", s.CPUPercent, "mem_pct", s.MemoryPercent, "load1", s.LoadAverage)
}
