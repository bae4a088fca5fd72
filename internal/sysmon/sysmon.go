// Package sysmon is a built-in domain producer that samples host CPU
// and memory and records threshold crossings in the change journal's
// health domain.
package sysmon

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/overseer/internal/journal"
)

// Domain is the journal domain this producer writes to.
const Domain = "health"

// Config holds monitor tunables.
type Config struct {
	Interval   time.Duration
	CPUHighPct float64
	MemHighPct float64
}

// Monitor samples system health on an interval.
type Monitor struct {
	cfg     Config
	journal *journal.Journal
	log     zerolog.Logger

	mu      sync.Mutex
	cpuHigh bool
	memHigh bool

	stop    chan struct{}
	stopped chan struct{}
}

// New creates a monitor.
func New(cfg Config, j *journal.Journal, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.CPUHighPct <= 0 {
		cfg.CPUHighPct = 90
	}
	if cfg.MemHighPct <= 0 {
		cfg.MemHighPct = 90
	}
	return &Monitor{
		cfg:     cfg,
		journal: j,
		log:     log.With().Str("component", "sysmon").Logger(),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.log.Info().Dur("interval", m.cfg.Interval).Msg("System monitor started")
	go func() {
		defer close(m.stopped)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.stopped
}

// sample reads CPU and memory and emits journal events on threshold
// transitions. Only transitions are recorded so a sustained high load
// bumps the health version once, not once per sample.
func (m *Monitor) sample() {
	cpuPct := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	} else if err != nil {
		m.log.Debug().Err(err).Msg("CPU sample failed")
	}

	memPct := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	} else {
		m.log.Debug().Err(err).Msg("Memory sample failed")
	}

	m.mu.Lock()
	cpuNow := cpuPct >= m.cfg.CPUHighPct
	memNow := memPct >= m.cfg.MemHighPct
	cpuChanged := cpuNow != m.cpuHigh
	memChanged := memNow != m.memHigh
	m.cpuHigh = cpuNow
	m.memHigh = memNow
	m.mu.Unlock()

	if cpuChanged {
		m.emit(eventName("cpu", cpuNow), map[string]any{"cpu_pct": cpuPct, "threshold": m.cfg.CPUHighPct})
	}
	if memChanged {
		m.emit(eventName("memory", memNow), map[string]any{"mem_pct": memPct, "threshold": m.cfg.MemHighPct})
	}
}

func eventName(what string, high bool) string {
	if high {
		return what + "_high"
	}
	return what + "_recovered"
}

func (m *Monitor) emit(eventType string, payload map[string]any) {
	if _, err := m.journal.Emit(Domain, eventType, payload, journal.EmitOptions{Source: "sysmon"}); err != nil {
		m.log.Warn().Err(err).Str("type", eventType).Msg("Failed to emit health event")
	}
}
