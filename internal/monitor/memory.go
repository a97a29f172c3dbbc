package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

// MemoryMonitor samples runtime memory usage on an interval and exports it as
// gauges
type MemoryMonitor struct {
	mu                sync.RWMutex
	stats             MemoryStats
	stopMonitoring    chan struct{}
	monitoringStarted bool

	allocBytes prometheus.Gauge
	sysBytes   prometheus.Gauge
	goroutines prometheus.Gauge
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocBytes     uint64    `json:"alloc_bytes"`
	TotalAlloc     uint64    `json:"total_alloc_bytes"`
	SysBytes       uint64    `json:"sys_bytes"`
	NumGC          uint32    `json:"num_gc"`
	GCCPUFraction  float64   `json:"gc_cpu_fraction"`
	HeapObjects    uint64    `json:"heap_objects"`
	StackInUse     uint64    `json:"stack_in_use_bytes"`
	LastUpdated    time.Time `json:"last_updated"`
	GoroutineCount int       `json:"goroutine_count"`
}

// NewMemoryMonitor creates a monitor whose gauges are registered on reg. A nil
// registerer leaves the gauges unregistered.
func NewMemoryMonitor(reg prometheus.Registerer) *MemoryMonitor {
	m := &MemoryMonitor{
		stopMonitoring: make(chan struct{}),
		allocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects.",
		}),
		sysBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_sys_bytes",
			Help:      "Bytes of memory obtained from the OS.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.allocBytes, m.sysBytes, m.goroutines)
	}

	m.Sample()

	return m
}

// Start begins sampling every interval until ctx ends or Stop is called
func (m *MemoryMonitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitoringStarted {
		return
	}

	m.monitoringStarted = true
	go m.monitorLoop(ctx, interval, m.stopMonitoring)
}

// Stop stops sampling. The monitor can be started again.
func (m *MemoryMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitoringStarted {
		return
	}

	close(m.stopMonitoring)
	m.stopMonitoring = make(chan struct{})
	m.monitoringStarted = false
}

// GetStats returns the latest sample
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// GetMemoryPressure returns allocated over system memory, between 0 and 1
func (m *MemoryMonitor) GetMemoryPressure() float64 {
	return m.GetStats().pressure()
}

func (s MemoryStats) pressure() float64 {
	if s.SysBytes == 0 {
		return 0
	}

	return min(float64(s.AllocBytes)/float64(s.SysBytes), 1)
}

// GetFormattedStats returns human-readable memory statistics
func (m *MemoryMonitor) GetFormattedStats() string {
	stats := m.GetStats()

	return fmt.Sprintf(`Memory Statistics:
  Allocated: %s
  Total Allocated: %s
  System: %s
  Heap Objects: %s
  Stack In Use: %s
  Goroutines: %d
  GC Runs: %d
  GC CPU Fraction: %.4f
  Memory Pressure: %.2f
  Last Updated: %s`,
		humanize.IBytes(stats.AllocBytes),
		humanize.IBytes(stats.TotalAlloc),
		humanize.IBytes(stats.SysBytes),
		humanize.Comma(int64(stats.HeapObjects)),
		humanize.IBytes(stats.StackInUse),
		stats.GoroutineCount,
		stats.NumGC,
		stats.GCCPUFraction,
		stats.pressure(),
		stats.LastUpdated.Format("15:04:05"),
	)
}

func (m *MemoryMonitor) monitorLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sample()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sample reads runtime memory statistics and updates the gauges
func (m *MemoryMonitor) Sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := MemoryStats{
		AllocBytes:     memStats.Alloc,
		TotalAlloc:     memStats.TotalAlloc,
		SysBytes:       memStats.Sys,
		NumGC:          memStats.NumGC,
		GCCPUFraction:  memStats.GCCPUFraction,
		HeapObjects:    memStats.HeapObjects,
		StackInUse:     memStats.StackInuse,
		LastUpdated:    time.Now(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	m.allocBytes.Set(float64(stats.AllocBytes))
	m.sysBytes.Set(float64(stats.SysBytes))
	m.goroutines.Set(float64(stats.GoroutineCount))

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
