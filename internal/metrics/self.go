package metrics

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	selfCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "cpu_percent",
		Help:      "CPU usage of the ingestion daemon.",
	})
	selfRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "memory_rss_bytes",
		Help:      "Resident memory of the ingestion daemon.",
	})
	selfThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "threads",
		Help:      "OS threads of the ingestion daemon.",
	})
)

// ProcessStats is a point-in-time resource sample of the running daemon.
type ProcessStats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SelfSampler samples the current process through gopsutil.
type SelfSampler struct {
	proc *process.Process
}

// NewSelfSampler opens a handle on the current process.
func NewSelfSampler() (*SelfSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	return &SelfSampler{proc: p}, nil
}

// Sample reads CPU, memory and thread counts and publishes them as gauges.
func (s *SelfSampler) Sample() (ProcessStats, error) {
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		slog.Debug("cpu percent unavailable", "error", err)
		cpu = 0
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := s.proc.NumThreads()
	if err != nil {
		slog.Debug("thread count unavailable", "error", err)
		threads = 0
	}
	st := ProcessStats{
		PID:        s.proc.Pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now().UTC(),
	}
	if regOK.Load() {
		selfCPU.Set(st.CPUPercent)
		selfRSS.Set(float64(st.MemoryRSS))
		selfThreads.Set(float64(st.NumThreads))
	}
	return st, nil
}
