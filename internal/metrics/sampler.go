package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource reading of the recorder process.
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// MemoryMB returns the resident set size in megabytes.
func (s Sample) MemoryMB() float64 { return float64(s.MemoryRSS) / 1024 / 1024 }

// Sampler periodically reads CPU and memory usage of the current recorder PID.
type Sampler struct {
	name     string
	interval time.Duration
	logger   *slog.Logger

	// collectMu serializes Collect; gopsutil handles keep unguarded CPU state.
	collectMu sync.Mutex

	mu     sync.Mutex
	pid    int
	handle *process.Process
	latest Sample

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSampler(name string, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		name:     name,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the recorder process.",
		}, []string{"name"}),
		memoryRSS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the recorder process.",
		}, []string{"name"}),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "num_threads",
			Help:      "Number of threads of the recorder process.",
		}, []string{"name"}),
	}
}

// RegisterMetrics registers the sampler gauges with r.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// SetPID switches sampling to pid; 0 stops sampling and clears the reading.
func (s *Sampler) SetPID(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid == s.pid {
		return
	}
	s.pid = pid
	s.handle = nil
	s.latest = Sample{}
	if pid == 0 {
		s.cpuPercent.WithLabelValues(s.name).Set(0)
		s.memoryRSS.WithLabelValues(s.name).Set(0)
		s.numThreads.WithLabelValues(s.name).Set(0)
	}
}

// Latest returns the most recent reading; ok is false when nothing was sampled
// for the current PID yet.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest.PID != 0 && s.latest.PID == s.pid
}

// Start begins periodic collection until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Collect()
			}
		}
	}()
}

// Stop stops the collection goroutine.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect takes one reading for the current PID. Safe for concurrent use.
func (s *Sampler) Collect() {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	s.mu.Lock()
	pid := s.pid
	h := s.handle
	s.mu.Unlock()
	if pid <= 0 {
		return
	}
	if h == nil {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			s.logger.Debug("Failed to open recorder process", "pid", pid, "error", err)
			return
		}
		h = p
	}

	cpu, err := h.Percent(0)
	if err != nil {
		s.logger.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpu = 0
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		s.logger.Debug("Failed to get memory info", "pid", pid, "error", err)
		return
	}
	threads, err := h.NumThreads()
	if err != nil {
		threads = 0
	}
	sample := Sample{PID: pid, CPUPercent: cpu, MemoryRSS: mem.RSS, NumThreads: threads, Timestamp: time.Now()}

	s.mu.Lock()
	if s.pid != pid {
		// switched while we were reading
		s.mu.Unlock()
		return
	}
	s.handle = h
	s.latest = sample
	s.mu.Unlock()

	s.cpuPercent.WithLabelValues(s.name).Set(cpu)
	s.memoryRSS.WithLabelValues(s.name).Set(float64(mem.RSS))
	s.numThreads.WithLabelValues(s.name).Set(float64(threads))
}
