package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const DefaultSampleInterval = 5 * time.Second

// Usage is one resource sample of the backend.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSS        uint64    `json:"rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler periodically reads CPU and memory of the pid returned by target.
// A zero pid pauses sampling and resets the gauges.
type Sampler struct {
	interval time.Duration
	target   func() int
	log      *slog.Logger

	mu   sync.Mutex
	last Usage
	proc *process.Process
}

func NewSampler(interval time.Duration, target func() int, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{interval: interval, target: target, log: log.With("component", "sampler")}
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sample()
		}
	}
}

// Sample takes one reading and returns it; ok is false when nothing is running.
func (s *Sampler) Sample() (Usage, bool) {
	pid := s.target()
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid <= 0 {
		s.proc = nil
		s.last = Usage{}
		SetBackendUsage(0, 0)
		return Usage{}, false
	}
	// keep the handle so CPUPercent has a previous reading to diff against
	if s.proc == nil || s.proc.Pid != int32(pid) {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			s.log.Debug("backend not found", "pid", pid, "error", err)
			s.proc = nil
			return Usage{}, false
		}
		s.proc = p
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		s.log.Debug("failed to read memory", "pid", pid, "error", err)
		return Usage{}, false
	}
	cpu, err := s.proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	threads, _ := s.proc.NumThreads()
	u := Usage{PID: int32(pid), CPUPercent: cpu, RSS: mem.RSS, NumThreads: threads, Timestamp: time.Now()}
	s.last = u
	SetBackendUsage(u.CPUPercent, u.RSS)
	return u, true
}

// Last returns the most recent successful sample.
func (s *Sampler) Last() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
