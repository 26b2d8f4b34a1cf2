package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ridgeline-labs/robotnav/internal/server/observability"
)

// hostSampler periodically samples host resource usage via gopsutil and
// caches the latest snapshot so /healthz never blocks on a syscall. Each
// sample is also logged as its own "host stats" line.
type hostSampler struct {
	logger *slog.Logger
	cron   *cron.Cron

	mu    sync.RWMutex
	stats observability.HostStats
}

func newHostSampler(logger *slog.Logger) *hostSampler {
	return &hostSampler{logger: logger.With("component", "host_sampler")}
}

// Start takes one immediate sample, then schedules periodic resampling at
// interval via a cron expression of the form "@every <interval>".
func (s *hostSampler) Start(interval time.Duration) {
	s.sample()
	s.cron = cron.New()
	s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.sample)
	s.cron.Start()
}

// Stop cancels the sampling schedule and waits for any in-flight sample.
func (s *hostSampler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Stats returns the most recently collected snapshot.
func (s *hostSampler) Stats() observability.HostStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *hostSampler) sample() {
	var stats observability.HostStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	} else {
		s.logger.Debug("failed to sample cpu", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		s.logger.Debug("failed to sample memory", "error", err)
	}
	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		s.logger.Debug("failed to sample load", "error", err)
	}

	s.logger.Info("host stats",
		"cpu_percent", stats.CPUPercent,
		"memory_percent", stats.MemoryPercent,
		"load1", stats.LoadAverage1,
	)

	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}
