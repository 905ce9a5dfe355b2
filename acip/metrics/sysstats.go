/*
Copyright (c) The acip Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// SysStats feeds ambient process/runtime gauges into a Registry on a
// ticker, the same role ptp/sptp/client/sysstats.go's
// updateSysStatsForever driver plays for sptp.
type SysStats struct {
	goroutines prometheus.Gauge
	rssBytes   prometheus.Gauge
	cpuPercent prometheus.Gauge
	uptimeSec  prometheus.Gauge
	gcPauseNs  prometheus.Gauge

	proc      *process.Process
	startedAt time.Time

	prevGCPauseTotalNs uint64
}

// NewSysStats wires process/runtime gauges into reg's collector set.
func NewSysStats(r *Registry) (*SysStats, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	factory := promauto.With(r.reg)
	return &SysStats{
		proc:      proc,
		startedAt: time.Now(),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "runtime", Name: "goroutines",
			Help: "Number of live goroutines, runtime.NumGoroutine().",
		}),
		rssBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "process", Name: "rss_bytes",
			Help: "Resident set size of the acipd process.",
		}),
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "process", Name: "cpu_percent",
			Help: "Process CPU usage percent since the previous collection.",
		}),
		uptimeSec: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "process", Name: "uptime_seconds",
			Help: "Seconds since this acipd process started.",
		}),
		gcPauseNs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "runtime", Name: "gc_pause_ns",
			Help: "GC stop-the-world pause time since the previous collection, from runtime.MemStats.PauseTotalNs.",
		}),
	}, nil
}

// Run collects once per interval until ctx is cancelled, mirroring
// cmd/sptp/main.go's updateSysStatsForever loop.
func (s *SysStats) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collect()
		}
	}
}

func (s *SysStats) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.goroutines.Set(float64(runtime.NumGoroutine()))
	s.uptimeSec.Set(time.Since(s.startedAt).Seconds())
	s.gcPauseNs.Set(float64(m.PauseTotalNs) - float64(s.prevGCPauseTotalNs))
	s.prevGCPauseTotalNs = m.PauseTotalNs

	if pct, err := s.proc.Percent(0); err == nil {
		s.cpuPercent.Set(pct)
	} else {
		log.WithError(err).Debug("collecting process cpu percent")
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		s.rssBytes.Set(float64(mem.RSS))
	} else {
		log.WithError(err).Debug("collecting process memory info")
	}
}
