package observability

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSampler periodically refreshes the process CPU/RSS gauges from
// gopsutil, the same library the ecosystem's other resource-reporting code
// depends on for portable /proc-free process introspection.
type ResourceSampler struct {
	metrics   *Metrics
	proc      *process.Process
	startedAt time.Time
}

// NewResourceSampler looks up the current process by pid.
func NewResourceSampler(metrics *Metrics) (*ResourceSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ResourceSampler{metrics: metrics, proc: proc, startedAt: time.Now()}, nil
}

// Run samples gauges every interval until ctx is cancelled.
func (r *ResourceSampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleOnce()
		}
	}
}

func (r *ResourceSampler) sampleOnce() {
	if cpuPct, err := r.proc.CPUPercent(); err == nil {
		r.metrics.ProcessCPU.Set(cpuPct)
	}
	if memInfo, err := r.proc.MemoryInfo(); err == nil && memInfo != nil {
		r.metrics.ProcessRSS.Set(float64(memInfo.RSS))
	}
	r.metrics.UptimeSeconds.Set(time.Since(r.startedAt).Seconds())
}
