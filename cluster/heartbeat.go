package cluster

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/xraph/shepherd/id"
)

// ServerHeartbeat is the liveness record of one background job server.
type ServerHeartbeat struct {
	ID             id.ServerID     `json:"id"`
	Name           string          `json:"name"`
	WorkerPoolSize int             `json:"worker_pool_size"`
	PollInterval   time.Duration   `json:"poll_interval"`
	FirstHeartbeat time.Time       `json:"first_heartbeat"`
	LastHeartbeat  time.Time       `json:"last_heartbeat"`
	Running        bool            `json:"running"`
	Metrics        ResourceMetrics `json:"metrics"`
}

// Clone returns a copy of the heartbeat.
func (h *ServerHeartbeat) Clone() *ServerHeartbeat {
	c := *h
	return &c
}

// IsAlive reports whether the heartbeat was refreshed at or after horizon.
func (h *ServerHeartbeat) IsAlive(horizon time.Time) bool {
	return !h.LastHeartbeat.Before(horizon)
}

// ResourceMetrics is a snapshot of host and process resources.
type ResourceMetrics struct {
	SystemTotalMemory uint64  `json:"system_total_memory"`
	SystemFreeMemory  uint64  `json:"system_free_memory"`
	SystemCPULoad     float64 `json:"system_cpu_load"`
	ProcessAllocated  uint64  `json:"process_allocated"`
	Goroutines        int     `json:"goroutines"`
}

// CollectMetrics samples host and process resources. Host figures the
// platform does not report are left at zero.
func CollectMetrics(ctx context.Context) ResourceMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := ResourceMetrics{
		ProcessAllocated: ms.Alloc,
		Goroutines:       runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.SystemTotalMemory = vm.Total
		m.SystemFreeMemory = vm.Available
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		m.SystemCPULoad = pct[0] / 100
	}
	return m
}
