// Package distribution decides how much work a server takes on.
//
// A PoolSizePolicy fixes the capacity of the worker pool when the server
// starts. The Strategy then compares that capacity with the number of
// occupied workers on every onboarding pass.
package distribution

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PoolSizePolicy computes the number of workers of a server.
type PoolSizePolicy interface {
	PoolSize(ctx context.Context) int
}

// Fixed is a pool of exactly n workers.
type Fixed int

// PoolSize returns n, at least 1.
func (f Fixed) PoolSize(context.Context) int {
	return max(int(f), 1)
}

// HostResources sizes the pool from the host: PerCore workers per logical
// CPU, lowered so that every worker has MemoryPerWorker bytes of the
// available memory. Host figures that cannot be read are ignored.
type HostResources struct {
	PerCore         int
	MemoryPerWorker uint64

	// MinWorkers and MaxWorkers bound the result. Zero means unbounded.
	MinWorkers int
	MaxWorkers int

	Logger *slog.Logger
}

// DefaultHostResources allows 8 workers per core and 64 MiB per worker.
func DefaultHostResources() HostResources {
	return HostResources{PerCore: 8, MemoryPerWorker: 64 << 20, MinWorkers: 1}
}

// PoolSize samples the host.
func (h HostResources) PoolSize(ctx context.Context) int {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	perCore := max(h.PerCore, 1)
	n := cores * perCore

	if h.MemoryPerWorker > 0 {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			n = min(n, int(vm.Available/h.MemoryPerWorker))
		} else {
			logger.Debug("read available memory failed", slog.String("error", err.Error()))
		}
	}

	if h.MaxWorkers > 0 {
		n = min(n, h.MaxWorkers)
	}
	return max(n, h.MinWorkers, 1)
}

// Occupancy reports how many workers are busy.
type Occupancy interface {
	Occupied() int
}

// Strategy is the work distribution strategy of one server.
type Strategy struct {
	poolSize    int
	maxPageSize int
	occupancy   Occupancy
}

// New returns a strategy for a pool of poolSize workers. Work pages are
// capped at maxPageSize.
func New(poolSize, maxPageSize int, occupancy Occupancy) *Strategy {
	return &Strategy{
		poolSize:    max(poolSize, 1),
		maxPageSize: max(maxPageSize, 1),
		occupancy:   occupancy,
	}
}

// PoolSize returns the number of workers.
func (s *Strategy) PoolSize() int {
	return s.poolSize
}

// CanOnboardMore reports whether a worker is free.
func (s *Strategy) CanOnboardMore() bool {
	return s.occupancy.Occupied() < s.poolSize
}

// WorkPageSize is how many jobs the next onboarding fetch may claim.
func (s *Strategy) WorkPageSize() int {
	free := s.poolSize - s.occupancy.Occupied()
	if free <= 0 {
		return 0
	}
	return min(free, s.maxPageSize)
}
