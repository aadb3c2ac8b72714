// Package loop runs periodic tasks with fixed-delay timing: the delay
// starts when a run returns, so runs of one loop never overlap.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop calls a function repeatedly until stopped.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *slog.Logger

	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// Start runs fn immediately and then interval after each run returns. ctx
// is passed to every run and cancelled by Stop.
func Start(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context), logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}

	l.wg.Add(1)
	go l.run(ctx)
	return l
}

// Trigger asks for a run as soon as the current one, if any, returns.
// Triggers arriving while one is pending coalesce.
func (l *Loop) Trigger() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for the current run to return.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopped", slog.String("loop", l.name))
			return
		case <-timer.C:
		case <-l.wake:
			timer.Stop()
		}

		l.fn(ctx)
		timer.Reset(l.interval)
	}
}
