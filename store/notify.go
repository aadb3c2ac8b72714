package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// Listener receives aggregate job statistics.
type Listener func(JobStats)

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierLogger sets the logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = l }
}

// WithMinInterval sets the minimum delay between two publications.
func WithMinInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// Notifier publishes JobStats to listeners when the store changes, at most
// once per interval (one second by default). A change arriving while the
// limit is exhausted schedules one trailing publication, so the last change
// is always reported.
type Notifier struct {
	store   Store
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	last      JobStats
	published bool
	trailing  *time.Timer
	closed    bool
}

// NewNotifier creates a Notifier computing stats from s.
func NewNotifier(s Store, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		store:     s,
		logger:    slog.Default(),
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers l and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := n.nextID
	n.nextID++
	n.listeners[key] = l
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, key)
	}
}

// Changed signals that the store was modified. It never blocks on the
// store.
func (n *Notifier) Changed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || len(n.listeners) == 0 || n.trailing != nil {
		return
	}

	if n.limiter.Allow() {
		go n.publish()
		return
	}

	r := n.limiter.Reserve()
	n.trailing = time.AfterFunc(r.Delay(), func() {
		n.mu.Lock()
		n.trailing = nil
		n.mu.Unlock()
		n.publish()
	})
}

// Close stops pending publications.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.trailing != nil {
		n.trailing.Stop()
		n.trailing = nil
	}
}

func (n *Notifier) publish() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := Stats(ctx, n.store)
	if err != nil {
		n.logger.Warn("compute job stats failed", slog.String("error", err.Error()))
		return
	}

	n.mu.Lock()
	if n.closed || (n.published && n.last.Same(stats)) {
		n.mu.Unlock()
		return
	}
	n.last = stats
	n.published = true
	listeners := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l(stats)
	}
}

// Observed wraps a Store and signals a Notifier after every write that
// may change job statistics.
type Observed struct {
	Store
	notifier *Notifier
}

// Observe wraps s so that writes signal n.
func Observe(s Store, n *Notifier) *Observed {
	return &Observed{Store: s, notifier: n}
}

// SaveJob implements job.Store.
func (o *Observed) SaveJob(ctx context.Context, j *job.Job) error {
	err := o.Store.SaveJob(ctx, j)
	if err == nil {
		o.notifier.Changed()
	}
	return err
}

// SaveJobs implements job.Store. Partial batches still signal.
func (o *Observed) SaveJobs(ctx context.Context, jobs []*job.Job) error {
	err := o.Store.SaveJobs(ctx, jobs)
	o.notifier.Changed()
	return err
}

// DeleteJobPermanently implements job.Store.
func (o *Observed) DeleteJobPermanently(ctx context.Context, jobID id.JobID) (int, error) {
	n, err := o.Store.DeleteJobPermanently(ctx, jobID)
	if n > 0 {
		o.notifier.Changed()
	}
	return n, err
}

// DeleteJobsUpdatedBefore implements job.Store.
func (o *Observed) DeleteJobsUpdatedBefore(ctx context.Context, state job.StateName, t time.Time) (int, error) {
	n, err := o.Store.DeleteJobsUpdatedBefore(ctx, state, t)
	if n > 0 {
		o.notifier.Changed()
	}
	return n, err
}

// SaveRecurringJob implements recurring.Store.
func (o *Observed) SaveRecurringJob(ctx context.Context, r *recurring.RecurringJob) error {
	err := o.Store.SaveRecurringJob(ctx, r)
	if err == nil {
		o.notifier.Changed()
	}
	return err
}

// DeleteRecurringJob implements recurring.Store.
func (o *Observed) DeleteRecurringJob(ctx context.Context, recurringID string) (int, error) {
	n, err := o.Store.DeleteRecurringJob(ctx, recurringID)
	if n > 0 {
		o.notifier.Changed()
	}
	return n, err
}
