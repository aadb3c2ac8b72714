package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
)

// MonitorState is the election state of the local server.
type MonitorState string

const (
	StateUnannounced MonitorState = "unannounced"
	StateFollower    MonitorState = "follower"
	StateLeader      MonitorState = "leader"
	StateStopped     MonitorState = "stopped"
)

// Hooks are called by the Monitor on election events. All are optional.
type Hooks struct {
	// OnLeadershipChanged is called when the local server gains or loses
	// leadership.
	OnLeadershipChanged func(isLeader bool, leaderID id.ServerID)

	// OnPauseRequested is called when the stored heartbeat is flagged as
	// not running while the local server is running.
	OnPauseRequested func()

	// OnException is called for storage errors the election survives.
	OnException func(err error)

	// OnFatal is called on its own goroutine when the election cannot
	// continue. The server is expected to stop.
	OnFatal func(err error)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithHooks sets the election event hooks.
func WithHooks(h Hooks) MonitorOption {
	return func(m *Monitor) { m.hooks = h }
}

// WithTimeoutMultiplicand sets how many poll intervals a heartbeat may be
// missing before it is evicted. Values below 4 are raised to 4.
func WithTimeoutMultiplicand(n int) MonitorOption {
	return func(m *Monitor) { m.multiplicand = max(n, 4) }
}

// WithMaxResets sets how many evictions of the local heartbeat are survived.
func WithMaxResets(n int) MonitorOption {
	return func(m *Monitor) { m.maxResets = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithMetrics replaces the resource sampler.
func WithMetrics(collect func(context.Context) ResourceMetrics) MonitorOption {
	return func(m *Monitor) { m.collect = collect }
}

// WithRunning supplies the local running flag reported on announce.
func WithRunning(running func() bool) MonitorOption {
	return func(m *Monitor) { m.running = running }
}

// Monitor runs heartbeat-based leader election for one server. Call Cycle
// once per poll interval.
type Monitor struct {
	store        Store
	logger       *slog.Logger
	hooks        Hooks
	multiplicand int
	maxResets    int
	now          func() time.Time
	collect      func(context.Context) ResourceMetrics
	running      func() bool

	mu       sync.RWMutex
	self     ServerHeartbeat
	state    MonitorState
	leaderID id.ServerID
	live     []*ServerHeartbeat
	resets   int
}

// NewMonitor creates a monitor for the server described by self. ID,
// Name, WorkerPoolSize and PollInterval must be set.
func NewMonitor(store Store, self ServerHeartbeat, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:        store,
		logger:       slog.Default(),
		multiplicand: 4,
		maxResets:    3,
		now:          func() time.Time { return time.Now().UTC() },
		collect:      CollectMetrics,
		running:      func() bool { return true },
		self:         self,
		state:        StateUnannounced,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServerID returns the local server's ID.
func (m *Monitor) ServerID() id.ServerID {
	return m.self.ID
}

// Timeout is the heartbeat eviction timeout.
func (m *Monitor) Timeout() time.Duration {
	return time.Duration(m.multiplicand) * m.self.PollInterval
}

// State returns the current election state.
func (m *Monitor) State() MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsAnnounced reports whether the local heartbeat is registered.
func (m *Monitor) IsAnnounced() bool {
	s := m.State()
	return s == StateFollower || s == StateLeader
}

// IsLeader reports whether the local server was leader at the last cycle.
func (m *Monitor) IsLeader() bool {
	return m.State() == StateLeader
}

// LeaderID returns the leader observed at the last cycle.
func (m *Monitor) LeaderID() id.ServerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaderID
}

// Heartbeat returns the last heartbeat the local server wrote.
func (m *Monitor) Heartbeat() ServerHeartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// LiveServers returns the live heartbeats observed at the last cycle.
func (m *Monitor) LiveServers() []*ServerHeartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ServerHeartbeat, len(m.live))
	for i, s := range m.live {
		out[i] = s.Clone()
	}
	return out
}

// Resets returns how many times the local heartbeat was found evicted.
func (m *Monitor) Resets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}

// Cycle runs one election round. Errors are handled (reset, escalation or
// fatal hook) before being returned for the caller's information.
func (m *Monitor) Cycle(ctx context.Context) error {
	if m.State() == StateStopped {
		return shepherd.ErrServerStopped
	}

	var err error
	if !m.IsAnnounced() {
		err = m.announce(ctx)
	} else {
		err = m.signalAlive(ctx)
	}
	if err == nil {
		err = m.evict(ctx)
	}
	if err == nil {
		err = m.evaluate(ctx)
	}
	if err != nil {
		m.handleError(ctx, err)
	}
	return err
}

// Stop deregisters the local heartbeat. It is the last step of a server
// shutdown.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	wasAnnounced := m.state == StateFollower || m.state == StateLeader
	m.state = StateStopped
	m.leaderID = id.Nil
	m.mu.Unlock()

	if !wasAnnounced {
		return nil
	}
	if err := m.store.SignalServerStopped(ctx, m.self.ID); err != nil && !errors.Is(err, shepherd.ErrServerNotFound) {
		return fmt.Errorf("shepherd/cluster: signal stopped: %w", err)
	}
	m.logger.Info("server heartbeat removed", slog.String("server_id", m.self.ID.String()))
	return nil
}

// Restart makes a stopped monitor announce again on its next cycle.
func (m *Monitor) Restart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		m.state = StateUnannounced
	}
}

func (m *Monitor) announce(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	m.self.FirstHeartbeat = now
	m.self.LastHeartbeat = now
	m.self.Running = m.running()
	m.self.Metrics = m.collect(ctx)
	hb := m.self
	m.mu.Unlock()

	if err := m.store.AnnounceServer(ctx, &hb); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateFollower
	m.mu.Unlock()

	m.logger.Info("server announced",
		slog.String("server_id", hb.ID.String()),
		slog.String("name", hb.Name),
		slog.Int("worker_pool_size", hb.WorkerPoolSize),
	)
	return nil
}

func (m *Monitor) signalAlive(ctx context.Context) error {
	m.mu.Lock()
	m.self.LastHeartbeat = m.now()
	m.self.Metrics = m.collect(ctx)
	hb := m.self
	m.mu.Unlock()

	stillRunning, err := m.store.SignalServerAlive(ctx, &hb)
	if err != nil {
		return err
	}
	if !stillRunning && m.running() && m.hooks.OnPauseRequested != nil {
		m.logger.Info("server flagged as not running, pausing", slog.String("server_id", hb.ID.String()))
		m.hooks.OnPauseRequested()
	}
	return nil
}

func (m *Monitor) evict(ctx context.Context) error {
	horizon := m.now().Add(-m.Timeout())
	n, err := m.store.RemoveTimedOutServers(ctx, horizon)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("evicted timed out servers", slog.Int("count", n), slog.Time("horizon", horizon))
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context) error {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		return err
	}

	horizon := m.now().Add(-m.Timeout())
	live := make([]*ServerHeartbeat, 0, len(servers))
	for _, s := range servers {
		if s.IsAlive(horizon) {
			live = append(live, s)
		}
	}
	var leaderID id.ServerID
	if leader, ok := Leader(live, horizon); ok {
		leaderID = leader.ID
	}

	m.mu.Lock()
	wasLeader := m.state == StateLeader
	isLeader := leaderID == m.self.ID
	if isLeader {
		m.state = StateLeader
	} else {
		m.state = StateFollower
	}
	m.leaderID = leaderID
	m.live = live
	m.mu.Unlock()

	if isLeader != wasLeader {
		m.logger.Info("leadership changed",
			slog.String("server_id", m.self.ID.String()),
			slog.String("leader_id", leaderID.String()),
			slog.Bool("is_leader", isLeader),
		)
		if m.hooks.OnLeadershipChanged != nil {
			m.hooks.OnLeadershipChanged(isLeader, leaderID)
		}
	}
	return nil
}

func (m *Monitor) handleError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, shepherd.ErrServerTimedOut):
		m.mu.Lock()
		m.resets++
		resets := m.resets
		wasLeader := m.state == StateLeader
		m.state = StateUnannounced
		m.leaderID = id.Nil
		m.live = nil
		m.mu.Unlock()

		if wasLeader && m.hooks.OnLeadershipChanged != nil {
			m.hooks.OnLeadershipChanged(false, id.Nil)
		}
		if resets > m.maxResets {
			m.fatal(fmt.Errorf("shepherd/cluster: heartbeat evicted %d times: %w", resets, err))
			return
		}
		m.logger.Warn("server heartbeat was evicted, announcing again",
			slog.String("server_id", m.self.ID.String()),
			slog.Int("resets", resets),
		)
	case ctx.Err() != nil:
		// Shutting down.
	case errors.Is(err, shepherd.ErrStorageUnavailable):
		m.logger.Warn("leader election cycle failed", slog.String("error", err.Error()))
		if m.hooks.OnException != nil {
			m.hooks.OnException(err)
		}
	default:
		m.fatal(fmt.Errorf("shepherd/cluster: leader election: %w", err))
	}
}

func (m *Monitor) fatal(err error) {
	m.logger.Error("leader election failed", slog.String("server_id", m.self.ID.String()), slog.String("error", err.Error()))
	if m.hooks.OnFatal != nil {
		go m.hooks.OnFatal(err)
	}
}
