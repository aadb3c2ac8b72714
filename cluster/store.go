package cluster

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/shepherd/id"
)

// Store defines the persistence contract for server heartbeats.
type Store interface {
	// AnnounceServer registers a heartbeat, replacing any previous record
	// with the same ID.
	AnnounceServer(ctx context.Context, hb *ServerHeartbeat) error

	// SignalServerAlive refreshes LastHeartbeat and Metrics of an announced
	// server and returns the stored Running flag. It returns
	// shepherd.ErrServerTimedOut when the record no longer exists.
	SignalServerAlive(ctx context.Context, hb *ServerHeartbeat) (bool, error)

	// SignalServerStopped removes the server's heartbeat.
	SignalServerStopped(ctx context.Context, serverID id.ServerID) error

	// ListServers returns all heartbeats ordered by FirstHeartbeat, then ID.
	ListServers(ctx context.Context) ([]*ServerHeartbeat, error)

	// RemoveTimedOutServers deletes heartbeats last refreshed before t and
	// returns the number removed.
	RemoveTimedOutServers(ctx context.Context, before time.Time) (int, error)

	// LongestRunningServerID returns the ID of the heartbeat with the
	// earliest FirstHeartbeat, ties broken by ID. It returns
	// shepherd.ErrServerNotFound when no server is announced.
	LongestRunningServerID(ctx context.Context) (id.ServerID, error)
}

// SortServers orders heartbeats by FirstHeartbeat, then ID. Backends that
// cannot sort natively use it.
func SortServers(servers []*ServerHeartbeat) {
	slices.SortFunc(servers, compareSeniority)
}

// Leader returns the live heartbeat with the earliest FirstHeartbeat, ties
// broken by ID. Heartbeats refreshed before horizon are not live.
func Leader(servers []*ServerHeartbeat, horizon time.Time) (*ServerHeartbeat, bool) {
	var leader *ServerHeartbeat
	for _, s := range servers {
		if !s.IsAlive(horizon) {
			continue
		}
		if leader == nil || compareSeniority(s, leader) < 0 {
			leader = s
		}
	}
	return leader, leader != nil
}

func compareSeniority(a, b *ServerHeartbeat) int {
	if c := a.FirstHeartbeat.Compare(b.FirstHeartbeat); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}
