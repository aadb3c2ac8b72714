package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
)

// AnnounceServer registers a heartbeat, replacing any previous record.
func (s *Store) AnnounceServer(ctx context.Context, hb *cluster.ServerHeartbeat) error {
	metrics, err := json.Marshal(hb.Metrics)
	if err != nil {
		return fmt.Errorf("shepherd/sqlite: encode metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shepherd_servers (
			id, name, worker_pool_size, poll_interval,
			first_heartbeat, last_heartbeat, running, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			worker_pool_size = excluded.worker_pool_size,
			poll_interval = excluded.poll_interval,
			first_heartbeat = excluded.first_heartbeat,
			last_heartbeat = excluded.last_heartbeat,
			running = excluded.running,
			metrics = excluded.metrics`,
		hb.ID.String(), hb.Name, hb.WorkerPoolSize, int64(hb.PollInterval),
		nanos(hb.FirstHeartbeat), nanos(hb.LastHeartbeat), hb.Running, metrics,
	)
	if err != nil {
		return wrap("announce server", err)
	}
	return nil
}

// SignalServerAlive refreshes an announced heartbeat and returns its stored
// running flag.
func (s *Store) SignalServerAlive(ctx context.Context, hb *cluster.ServerHeartbeat) (bool, error) {
	metrics, err := json.Marshal(hb.Metrics)
	if err != nil {
		return false, fmt.Errorf("shepherd/sqlite: encode metrics: %w", err)
	}
	var running bool
	err = s.db.QueryRowContext(ctx, `
		UPDATE shepherd_servers SET last_heartbeat = ?, metrics = ?
		WHERE id = ?
		RETURNING running`,
		nanos(hb.LastHeartbeat), metrics, hb.ID.String(),
	).Scan(&running)
	if err != nil {
		if isNoRows(err) {
			return false, shepherd.ErrServerTimedOut
		}
		return false, wrap("signal server alive", err)
	}
	return running, nil
}

// SignalServerStopped removes a heartbeat.
func (s *Store) SignalServerStopped(ctx context.Context, serverID id.ServerID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shepherd_servers WHERE id = ?`, serverID.String()); err != nil {
		return wrap("signal server stopped", err)
	}
	return nil
}

// ListServers returns all heartbeats by seniority.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.ServerHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM shepherd_servers ORDER BY first_heartbeat ASC, id ASC`)
	if err != nil {
		return nil, wrap("list servers", err)
	}
	defer rows.Close()

	servers := make([]*cluster.ServerHeartbeat, 0)
	for rows.Next() {
		hb, scanErr := scanServer(rows)
		if scanErr != nil {
			return nil, wrap("scan server", scanErr)
		}
		servers = append(servers, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list servers", err)
	}
	return servers, nil
}

// RemoveTimedOutServers deletes heartbeats last refreshed before t.
func (s *Store) RemoveTimedOutServers(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shepherd_servers WHERE last_heartbeat < ?`, nanos(before))
	if err != nil {
		return 0, wrap("remove timed out servers", err)
	}
	return affected(res)
}

// LongestRunningServerID returns the most senior server.
func (s *Store) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM shepherd_servers ORDER BY first_heartbeat ASC, id ASC LIMIT 1`).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, shepherd.ErrServerNotFound
		}
		return id.Nil, wrap("longest running server", err)
	}
	return id.ParseServerID(raw)
}
