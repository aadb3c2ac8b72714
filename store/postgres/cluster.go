package postgres

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
		return fmt.Errorf("shepherd/postgres: encode metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO shepherd_servers (
			id, name, worker_pool_size, poll_interval,
			first_heartbeat, last_heartbeat, running, metrics
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			worker_pool_size = EXCLUDED.worker_pool_size,
			poll_interval = EXCLUDED.poll_interval,
			first_heartbeat = EXCLUDED.first_heartbeat,
			last_heartbeat = EXCLUDED.last_heartbeat,
			running = EXCLUDED.running,
			metrics = EXCLUDED.metrics`,
		hb.ID.String(), hb.Name, hb.WorkerPoolSize, int64(hb.PollInterval),
		hb.FirstHeartbeat.UTC(), hb.LastHeartbeat.UTC(), hb.Running, metrics,
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
		return false, fmt.Errorf("shepherd/postgres: encode metrics: %w", err)
	}
	var running bool
	err = s.pool.QueryRow(ctx, `
		UPDATE shepherd_servers SET last_heartbeat = $2, metrics = $3
		WHERE id = $1
		RETURNING running`,
		hb.ID.String(), hb.LastHeartbeat.UTC(), metrics,
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
	if _, err := s.pool.Exec(ctx, `DELETE FROM shepherd_servers WHERE id = $1`, serverID.String()); err != nil {
		return wrap("signal server stopped", err)
	}
	return nil
}

// ListServers returns all heartbeats by seniority.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.ServerHeartbeat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serverColumns+` FROM shepherd_servers ORDER BY first_heartbeat ASC, id ASC`,
	)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM shepherd_servers WHERE last_heartbeat < $1`, before.UTC())
	if err != nil {
		return 0, wrap("remove timed out servers", err)
	}
	return int(tag.RowsAffected()), nil
}

// LongestRunningServerID returns the most senior server.
func (s *Store) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM shepherd_servers ORDER BY first_heartbeat ASC, id ASC LIMIT 1`,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, shepherd.ErrServerNotFound
		}
		return id.Nil, wrap("longest running server", err)
	}
	return id.ParseServerID(raw)
}
