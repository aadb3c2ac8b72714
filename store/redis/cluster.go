package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
)

// AnnounceServer registers a heartbeat, replacing any previous record.
func (s *Store) AnnounceServer(ctx context.Context, hb *cluster.ServerHeartbeat) error {
	data, err := msgpack.Marshal(toServerRecord(hb))
	if err != nil {
		return fmt.Errorf("shepherd/redis: encode heartbeat: %w", err)
	}
	serverID := hb.ID.String()
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, serverKey(serverID), data, 0)
		p.SAdd(ctx, serverIDsKey, serverID)
		return nil
	})
	if err != nil {
		return wrap("announce server", err)
	}
	return nil
}

// SignalServerAlive refreshes an announced heartbeat and returns its stored
// running flag.
func (s *Store) SignalServerAlive(ctx context.Context, hb *cluster.ServerHeartbeat) (bool, error) {
	key := serverKey(hb.ID.String())
	var running bool
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := getServerRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored == nil {
			return shepherd.ErrServerTimedOut
		}
		stored.LastHeartbeat = hb.LastHeartbeat
		stored.Metrics = hb.Metrics
		data, err := msgpack.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		running = stored.Running
		return err
	}, key)
	switch {
	case errors.Is(err, shepherd.ErrServerTimedOut):
		return false, err
	case isConflict(err):
		// Evicted or paused concurrently; the next cycle sees the outcome.
		return true, nil
	case err != nil:
		return false, wrap("signal server alive", err)
	}
	return running, nil
}

// SignalServerStopped removes a heartbeat.
func (s *Store) SignalServerStopped(ctx context.Context, serverID id.ServerID) error {
	if err := s.removeServer(ctx, serverID.String()); err != nil {
		return wrap("signal server stopped", err)
	}
	return nil
}

func (s *Store) removeServer(ctx context.Context, serverID string) error {
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, serverKey(serverID))
		p.SRem(ctx, serverIDsKey, serverID)
		return nil
	})
	return err
}

// ListServers returns all heartbeats by seniority.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.ServerHeartbeat, error) {
	ids, err := s.client.SMembers(ctx, serverIDsKey).Result()
	if err != nil {
		return nil, wrap("list servers", err)
	}
	servers := make([]*cluster.ServerHeartbeat, 0, len(ids))
	for _, serverID := range ids {
		rec, err := getServerRecord(ctx, s.client, serverKey(serverID))
		if err != nil {
			return nil, wrap("list servers", err)
		}
		if rec == nil {
			continue
		}
		hb, err := rec.toHeartbeat()
		if err != nil {
			return nil, wrap("list servers", err)
		}
		servers = append(servers, hb)
	}
	cluster.SortServers(servers)
	return servers, nil
}

// RemoveTimedOutServers deletes heartbeats last refreshed before t. Each
// removal re-checks the record so a concurrent refresh wins.
func (s *Store) RemoveTimedOutServers(ctx context.Context, before time.Time) (int, error) {
	servers, err := s.ListServers(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, hb := range servers {
		if !hb.LastHeartbeat.Before(before) {
			continue
		}
		serverID := hb.ID.String()
		key := serverKey(serverID)
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			stored, err := getServerRecord(ctx, tx, key)
			if err != nil || stored == nil || !stored.LastHeartbeat.Before(before) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.Del(ctx, key)
				p.SRem(ctx, serverIDsKey, serverID)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)
		if err != nil && !isConflict(err) {
			return removed, wrap("remove timed out servers", err)
		}
	}
	return removed, nil
}

// LongestRunningServerID returns the most senior server.
func (s *Store) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	servers, err := s.ListServers(ctx)
	if err != nil {
		return id.Nil, err
	}
	if len(servers) == 0 {
		return id.Nil, shepherd.ErrServerNotFound
	}
	return servers[0].ID, nil
}

// getServerRecord returns nil when the key does not exist.
func getServerRecord(ctx context.Context, c goredis.Cmdable, key string) (*serverRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec serverRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	return &rec, nil
}
