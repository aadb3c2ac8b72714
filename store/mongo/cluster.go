package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
)

// AnnounceServer registers a heartbeat, replacing any previous record.
func (s *Store) AnnounceServer(ctx context.Context, hb *cluster.ServerHeartbeat) error {
	m := toServerModel(hb)
	_, err := s.db.Collection(colServers).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrap("announce server", err)
	}
	return nil
}

// SignalServerAlive refreshes an announced heartbeat and returns its stored
// running flag.
func (s *Store) SignalServerAlive(ctx context.Context, hb *cluster.ServerHeartbeat) (bool, error) {
	var m serverModel
	err := s.db.Collection(colServers).FindOneAndUpdate(ctx,
		bson.M{"_id": hb.ID.String()},
		bson.M{"$set": bson.M{
			"last_heartbeat": hb.LastHeartbeat,
			"metrics":        toMetricsModel(hb.Metrics),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return false, shepherd.ErrServerTimedOut
		}
		return false, wrap("signal server alive", err)
	}
	return m.Running, nil
}

// SignalServerStopped removes a heartbeat.
func (s *Store) SignalServerStopped(ctx context.Context, serverID id.ServerID) error {
	if _, err := s.db.Collection(colServers).DeleteOne(ctx, bson.M{"_id": serverID.String()}); err != nil {
		return wrap("signal server stopped", err)
	}
	return nil
}

// ListServers returns all heartbeats by seniority.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.ServerHeartbeat, error) {
	cursor, err := s.db.Collection(colServers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "first_heartbeat", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("list servers", err)
	}
	var models []serverModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list servers", err)
	}

	servers := make([]*cluster.ServerHeartbeat, 0, len(models))
	for i := range models {
		hb, err := fromServerModel(&models[i])
		if err != nil {
			return nil, wrap("list servers", err)
		}
		servers = append(servers, hb)
	}
	return servers, nil
}

// RemoveTimedOutServers deletes heartbeats last refreshed before t.
func (s *Store) RemoveTimedOutServers(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.Collection(colServers).DeleteMany(ctx,
		bson.M{"last_heartbeat": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, wrap("remove timed out servers", err)
	}
	return int(res.DeletedCount), nil
}

// LongestRunningServerID returns the most senior server.
func (s *Store) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	var m serverModel
	err := s.db.Collection(colServers).FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "first_heartbeat", Value: 1}, {Key: "_id", Value: 1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return id.Nil, shepherd.ErrServerNotFound
		}
		return id.Nil, wrap("longest running server", err)
	}
	return id.ParseServerID(m.ID)
}
