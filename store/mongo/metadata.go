package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/metadata"
)

// SaveMetadata inserts or replaces a record.
func (s *Store) SaveMetadata(ctx context.Context, m *metadata.Metadata) error {
	metadata.Touch(m, time.Now().UTC())
	_, err := s.db.Collection(colMetadata).UpdateOne(ctx,
		bson.M{"name": m.Name, "owner": m.Owner},
		bson.M{
			"$set":         bson.M{"value": m.Value, "updated_at": m.UpdatedAt},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return wrap("save metadata", err)
	}
	return nil
}

// GetMetadata returns one record.
func (s *Store) GetMetadata(ctx context.Context, name, owner string) (*metadata.Metadata, error) {
	var m metadataModel
	err := s.db.Collection(colMetadata).FindOne(ctx, bson.M{"name": name, "owner": owner}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, shepherd.ErrMetadataNotFound
		}
		return nil, wrap("get metadata", err)
	}
	return fromMetadataModel(&m), nil
}

// ListMetadata returns every record with the given name ordered by owner.
func (s *Store) ListMetadata(ctx context.Context, name string) ([]*metadata.Metadata, error) {
	cursor, err := s.db.Collection(colMetadata).Find(ctx, bson.M{"name": name},
		options.Find().SetSort(bson.D{{Key: "owner", Value: 1}}))
	if err != nil {
		return nil, wrap("list metadata", err)
	}
	var models []metadataModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list metadata", err)
	}
	result := make([]*metadata.Metadata, 0, len(models))
	for i := range models {
		result = append(result, fromMetadataModel(&models[i]))
	}
	return result, nil
}

// DeleteMetadata removes every record with the given name.
func (s *Store) DeleteMetadata(ctx context.Context, name string) (int, error) {
	res, err := s.db.Collection(colMetadata).DeleteMany(ctx, bson.M{"name": name})
	if err != nil {
		return 0, wrap("delete metadata", err)
	}
	return int(res.DeletedCount), nil
}
