package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/recurring"
)

// SaveRecurringJob inserts or replaces a template, keeping the CreatedAt of
// an existing one.
func (s *Store) SaveRecurringJob(ctx context.Context, r *recurring.RecurringJob) error {
	descriptor, err := json.Marshal(r.Descriptor)
	if err != nil {
		return fmt.Errorf("shepherd/mongo: encode descriptor of %s: %w", r.ID, err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.Collection(colRecurringJobs).UpdateOne(ctx,
		bson.M{"_id": r.ID},
		bson.M{
			"$set": bson.M{
				"descriptor": descriptor,
				"schedule":   r.Schedule,
				"timezone":   r.Timezone,
				"updated_at": r.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": r.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return wrap("save recurring job", err)
	}
	return nil
}

// GetRecurringJob retrieves a template by ID.
func (s *Store) GetRecurringJob(ctx context.Context, recurringID string) (*recurring.RecurringJob, error) {
	var m recurringModel
	err := s.db.Collection(colRecurringJobs).FindOne(ctx, bson.M{"_id": recurringID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, shepherd.ErrRecurringJobNotFound
		}
		return nil, wrap("get recurring job", err)
	}
	return fromRecurringModel(&m)
}

// ListRecurringJobs returns all templates ordered by ID.
func (s *Store) ListRecurringJobs(ctx context.Context) ([]*recurring.RecurringJob, error) {
	cursor, err := s.db.Collection(colRecurringJobs).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("list recurring jobs", err)
	}
	var models []recurringModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list recurring jobs", err)
	}

	result := make([]*recurring.RecurringJob, 0, len(models))
	for i := range models {
		r, err := fromRecurringModel(&models[i])
		if err != nil {
			return nil, wrap("list recurring jobs", err)
		}
		result = append(result, r)
	}
	return result, nil
}

// CountRecurringJobs returns the number of templates.
func (s *Store) CountRecurringJobs(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colRecurringJobs).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, wrap("count recurring jobs", err)
	}
	return n, nil
}

// DeleteRecurringJob removes a template.
func (s *Store) DeleteRecurringJob(ctx context.Context, recurringID string) (int, error) {
	res, err := s.db.Collection(colRecurringJobs).DeleteOne(ctx, bson.M{"_id": recurringID})
	if err != nil {
		return 0, wrap("delete recurring job", err)
	}
	return int(res.DeletedCount), nil
}
