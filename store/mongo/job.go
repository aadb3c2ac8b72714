package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// SaveJob inserts or conditionally updates one job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	ok, err := s.saveJob(ctx, j)
	if err != nil {
		return wrap("save job", err)
	}
	if !ok {
		return shepherd.NewConcurrentModificationError(j.ID)
	}
	j.Version++
	return nil
}

// SaveJobs saves each job with its own conditional write and reports the
// jobs whose version no longer matched. A backend failure stops the batch
// with a *shepherd.PartialSaveError naming every job that was not written.
func (s *Store) SaveJobs(ctx context.Context, jobs []*job.Job) error {
	var failed []id.JobID
	for i, j := range jobs {
		ok, err := s.saveJob(ctx, j)
		if err != nil {
			unsaved := append(failed, j.ID)
			for _, rest := range jobs[i+1:] {
				unsaved = append(unsaved, rest.ID)
			}
			return &shepherd.PartialSaveError{Unsaved: unsaved, Err: wrap("save jobs", err)}
		}
		if !ok {
			failed = append(failed, j.ID)
			continue
		}
		j.Version++
	}
	if len(failed) > 0 {
		return shepherd.NewConcurrentModificationError(failed...)
	}
	return nil
}

// saveJob reports whether the document was written.
func (s *Store) saveJob(ctx context.Context, j *job.Job) (bool, error) {
	m, err := toJobModel(j)
	if err != nil {
		return false, err
	}
	col := s.db.Collection(colJobs)

	if j.IsNew() {
		_, err := col.InsertOne(ctx, m)
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}
		return err == nil, err
	}

	res, err := col.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": j.Version}, m)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, shepherd.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return fromJobModel(&m)
}

// CountJobs returns the number of jobs in the given state.
func (s *Store) CountJobs(ctx context.Context, state job.StateName) (int64, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, bson.M{"state": string(state)})
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return n, nil
}

// ListJobs returns jobs in the given state ordered by update time.
func (s *Store) ListJobs(ctx context.Context, state job.StateName, page job.Page) ([]*job.Job, error) {
	jobs, err := s.findJobs(ctx, bson.M{"state": string(state)}, "updated_at", page)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	return jobs, nil
}

// ListScheduledBefore returns Scheduled jobs due at or before t.
func (s *Store) ListScheduledBefore(ctx context.Context, t time.Time, page job.Page) ([]*job.Job, error) {
	filter := bson.M{
		"state":        string(job.StateScheduled),
		"scheduled_at": bson.M{"$lte": t.UTC()},
	}
	jobs, err := s.findJobs(ctx, filter, "scheduled_at", job.Page{Offset: page.Offset, Limit: page.Limit})
	if err != nil {
		return nil, wrap("list scheduled jobs", err)
	}
	return jobs, nil
}

// ListUpdatedBefore returns jobs in the given state updated before t.
func (s *Store) ListUpdatedBefore(ctx context.Context, state job.StateName, t time.Time, page job.Page) ([]*job.Job, error) {
	filter := bson.M{
		"state":      string(state),
		"updated_at": bson.M{"$lt": t.UTC()},
	}
	jobs, err := s.findJobs(ctx, filter, "updated_at", page)
	if err != nil {
		return nil, wrap("list jobs updated before", err)
	}
	return jobs, nil
}

func (s *Store) findJobs(ctx context.Context, filter bson.M, sortKey string, page job.Page) ([]*job.Job, error) {
	dir := 1
	if page.Order == job.OrderDesc {
		dir = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: sortKey, Value: dir}, {Key: "_id", Value: dir}})
	if page.Offset > 0 {
		findOpts.SetSkip(int64(page.Offset))
	}
	if page.Limit > 0 {
		findOpts.SetLimit(int64(page.Limit))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("convert job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// DeleteJobPermanently removes a job.
func (s *Store) DeleteJobPermanently(ctx context.Context, jobID id.JobID) (int, error) {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return 0, wrap("delete job", err)
	}
	return int(res.DeletedCount), nil
}

// DeleteJobsUpdatedBefore removes jobs in the given state updated before t.
func (s *Store) DeleteJobsUpdatedBefore(ctx context.Context, state job.StateName, t time.Time) (int, error) {
	res, err := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{
		"state":      string(state),
		"updated_at": bson.M{"$lt": t.UTC()},
	})
	if err != nil {
		return 0, wrap("delete jobs updated before", err)
	}
	return int(res.DeletedCount), nil
}

// ExistsForSignature reports whether a job with the signature is in one of
// the given states.
func (s *Store) ExistsForSignature(ctx context.Context, signature string, states ...job.StateName) (bool, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	n, err := s.db.Collection(colJobs).CountDocuments(ctx,
		bson.M{"signature": signature, "state": bson.M{"$in": names}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, wrap("exists for signature", err)
	}
	return n > 0, nil
}
