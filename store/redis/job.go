package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// SaveJob inserts or conditionally updates one job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	err := s.saveJob(ctx, j)
	if isConflict(err) {
		return shepherd.NewConcurrentModificationError(j.ID)
	}
	if err != nil {
		return wrap("save job", err)
	}
	j.Version++
	return nil
}

// SaveJobs saves each job in its own optimistic transaction and reports the
// jobs whose version no longer matched. A backend failure stops the batch
// with a *shepherd.PartialSaveError naming every job that was not written.
func (s *Store) SaveJobs(ctx context.Context, jobs []*job.Job) error {
	var failed []id.JobID
	for i, j := range jobs {
		err := s.saveJob(ctx, j)
		switch {
		case isConflict(err):
			failed = append(failed, j.ID)
		case err != nil:
			return &shepherd.PartialSaveError{
				Unsaved: append(failed, jobIDs(jobs[i:])...),
				Err:     wrap("save jobs", err),
			}
		default:
			j.Version++
		}
	}
	if len(failed) > 0 {
		return shepherd.NewConcurrentModificationError(failed...)
	}
	return nil
}

func (s *Store) saveJob(ctx context.Context, j *job.Job) error {
	rec, err := toJobRecord(j)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	key := jobKey(rec.ID)

	return s.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := getJobRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if j.IsNew() {
			if stored != nil {
				return errConflict
			}
		} else if stored == nil || stored.Version != j.Version {
			return errConflict
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if stored != nil {
				unindexJob(ctx, p, stored)
			}
			p.Set(ctx, key, data, 0)
			indexJob(ctx, p, rec)
			return nil
		})
		return err
	}, key)
}

// getJobRecord returns nil when the key does not exist.
func getJobRecord(ctx context.Context, c goredis.Cmdable, key string) (*jobRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeJobRecord(data)
}

func indexJob(ctx context.Context, p goredis.Pipeliner, r *jobRecord) {
	p.ZAdd(ctx, stateKey(r.State), goredis.Z{Score: score(r.UpdatedAt), Member: r.ID})
	if r.State == job.StateScheduled {
		p.ZAdd(ctx, scheduledKey, goredis.Z{Score: score(r.ScheduledAt), Member: r.ID})
	}
	p.HSet(ctx, signatureKey(r.Signature), r.ID, string(r.State))
}

func unindexJob(ctx context.Context, p goredis.Pipeliner, r *jobRecord) {
	p.ZRem(ctx, stateKey(r.State), r.ID)
	p.ZRem(ctx, scheduledKey, r.ID)
	p.HDel(ctx, signatureKey(r.Signature), r.ID)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	rec, err := getJobRecord(ctx, s.client, jobKey(jobID.String()))
	if err != nil {
		return nil, wrap("get job", err)
	}
	if rec == nil {
		return nil, shepherd.ErrJobNotFound
	}
	return rec.toJob()
}

// CountJobs returns the number of jobs in the given state.
func (s *Store) CountJobs(ctx context.Context, state job.StateName) (int64, error) {
	n, err := s.client.ZCard(ctx, stateKey(state)).Result()
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return n, nil
}

// ListJobs returns jobs in the given state ordered by update time.
func (s *Store) ListJobs(ctx context.Context, state job.StateName, page job.Page) ([]*job.Job, error) {
	stop := int64(-1)
	if page.Limit > 0 {
		stop = int64(page.Offset + page.Limit - 1)
	}
	ids, err := s.client.ZRangeArgs(ctx, goredis.ZRangeArgs{
		Key:   stateKey(state),
		Start: page.Offset,
		Stop:  stop,
		Rev:   page.Order == job.OrderDesc,
	}).Result()
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	return s.loadJobs(ctx, ids)
}

// ListScheduledBefore returns Scheduled jobs due at or before t.
func (s *Store) ListScheduledBefore(ctx context.Context, t time.Time, page job.Page) ([]*job.Job, error) {
	ids, err := s.client.ZRangeArgs(ctx, byScore(scheduledKey, "-inf", formatScore(t), job.Page{Offset: page.Offset, Limit: page.Limit})).Result()
	if err != nil {
		return nil, wrap("list scheduled jobs", err)
	}
	return s.loadJobs(ctx, ids)
}

// ListUpdatedBefore returns jobs in the given state updated before t.
func (s *Store) ListUpdatedBefore(ctx context.Context, state job.StateName, t time.Time, page job.Page) ([]*job.Job, error) {
	ids, err := s.client.ZRangeArgs(ctx, byScore(stateKey(state), "-inf", "("+formatScore(t), page)).Result()
	if err != nil {
		return nil, wrap("list jobs updated before", err)
	}
	return s.loadJobs(ctx, ids)
}

// DeleteJobPermanently removes a job.
func (s *Store) DeleteJobPermanently(ctx context.Context, jobID id.JobID) (int, error) {
	n, err := s.deleteJob(ctx, jobID.String())
	if err != nil {
		return 0, wrap("delete job", err)
	}
	return n, nil
}

// DeleteJobsUpdatedBefore removes jobs in the given state updated before t.
func (s *Store) DeleteJobsUpdatedBefore(ctx context.Context, state job.StateName, t time.Time) (int, error) {
	ids, err := s.client.ZRangeArgs(ctx, byScore(stateKey(state), "-inf", "("+formatScore(t), job.Page{})).Result()
	if err != nil {
		return 0, wrap("delete jobs updated before", err)
	}
	total := 0
	for _, jobID := range ids {
		n, err := s.deleteJob(ctx, jobID)
		if err != nil && !isConflict(err) {
			return total, wrap("delete jobs updated before", err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) deleteJob(ctx context.Context, jobID string) (int, error) {
	key := jobKey(jobID)
	deleted := 0
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := getJobRecord(ctx, tx, key)
		if err != nil || stored == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			unindexJob(ctx, p, stored)
			p.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = 1
		}
		return err
	}, key)
	return deleted, err
}

// ExistsForSignature reports whether a job with the signature is in one of
// the given states.
func (s *Store) ExistsForSignature(ctx context.Context, signature string, states ...job.StateName) (bool, error) {
	values, err := s.client.HVals(ctx, signatureKey(signature)).Result()
	if err != nil {
		return false, wrap("exists for signature", err)
	}
	for _, v := range values {
		if slices.Contains(states, job.StateName(v)) {
			return true, nil
		}
	}
	return false, nil
}

// loadJobs fetches records in the order of ids, skipping ones deleted
// since the index was read.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	keys := make([]string, len(ids))
	for i, jobID := range ids {
		keys[i] = jobKey(jobID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("load jobs", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeJobRecord([]byte(raw))
		if err != nil {
			return nil, wrap("load jobs", err)
		}
		j, err := rec.toJob()
		if err != nil {
			return nil, wrap("load jobs", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func byScore(key, lowest, highest string, page job.Page) goredis.ZRangeArgs {
	args := goredis.ZRangeArgs{
		Key:     key,
		Start:   lowest,
		Stop:    highest,
		ByScore: true,
		Rev:     page.Order == job.OrderDesc,
		Offset:  int64(page.Offset),
		Count:   int64(page.Limit),
	}
	if args.Count == 0 && args.Offset > 0 {
		args.Count = -1
	}
	return args
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func jobIDs(jobs []*job.Job) []id.JobID {
	ids := make([]id.JobID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}
