package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ytpdf/internal/core/domain"
	"ytpdf/internal/core/ports"
)

// JobIndex implements ports.JobIndex on Redis. Pending jobs and outcomes
// are stored as JSON under "<prefix>:pending:<id>" and "<prefix>:outcome:<id>".
type JobIndex struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ ports.JobIndex = (*JobIndex)(nil)

// NewJobIndex creates a new JobIndex. A non-positive ttl keeps keys forever.
func NewJobIndex(client redis.UniversalClient, prefix string, ttl time.Duration) *JobIndex {
	if prefix == "" {
		prefix = "ytpdf"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &JobIndex{client: client, prefix: prefix, ttl: ttl}
}

func (j *JobIndex) pendingKey(jobID string) string { return j.prefix + ":pending:" + jobID }
func (j *JobIndex) outcomeKey(jobID string) string { return j.prefix + ":outcome:" + jobID }

// SavePending records a submitted job that has no outcome yet.
func (j *JobIndex) SavePending(ctx context.Context, handle domain.JobHandle, sourceURL string) error {
	if handle.JobID == "" {
		return errors.New("job id cannot be empty")
	}
	data, err := json.Marshal(ports.PendingJob{Handle: handle, SourceURL: sourceURL})
	if err != nil {
		return fmt.Errorf("encode pending job: %w", err)
	}
	if err := j.client.Set(ctx, j.pendingKey(handle.JobID), data, j.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Pending returns a pending job or domain.ErrNotFound.
func (j *JobIndex) Pending(ctx context.Context, jobID string) (ports.PendingJob, error) {
	var p ports.PendingJob
	if err := j.getJSON(ctx, j.pendingKey(jobID), &p); err != nil {
		return ports.PendingJob{}, err
	}
	return p, nil
}

// SaveOutcome stores the outcome and drops the pending entry in one transaction.
func (j *JobIndex) SaveOutcome(ctx context.Context, outcome domain.JobOutcome) error {
	if outcome.JobID == "" {
		return errors.New("job id cannot be empty")
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, j.outcomeKey(outcome.JobID), data, j.ttl)
		pipe.Del(ctx, j.pendingKey(outcome.JobID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save outcome: %w", err)
	}
	return nil
}

// Outcome returns a stored outcome or domain.ErrNotFound.
func (j *JobIndex) Outcome(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	var out domain.JobOutcome
	if err := j.getJSON(ctx, j.outcomeKey(jobID), &out); err != nil {
		return domain.JobOutcome{}, err
	}
	return out, nil
}

func (j *JobIndex) getJSON(ctx context.Context, key string, v any) error {
	raw, err := j.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
