// Package queue implements the durable job queue: a primary job table
// keyed by job id plus a secondary ordered index keyed by
// (availableAt, id), with transactional claim semantics and
// deduplication of in-flight work.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/birdwatch/id"
	"github.com/xraph/birdwatch/job"
	"github.com/xraph/birdwatch/persistence"
)

const (
	tableJobs  = "jobs"
	tableIndex = "index"
)

// Queue is the primary job table plus its ordered availability index,
// both living in one persistence.Environment so submit/claim/retry can
// write across them atomically.
type Queue struct {
	env       persistence.Environment
	padWidth  int
	now       func() time.Time
	claimLock sync.Mutex
}

// New creates a Queue over env. padWidth is the timestamp pad width (W)
// used to encode index keys; pass persistence.DefaultTimestampPadWidth
// unless a deployment has overridden TIMESTAMP_PAD_LENGTH.
func New(env persistence.Environment, padWidth int) *Queue {
	return &Queue{env: env, padWidth: padWidth, now: time.Now}
}

func (q *Queue) nowMs() int64 {
	return q.now().UnixMilli()
}

func encodeJob(j *job.Job) ([]byte, error) {
	b, err := msgpack.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("queue: encode job: %w", err)
	}
	return b, nil
}

func decodeJob(b []byte) (*job.Job, error) {
	var j job.Job
	if err := msgpack.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("queue: decode job: %w", err)
	}
	return &j, nil
}

func (q *Queue) indexKey(availableAt int64, jobID string) string {
	return persistence.EncodeOrderedKey(q.padWidth, availableAt, jobID)
}

// SubmitResult is the outcome of a Submit call.
type SubmitResult struct {
	Job         *job.Job
	IsDuplicate bool
}

// Submit creates a job for name, or returns the existing non-failed
// record if one is already queued, processing, or completed under the
// same canonical id.
func (q *Queue) Submit(ctx context.Context, name string) (*SubmitResult, error) {
	jobID := id.CanonicalJobID(name)
	jobs := q.env.Table(tableJobs)

	existing, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: submit %q: %w", jobID, err)
	}

	if ok {
		cur, err := decodeJob(existing)
		if err != nil {
			return nil, err
		}
		if cur.Status != job.StatusFailed {
			return &SubmitResult{Job: cur, IsDuplicate: true}, nil
		}
	}

	now := q.nowMs()
	fresh := &job.Job{
		ID:          jobID,
		Name:        name,
		CreatedAt:   now,
		AvailableAt: now,
		RetryCount:  0,
		Status:      job.StatusQueued,
		Body:        map[string]any{},
	}
	encoded, err := encodeJob(fresh)
	if err != nil {
		return nil, err
	}

	batch := q.env.NewBatch()
	defer batch.Close()
	batch.Put(tableJobs, jobID, encoded)
	batch.Put(tableIndex, q.indexKey(now, jobID), []byte(jobID))
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: submit %q: %w", jobID, err)
	}

	return &SubmitResult{Job: fresh, IsDuplicate: false}, nil
}

// Claim atomically removes and returns the next eligible job, or nil if
// none is eligible. The index head is inspected, and if its job record
// is missing the orphan index entry is self-healed.
//
// Pebble has no interactive cross-goroutine transaction, so the
// read-index-head / read-job / write sequence is serialized behind
// claimLock before the batch commits durably. See DESIGN.md.
func (q *Queue) Claim(ctx context.Context) (*job.Job, error) {
	q.claimLock.Lock()
	defer q.claimLock.Unlock()

	index := q.env.Table(tableIndex)
	head, err := index.Scan(ctx, "", 1)
	if err != nil {
		return nil, fmt.Errorf("queue: claim: scan index: %w", err)
	}
	if len(head) == 0 {
		return nil, nil
	}

	entry := head[0]
	availableAt, jobID, err := persistence.SplitOrderedKey(q.padWidth, entry.Key)
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	if availableAt > q.nowMs() {
		return nil, nil
	}

	jobs := q.env.Table(tableJobs)
	raw, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: claim %q: %w", jobID, err)
	}
	if !ok {
		batch := q.env.NewBatch()
		defer batch.Close()
		batch.Delete(tableIndex, entry.Key)
		if err := batch.Commit(ctx); err != nil {
			return nil, fmt.Errorf("queue: claim: heal orphan %q: %w", jobID, err)
		}
		return nil, nil
	}

	j, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusProcessing
	encoded, err := encodeJob(j)
	if err != nil {
		return nil, err
	}

	batch := q.env.NewBatch()
	defer batch.Close()
	batch.Put(tableJobs, jobID, encoded)
	batch.Delete(tableIndex, entry.Key)
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: claim %q: %w", jobID, err)
	}

	return j, nil
}

// Complete marks a job completed with the given result body.
func (q *Queue) Complete(ctx context.Context, jobID string, body map[string]any) (*job.Job, error) {
	jobs := q.env.Table(tableJobs)
	raw, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: complete %q: %w", jobID, err)
	}
	if !ok {
		return nil, nil
	}
	j, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusCompleted
	j.Body = body

	encoded, err := encodeJob(j)
	if err != nil {
		return nil, err
	}
	if err := jobs.Put(ctx, jobID, encoded); err != nil {
		return nil, fmt.Errorf("queue: complete %q: %w", jobID, err)
	}
	return j, nil
}

// Retry requeues a job for a future attempt, incrementing retryCount
// and inserting a fresh index entry at nextAvailableAt.
func (q *Queue) Retry(ctx context.Context, jobID string, nextAvailableAt int64) (*job.Job, error) {
	jobs := q.env.Table(tableJobs)
	raw, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: retry %q: %w", jobID, err)
	}
	if !ok {
		return nil, nil
	}
	j, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusQueued
	j.RetryCount++
	j.AvailableAt = nextAvailableAt

	encoded, err := encodeJob(j)
	if err != nil {
		return nil, err
	}

	batch := q.env.NewBatch()
	defer batch.Close()
	batch.Put(tableJobs, jobID, encoded)
	batch.Put(tableIndex, q.indexKey(nextAvailableAt, jobID), []byte(jobID))
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: retry %q: %w", jobID, err)
	}
	return j, nil
}

// Fail marks a job permanently failed. No index entry remains.
func (q *Queue) Fail(ctx context.Context, jobID string) (*job.Job, error) {
	jobs := q.env.Table(tableJobs)
	raw, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: fail %q: %w", jobID, err)
	}
	if !ok {
		return nil, nil
	}
	j, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusFailed

	encoded, err := encodeJob(j)
	if err != nil {
		return nil, err
	}
	if err := jobs.Put(ctx, jobID, encoded); err != nil {
		return nil, fmt.Errorf("queue: fail %q: %w", jobID, err)
	}
	return j, nil
}

// Get performs a point read by job id.
func (q *Queue) Get(ctx context.Context, jobID string) (*job.Job, error) {
	raw, ok, err := q.env.Table(tableJobs).Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: get %q: %w", jobID, err)
	}
	if !ok {
		return nil, nil
	}
	return decodeJob(raw)
}
