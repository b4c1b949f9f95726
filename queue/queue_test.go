package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/birdwatch/job"
	"github.com/xraph/birdwatch/persistence"
	"github.com/xraph/birdwatch/queue"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	env, err := persistence.NewMemoryEnvironment("")
	if err != nil {
		t.Fatalf("NewMemoryEnvironment: %v", err)
	}
	return queue.New(env, persistence.DefaultTimestampPadWidth)
}

func TestSubmit_New(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	res, err := q.Submit(ctx, "Brown Pelican")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.IsDuplicate {
		t.Fatalf("expected fresh submission, got duplicate")
	}
	if res.Job.ID != "brown-pelican" {
		t.Errorf("ID = %q, want %q", res.Job.ID, "brown-pelican")
	}
	if res.Job.Status != job.StatusQueued {
		t.Errorf("Status = %q, want %q", res.Job.Status, job.StatusQueued)
	}
}

func TestSubmit_Duplicate(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	first, err := q.Submit(ctx, "Brown Pelican")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := q.Submit(ctx, "Brown Pelican")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !second.IsDuplicate {
		t.Fatalf("expected duplicate on second submit")
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("duplicate returned different id: %q vs %q", second.Job.ID, first.Job.ID)
	}
}

func TestClaim_ReturnsEligibleJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "Osprey"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed == nil {
		t.Fatal("Claim returned nil, want a job")
	}
	if claimed.Status != job.StatusProcessing {
		t.Errorf("Status = %q, want %q", claimed.Status, job.StatusProcessing)
	}

	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no further eligible job, got %+v", second)
	}
}

func TestClaim_SkipsNotYetEligible(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour).UnixMilli()
	if _, err := q.Submit(ctx, "Osprey"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v, job %+v", err, claimed)
	}
	if _, err := q.Retry(ctx, claimed.ID, future); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	none, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no eligible job before availableAt, got %+v", none)
	}
}

func TestCompleteAndGet(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "Osprey"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v, job %+v", err, claimed)
	}

	completed, err := q.Complete(ctx, claimed.ID, map[string]any{"research": "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", completed.Status, job.StatusCompleted)
	}
	if completed.Body["research"] != "x" {
		t.Errorf("Body = %+v", completed.Body)
	}

	fetched, err := q.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched == nil || fetched.Status != job.StatusCompleted {
		t.Errorf("Get after Complete = %+v", fetched)
	}
}

func TestRetry_IncrementsCountAndReindexes(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "Osprey"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v, job %+v", err, claimed)
	}

	next := time.Now().UnixMilli()
	retried, err := q.Retry(ctx, claimed.ID, next)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.RetryCount != claimed.RetryCount+1 {
		t.Errorf("RetryCount = %d, want %d", retried.RetryCount, claimed.RetryCount+1)
	}
	if retried.Status != job.StatusQueued {
		t.Errorf("Status = %q, want %q", retried.Status, job.StatusQueued)
	}

	reclaimed, err := q.Claim(ctx)
	if err != nil || reclaimed == nil {
		t.Fatalf("expected to reclaim retried job, got %v, %+v", err, reclaimed)
	}
	if reclaimed.ID != claimed.ID {
		t.Errorf("reclaimed %q, want %q", reclaimed.ID, claimed.ID)
	}
}

func TestFail_RemovesFromIndexAndNotFoundOnGet404Equivalent(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "A"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v, job %+v", err, claimed)
	}
	failed, err := q.Fail(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", failed.Status, job.StatusFailed)
	}

	none, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no claimable job after fail, got %+v", none)
	}

	fetched, err := q.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched != nil && fetched.Status == job.StatusCompleted {
		t.Errorf("Get after Fail = %+v, want a record that is not completed (GET /bird answers 404)", fetched)
	}
}

func TestSubmit_ResetsFailedJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "A"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v, job %+v", err, claimed)
	}
	if _, err := q.Fail(ctx, claimed.ID); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resubmitted, err := q.Submit(ctx, "A")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resubmitted.IsDuplicate {
		t.Fatalf("expected fresh submission after failure, got duplicate")
	}
	if resubmitted.Job.RetryCount != 0 || resubmitted.Job.Status != job.StatusQueued {
		t.Errorf("resubmitted job = %+v", resubmitted.Job)
	}

	reclaimed, err := q.Claim(ctx)
	if err != nil || reclaimed == nil {
		t.Fatalf("expected resubmitted job immediately claimable, got %v, %+v", err, reclaimed)
	}
}

func TestClaim_OrderedByAvailableAt(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Submit(ctx, "A"); err != nil {
		t.Fatalf("Submit A: %v", err)
	}
	a, err := q.Claim(ctx)
	if err != nil || a == nil {
		t.Fatalf("Claim A: %v, %+v", err, a)
	}
	future := time.Now().Add(time.Minute).UnixMilli()
	if _, err := q.Retry(ctx, a.ID, future); err != nil {
		t.Fatalf("Retry A: %v", err)
	}

	if _, err := q.Submit(ctx, "B"); err != nil {
		t.Fatalf("Submit B: %v", err)
	}

	first, err := q.Claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("Claim: %v, %+v", err, first)
	}
	if first.ID != "b" {
		t.Errorf("expected B to be claimed before A's future retry, got %q", first.ID)
	}
}

// TestClaim_ConcurrentCallsNeverDuplicateAJob drives many goroutines
// against a shared Queue to exercise the claimLock serialization: with
// N jobs submitted and M goroutines each racing Claim until the queue
// is drained, every successful claim must return a distinct job id, and
// the total number of successful claims must equal N.
func TestClaim_ConcurrentCallsNeverDuplicateAJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	const numJobs = 20
	const numWorkers = 8

	for i := 0; i < numJobs; i++ {
		if _, err := q.Submit(ctx, fmt.Sprintf("bird-%02d", i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
		errs    []error
	)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Claim(ctx)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		t.Errorf("Claim returned error: %v", err)
	}
	if len(claimed) != numJobs {
		t.Fatalf("claimed %d distinct jobs, want %d (claimed=%v)", len(claimed), numJobs, claimed)
	}
	for id, count := range claimed {
		if count != 1 {
			t.Errorf("job %q claimed %d times, want exactly 1", id, count)
		}
	}
}
