package queue

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/docpush/internal/storage"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func request(repo, branch string) EnqueueRequest {
	return EnqueueRequest{
		Repository:  repo,
		Branch:      branch,
		OutputPath:  "/srv/" + branch,
		BuildType:   "copy",
		SubmittedBy: "webhook",
	}
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	id1, err := q.Enqueue(ctx, request("owner/docs", "main"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, request("owner/docs", "dev"))
	require.NoError(t, err)

	j1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, j1)
	assert.Equal(t, id1, j1.ID)
	assert.Equal(t, StatusRunning, j1.Status)
	assert.NotNil(t, j1.StartedAt)
	assert.Equal(t, JobDescriptor{
		ID:         id1,
		Repository: "owner/docs",
		Branch:     "main",
		OutputPath: "/srv/main",
		BuildType:  "copy",
	}, j1.JobDescriptor)

	j2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, j2)
	assert.Equal(t, id2, j2.ID)

	j3, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, j3, "expected empty queue")
}

func TestQueueEnqueueValidates(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	req := request("owner/docs", "main")
	req.BuildType = ""
	_, err := q.Enqueue(context.Background(), req)
	assert.Error(t, err)
}

func TestQueueConcurrentDequeueClaimsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	const jobs = 10
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, request("owner/docs", "main"))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Dequeue(ctx)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestQueueCompleteRecordsOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	id, err := q.Enqueue(ctx, request("owner/docs", "main"))
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, id, Outcome{
		Status:    StatusFailed,
		LastError: "clone failed",
		BuildLog:  "fatal: repository not found",
	}))

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "clone failed", *j.LastError)
	assert.NotNil(t, j.CompletedAt)
	assert.Nil(t, j.SiteDigest)

	buildLog, err := q.BuildLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fatal: repository not found", buildLog)
	_, err = q.BuildLog(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Error(t, q.Complete(ctx, id, Outcome{Status: StatusRunning}))
	assert.ErrorIs(t, q.Complete(ctx, "missing", Outcome{Status: StatusSucceeded}), ErrJobNotFound)
}

func TestQueueRecentNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	first, err := q.Enqueue(ctx, request("owner/docs", "main"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, request("owner/docs", "dev"))
	require.NoError(t, err)

	jobs, err := q.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second, jobs[0].ID)
	assert.Equal(t, first, jobs[1].ID)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestTruncateLogKeepsTail(t *testing.T) {
	long := make([]byte, maxBuildLogBytes+10)
	for i := range long {
		long[i] = 'a'
	}
	long[len(long)-1] = 'z'

	got := truncateLog(string(long))
	assert.Len(t, got, maxBuildLogBytes)
	assert.Equal(t, byte('z'), got[len(got)-1])
}

func TestTruncateLogCutsOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; the byte cut lands on its second half.
	s := "é" + strings.Repeat("a", maxBuildLogBytes-1)

	got := truncateLog(s)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxBuildLogBytes-1), got)
}
