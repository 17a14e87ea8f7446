package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	redisPopTimeout   = time.Second
	redisHistoryLimit = 200
	redisJobRetention = 7 * 24 * time.Hour
)

// RedisQueue keeps pending descriptors in a redis list and job records in
// per-job hashes. BRPOPLPUSH hands each descriptor to exactly one worker and
// parks it on <key>:processing until Complete.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisQueue, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("redis key is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisQueue{client: client, key: opts.Key}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) jobKey(id string) string { return q.key + ":job:" + id }
func (q *RedisQueue) historyKey() string      { return q.key + ":history" }
func (q *RedisQueue) processingKey() string   { return q.key + ":processing" }

func (q *RedisQueue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	desc := JobDescriptor{
		ID:         uuid.NewString(),
		Repository: req.Repository,
		Branch:     req.Branch,
		OutputPath: req.OutputPath,
		BuildType:  req.BuildType,
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(desc.ID),
			"id", desc.ID,
			"repository", desc.Repository,
			"branch", desc.Branch,
			"output_path", desc.OutputPath,
			"build_type", desc.BuildType,
			"status", string(StatusQueued),
			"submitted_by", req.SubmittedBy,
			"created_at", time.Now().UTC().Format(time.RFC3339Nano),
			"payload", string(payload),
		)
		pipe.LPush(ctx, q.key, payload)
		pipe.LPush(ctx, q.historyKey(), desc.ID)
		pipe.LTrim(ctx, q.historyKey(), 0, redisHistoryLimit-1)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return desc.ID, nil
}

// Dequeue claims the oldest descriptor, waiting up to one second. Returns
// (nil, nil) if nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	raw, err := q.client.BRPopLPush(ctx, q.key, q.processingKey(), redisPopTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return q.claim(ctx, raw)
}

// claim marks a descriptor already moved to the processing list as running.
// Once moved, the job belongs to this caller, so a cancelled ctx or a failed
// status write still yields the job.
func (q *RedisQueue) claim(ctx context.Context, raw string) (*Job, error) {
	ctx = context.WithoutCancel(ctx)

	var desc JobDescriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
		return nil, fmt.Errorf("decode job: %w", err)
	}

	started := time.Now().UTC()
	job := &Job{JobDescriptor: desc, Status: StatusRunning, StartedAt: &started}
	if err := q.client.HSet(ctx, q.jobKey(desc.ID),
		"status", string(StatusRunning),
		"started_at", started.Format(time.RFC3339Nano),
	).Err(); err != nil {
		// Complete writes the final status anyway.
		return job, nil
	}
	if stored, err := q.Get(ctx, desc.ID); err == nil && stored.ID == desc.ID {
		return stored, nil
	}
	return job, nil
}

// Complete records the outcome and releases the job's processing entry.
func (q *RedisQueue) Complete(ctx context.Context, jobID string, out Outcome) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if !out.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", out.Status)
	}

	vals, err := q.client.HMGet(ctx, q.jobKey(jobID), "id", "payload").Result()
	if err != nil {
		return fmt.Errorf("load job for completion: %w", err)
	}
	if vals[0] == nil {
		return ErrJobNotFound
	}
	payload, _ := vals[1].(string)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(jobID),
			"status", string(out.Status),
			"completed_at", time.Now().UTC().Format(time.RFC3339Nano),
			"last_error", out.LastError,
			"build_log", truncateLog(out.BuildLog),
			"site_digest", out.SiteDigest,
		)
		pipe.Expire(ctx, q.jobKey(jobID), redisJobRetention)
		if payload != "" {
			pipe.LRem(ctx, q.processingKey(), 1, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(fields), nil
}

// Recent returns up to limit jobs, newest first.
func (q *RedisQueue) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := q.client.LRange(ctx, q.historyKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *RedisQueue) BuildLog(ctx context.Context, jobID string) (string, error) {
	vals, err := q.client.HMGet(ctx, q.jobKey(jobID), "id", "build_log").Result()
	if err != nil {
		return "", fmt.Errorf("get build log: %w", err)
	}
	if vals[0] == nil {
		return "", ErrJobNotFound
	}
	s, _ := vals[1].(string)
	return s, nil
}

func jobFromHash(f map[string]string) *Job {
	j := &Job{
		JobDescriptor: JobDescriptor{
			ID:         f["id"],
			Repository: f["repository"],
			Branch:     f["branch"],
			OutputPath: f["output_path"],
			BuildType:  f["build_type"],
		},
		Status:      Status(f["status"]),
		SubmittedBy: f["submitted_by"],
	}
	if t, err := time.Parse(time.RFC3339Nano, f["created_at"]); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, f["started_at"]); err == nil {
		j.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, f["completed_at"]); err == nil {
		j.CompletedAt = &t
	}
	if v := f["last_error"]; v != "" {
		j.LastError = &v
	}
	if v := f["site_digest"]; v != "" {
		j.SiteDigest = &v
	}
	return j
}
