package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/model"
)

const keyPrefix = "job:"

// claimScript atomically flips a pending job to processing for the
// given task id. A job already processing under the same task id is a
// retry attempt by the claim holder and passes; anything else is
// rejected so at most one worker ever executes a given job.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return redis.error_reply('job not found')
end
local job = cjson.decode(raw)
if job['status'] == 'pending' then
  job['status'] = 'processing'
  job['taskId'] = ARGV[1]
  job['startedAt'] = ARGV[2]
elseif not (job['status'] == 'processing' and job['taskId'] == ARGV[1]) then
  return redis.error_reply('job already claimed')
end
raw = cjson.encode(job)
redis.call('SET', KEYS[1], raw, 'KEEPTTL')
return raw
`)

// RedisStore keeps job records as JSON under job:<id> keys.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed job store. Records are retained
// for the given duration after their last write.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func jobKey(jobID string) string {
	return keyPrefix + jobID
}

// Create persists a new pending job record.
func (s *RedisStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, jobKey(job.ID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get reads the durable snapshot for a job.
func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Delete removes a job record.
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobKey(jobID)).Err()
}

// Session acquires a dedicated connection for one execution attempt.
func (s *RedisStore) Session(ctx context.Context) (Session, error) {
	conn := s.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}
	return &redisSession{conn: conn}, nil
}

type redisSession struct {
	conn *redis.Conn
}

func (s *redisSession) Close() error {
	return s.conn.Close()
}

func (s *redisSession) Claim(ctx context.Context, jobID, taskID string) (*model.Job, error) {
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)
	raw, err := claimScript.Run(ctx, s.conn, []string{jobKey(jobID)}, taskID, startedAt).Text()
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrNotFound
		}
		if strings.Contains(err.Error(), "already claimed") {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claimed job: %w", err)
	}
	return &job, nil
}

func (s *redisSession) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusProcessing {
		return ErrInvalidTransition
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Message = message
	return s.save(ctx, job)
}

func (s *redisSession) IncrementAttempt(ctx context.Context, jobID string) (int, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return 0, err
	}
	job.AttemptCount++
	if err := s.save(ctx, job); err != nil {
		return 0, err
	}
	return job.AttemptCount, nil
}

func (s *redisSession) Complete(ctx context.Context, jobID string, artifact *model.Artifact) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(model.JobStatusCompleted) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = artifact
	job.Error = nil
	job.CompletedAt = &now
	return s.save(ctx, job)
}

func (s *redisSession) Fail(ctx context.Context, jobID string, jobErr *model.JobError) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(model.JobStatusFailed) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Error = jobErr
	job.Result = nil
	job.CompletedAt = &now
	return s.save(ctx, job)
}

func (s *redisSession) get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.conn.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *redisSession) save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.conn.Set(ctx, jobKey(job.ID), data, redis.KeepTTL).Err()
}
