package repository

import (
	"context"
	"encoding/json"
	"time"

	"datavault-go/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/juju/errors"
)

// jobTTL 是任务状态在 Redis 中保留的时长。
const jobTTL = 7 * 24 * time.Hour

// JobRepository 接口定义了长任务进度与取消标记的存储，使用 Redis 实现。
type JobRepository interface {
	Save(ctx context.Context, job *model.Job) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// jobRepository 是 JobRepository 接口的 Redis 实现。
type jobRepository struct {
	redisClient *redis.Client
}

// NewJobRepository 创建一个新的 JobRepository 实例。
func NewJobRepository(redisClient *redis.Client) JobRepository {
	return &jobRepository{redisClient: redisClient}
}

func (r *jobRepository) jobKey(id string) string {
	return "job:" + id
}

func (r *jobRepository) cancelKey(id string) string {
	return "job:" + id + ":cancel"
}

func (r *jobRepository) Save(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, r.jobKey(job.ID), data, jobTTL).Err()
}

func (r *jobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	data, err := r.redisClient.Get(ctx, r.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFoundf("job %s", id)
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) RequestCancel(ctx context.Context, id string) error {
	n, err := r.redisClient.Exists(ctx, r.jobKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFoundf("job %s", id)
	}
	return r.redisClient.Set(ctx, r.cancelKey(id), 1, jobTTL).Err()
}

func (r *jobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, r.cancelKey(id)).Result()
	return n > 0, err
}
