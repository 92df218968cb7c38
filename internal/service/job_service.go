package service

import (
	"context"
	"sync"
	"time"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// cancelPollInterval 是任务检查取消标记的最短间隔。
const cancelPollInterval = time.Second

// JobTracker 是正在运行的任务看到的进度与取消通道。
type JobTracker interface {
	ProgressSink
	// Canceled 返回调用方是否已请求取消任务。
	Canceled() bool
}

// JobFunc 是任务的执行体，返回处理的记录数。响应取消时应返回 assetstore.ErrCanceled。
type JobFunc func(ctx context.Context, tracker JobTracker) (int, error)

// JobService 接口定义了后台长任务的启动、查询和取消。
type JobService interface {
	Start(ctx context.Context, jobType, title, userID string, run JobFunc) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id string) error
	// Wait 阻塞直到所有已启动的任务结束，用于优雅停机和测试。
	Wait()
}

type jobService struct {
	jobs repository.JobRepository
	wg   sync.WaitGroup
}

// NewJobService 创建一个新的 JobService 实例。
func NewJobService(jobs repository.JobRepository) JobService {
	return &jobService{jobs: jobs}
}

func (s *jobService) Start(ctx context.Context, jobType, title, userID string, run JobFunc) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Title:     title,
		UserID:    userID,
		Status:    model.JobQueued,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, errors.Annotate(err, "save job")
	}

	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// 任务的生命周期与发起请求无关
		s.run(context.Background(), &snapshot, run)
	}()
	return job, nil
}

func (s *jobService) run(ctx context.Context, job *model.Job, fn JobFunc) {
	t := &tracker{jobs: s.jobs, job: job, ctx: ctx}
	job.Status = model.JobRunning
	t.save()
	log.Infof("[JobService.run] 任务开始, job_id: %s, type: %s", job.ID, job.Type)

	result, err := fn(ctx, t)

	t.mu.Lock()
	job.Result = result
	switch {
	case errors.Is(err, assetstore.ErrCanceled) || (err == nil && t.canceled):
		job.Status = model.JobCanceled
		job.Message = "canceled"
	case err != nil:
		job.Status = model.JobError
		job.Message = err.Error()
	default:
		job.Status = model.JobSuccess
	}
	t.mu.Unlock()
	t.save()
	log.Infof("[JobService.run] 任务结束, job_id: %s, status: %s, result: %d", job.ID, job.Status, result)
}

func (s *jobService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.FindByID(ctx, id)
}

func (s *jobService) Cancel(ctx context.Context, id string) error {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Done() {
		return errors.NotValidf("cancel finished job %s", id)
	}
	return s.jobs.RequestCancel(ctx, id)
}

func (s *jobService) Wait() {
	s.wg.Wait()
}

type tracker struct {
	jobs repository.JobRepository
	ctx  context.Context

	mu        sync.Mutex
	job       *model.Job
	lastCheck time.Time
	canceled  bool
}

func (t *tracker) Update(current, total int64, message string) {
	t.mu.Lock()
	t.job.Current = current
	t.job.Total = total
	t.job.Message = message
	t.mu.Unlock()
	t.save()
}

func (t *tracker) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled || time.Since(t.lastCheck) < cancelPollInterval {
		return t.canceled
	}
	t.lastCheck = time.Now()
	requested, err := t.jobs.CancelRequested(t.ctx, t.job.ID)
	if err != nil {
		log.Warnf("[JobTracker.Canceled] 读取取消标记失败, job_id: %s, error: %v", t.job.ID, err)
		return false
	}
	t.canceled = requested
	return requested
}

func (t *tracker) save() {
	t.mu.Lock()
	snapshot := *t.job
	t.mu.Unlock()
	if err := t.jobs.Save(t.ctx, &snapshot); err != nil {
		log.Warnf("[JobTracker.save] 保存任务进度失败, job_id: %s, error: %v", snapshot.ID, err)
	}
}
