// Package task 定义了周期性运行的后台维护任务。
package task

import (
	"context"
	"time"

	"datavault-go/internal/config"
	"datavault-go/internal/service"
	"datavault-go/pkg/log"

	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
)

// jobTimeout 是单次维护任务的最长运行时间。
const jobTimeout = time.Hour

// StaleUploadCleanupJob 取消长时间没有进展的上传并清理其暂存数据。
type StaleUploadCleanupJob struct {
	uploads service.UploadService
	age     time.Duration
}

// NewStaleUploadCleanupJob 创建清理任务，age 为上传被视为遗弃的时长。
func NewStaleUploadCleanupJob(uploads service.UploadService, age time.Duration) *StaleUploadCleanupJob {
	return &StaleUploadCleanupJob{uploads: uploads, age: age}
}

func (j *StaleUploadCleanupJob) Name() string { return "StaleUploadCleanup" }

// Run 实现 cron.Job。
func (j *StaleUploadCleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := j.uploads.CancelStale(ctx, j.age)
	if err != nil {
		log.Errorf("[StaleUploadCleanupJob.Run] 清理遗弃上传失败, canceled: %d, error: %v", n, err)
		return
	}
	log.Infof("[StaleUploadCleanupJob.Run] 清理遗弃上传完成, canceled: %d", n)
}

// RecalculateSizesJob 定期重算所有缓存大小，修正传播中途失败留下的偏差。
type RecalculateSizesJob struct {
	consistency service.ConsistencyService
}

// NewRecalculateSizesJob 创建重算任务。
func NewRecalculateSizesJob(consistency service.ConsistencyService) *RecalculateSizesJob {
	return &RecalculateSizesJob{consistency: consistency}
}

func (j *RecalculateSizesJob) Name() string { return "RecalculateSizes" }

// Run 实现 cron.Job。
func (j *RecalculateSizesJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	fixed, err := j.consistency.RecalculateSizes(ctx, nil)
	if err != nil {
		log.Errorf("[RecalculateSizesJob.Run] 重算大小失败, fixed: %d, error: %v", fixed, err)
		return
	}
	log.Infof("[RecalculateSizesJob.Run] 重算大小完成, fixed: %d", fixed)
}

// Scheduler 封装了 cron 实例和注册在其上的维护任务。
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler 创建调度器并按配置注册任务，表达式为空的任务不启用。
func NewScheduler(cfg config.ScheduleConfig, staleAge time.Duration, uploads service.UploadService, consistency service.ConsistencyService) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(cron.WithLogger(cronLogger{}))}
	if err := s.add(cfg.StaleUploadCleanup, NewStaleUploadCleanupJob(uploads, staleAge)); err != nil {
		return nil, err
	}
	if err := s.add(cfg.RecalculateSizes, NewRecalculateSizesJob(consistency)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(spec string, job namedJob) error {
	if spec == "" {
		log.Infof("[Scheduler] 定时任务未启用, job_name: %s", job.Name())
		return nil
	}
	// 同一任务上一次还没结束时跳过本次
	wrapped := cron.NewChain(
		recoverWrapper(job.Name()),
		cron.SkipIfStillRunning(cronLogger{}),
		loggingWrapper(job.Name()),
	).Then(job)
	if _, err := s.cron.AddJob(spec, wrapped); err != nil {
		return errors.NewNotValid(err, "schedule "+job.Name())
	}
	log.Infof("[Scheduler] 定时任务已注册, job_name: %s, schedule: %s", job.Name(), spec)
	return nil
}

// Entries 返回已注册的任务数。
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start 启动调度器。
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("[Scheduler] 定时任务调度器已启动")
}

// Stop 停止调度器并等待正在运行的任务结束。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Scheduler] 定时任务调度器已停止")
}
