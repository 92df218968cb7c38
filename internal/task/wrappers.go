package task

import (
	"runtime/debug"
	"time"

	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// namedJob 是带名字的 cron.Job，名字用于日志。
type namedJob interface {
	cron.Job
	Name() string
}

// loggingWrapper 记录每次执行的开始、结束和耗时，每次执行带一个唯一 ID。
func loggingWrapper(name string) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			executionID := uuid.NewString()
			start := time.Now()
			log.Infow("定时任务开始", "job_name", name, "execution_id", executionID)
			j.Run()
			log.Infow("定时任务结束", "job_name", name, "execution_id", executionID, "duration", time.Since(start).String())
		})
	}
}

// recoverWrapper 防止单个任务的 panic 终止调度器。
func recoverWrapper(name string) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("[Scheduler] 定时任务 panic, job_name: %s, panic: %v\n%s", name, r, debug.Stack())
				}
			}()
			j.Run()
		})
	}
}

// cronLogger 把 cron 内部日志转发到 pkg/log。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("[cron] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("[cron] %s %v, error: %v", msg, keysAndValues, err)
}
