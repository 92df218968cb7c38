package model

import "time"

// JobStatus 是长任务的状态。
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobSuccess  JobStatus = "success"
	JobError    JobStatus = "error"
	JobCanceled JobStatus = "canceled"
)

// Job 记录一次长任务（一致性检查、数据导入）的进度，保存在 Redis 中而非数据库表。
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId,omitempty"`
	Status    JobStatus `json:"status"`
	Current   int64     `json:"current"`
	Total     int64     `json:"total"`
	Message   string    `json:"message,omitempty"`
	Result    int       `json:"result"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
}

// Done 判断任务是否已结束。
func (j *Job) Done() bool {
	return j.Status == JobSuccess || j.Status == JobError || j.Status == JobCanceled
}
