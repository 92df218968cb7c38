package repository

import (
	"context"
	"time"

	"datavault-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// UploadFilter 是 List 的过滤条件，零值字段不参与过滤。
type UploadFilter struct {
	UploadID     string
	UserID       string
	ParentID     string
	AssetstoreID string
	// MinimumAge 只返回更新时间早于 now-MinimumAge 的上传。
	MinimumAge time.Duration
}

// UploadRepository 接口定义了上传记录相关的数据持久化操作。
type UploadRepository interface {
	Create(ctx context.Context, upload *model.Upload) error
	FindByID(ctx context.Context, id string) (*model.Upload, error)
	Update(ctx context.Context, upload *model.Upload) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter UploadFilter, page Page) ([]*model.Upload, error)

	// AcquireChunkLock 尝试获取上传的分片写入锁（Redis），已被占用时返回 false。
	AcquireChunkLock(ctx context.Context, uploadID string, ttl time.Duration) (bool, error)
	ReleaseChunkLock(ctx context.Context, uploadID string) error
}

// uploadRepository 是 UploadRepository 接口的 GORM+Redis 实现。
type uploadRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB, redisClient *redis.Client) UploadRepository {
	return &uploadRepository{db: db, redisClient: redisClient}
}

// getChunkLockKey 返回分片写入锁在 Redis 中的键。
func (r *uploadRepository) getChunkLockKey(uploadID string) string {
	return "upload:lock:" + uploadID
}

// Create 在数据库中创建一条上传记录。
func (r *uploadRepository) Create(ctx context.Context, upload *model.Upload) error {
	return r.db.WithContext(ctx).Create(upload).Error
}

// FindByID 根据 ID 查找上传记录。
func (r *uploadRepository) FindByID(ctx context.Context, id string) (*model.Upload, error) {
	var upload model.Upload
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&upload).Error
	if err != nil {
		return nil, translate(err, "upload", id)
	}
	return &upload, nil
}

// Update 保存上传记录的全部字段。
func (r *uploadRepository) Update(ctx context.Context, upload *model.Upload) error {
	return r.db.WithContext(ctx).Save(upload).Error
}

// Delete 删除上传记录，记录不存在时返回 NotFound。
func (r *uploadRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Upload{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "upload", id)
	}
	return nil
}

// List 按过滤条件分页列出上传记录。
func (r *uploadRepository) List(ctx context.Context, filter UploadFilter, page Page) ([]*model.Upload, error) {
	q := r.db.WithContext(ctx).Model(&model.Upload{})
	if filter.UploadID != "" {
		q = q.Where("id = ?", filter.UploadID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ParentID != "" {
		q = q.Where("parent_id = ?", filter.ParentID)
	}
	if filter.AssetstoreID != "" {
		q = q.Where("assetstore_id = ?", filter.AssetstoreID)
	}
	if filter.MinimumAge > 0 {
		q = q.Where("updated_at < ?", time.Now().Add(-filter.MinimumAge))
	}
	var uploads []*model.Upload
	err := paginate(q, page).Find(&uploads).Error
	return uploads, err
}

// AcquireChunkLock 使用 SETNX 获取分片写入锁。
func (r *uploadRepository) AcquireChunkLock(ctx context.Context, uploadID string, ttl time.Duration) (bool, error) {
	return r.redisClient.SetNX(ctx, r.getChunkLockKey(uploadID), 1, ttl).Result()
}

// ReleaseChunkLock 释放分片写入锁。
func (r *uploadRepository) ReleaseChunkLock(ctx context.Context, uploadID string) error {
	return r.redisClient.Del(ctx, r.getChunkLockKey(uploadID)).Err()
}
