package repository

import (
	"context"

	"datavault-go/internal/model"

	"gorm.io/gorm"
)

// FileRepository 接口定义了文件记录的持久化操作。
// 它同时满足 assetstore.FileIndex，供适配器查询引用计数。
type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	FindByID(ctx context.Context, id string) (*model.File, error)
	Update(ctx context.Context, file *model.File) error
	Delete(ctx context.Context, id string) error
	FindByItem(ctx context.Context, itemID string) ([]*model.File, error)
	FindAttachedTo(ctx context.Context, resourceType model.ResourceType, resourceID string) ([]*model.File, error)
	CountByAssetstore(ctx context.Context, assetstoreID string) (int64, error)
	CountByHash(ctx context.Context, assetstoreID, sha512, excludeID string) (int64, error)
	ExistsByPath(ctx context.Context, assetstoreID, path string) (bool, error)
	// FindInBatches 按批遍历全部文件，fn 返回错误时停止。
	FindInBatches(ctx context.Context, batchSize int, fn func([]*model.File) error) error
}

// fileRepository 是 FileRepository 接口的 GORM 实现。
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *model.File) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *fileRepository) FindByID(ctx context.Context, id string) (*model.File, error) {
	var file model.File
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		return nil, translate(err, "file", id)
	}
	return &file, nil
}

func (r *fileRepository) Update(ctx context.Context, file *model.File) error {
	return r.db.WithContext(ctx).Save(file).Error
}

func (r *fileRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.File{}).Error
}

func (r *fileRepository) FindByItem(ctx context.Context, itemID string) ([]*model.File, error) {
	var files []*model.File
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("created_at asc").Find(&files).Error
	return files, err
}

func (r *fileRepository) FindAttachedTo(ctx context.Context, resourceType model.ResourceType, resourceID string) ([]*model.File, error) {
	var files []*model.File
	err := r.db.WithContext(ctx).
		Where("attached_to_type = ? AND attached_to_id = ?", resourceType, resourceID).
		Find(&files).Error
	return files, err
}

func (r *fileRepository) CountByAssetstore(ctx context.Context, assetstoreID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.File{}).Where("assetstore_id = ?", assetstoreID).Count(&n).Error
	return n, err
}

// CountByHash 统计引用同一内容的文件数，导入的文件不计入。
func (r *fileRepository) CountByHash(ctx context.Context, assetstoreID, sha512, excludeID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.File{}).
		Where("assetstore_id = ? AND sha512 = ? AND imported = ? AND id <> ?", assetstoreID, sha512, false, excludeID).
		Count(&n).Error
	return n, err
}

func (r *fileRepository) ExistsByPath(ctx context.Context, assetstoreID, path string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.File{}).
		Where("assetstore_id = ? AND path = ?", assetstoreID, path).
		Limit(1).Count(&n).Error
	return n > 0, err
}

func (r *fileRepository) FindInBatches(ctx context.Context, batchSize int, fn func([]*model.File) error) error {
	var batch []*model.File
	return r.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
