package repository

import (
	"context"

	"datavault-go/internal/model"

	"gorm.io/gorm"
)

// FolderRepository 接口定义了 Folder 的持久化操作。
type FolderRepository interface {
	Create(ctx context.Context, folder *model.Folder) error
	FindByID(ctx context.Context, id string) (*model.Folder, error)
	Update(ctx context.Context, folder *model.Folder) error
	Delete(ctx context.Context, id string) error
	FindChildren(ctx context.Context, parentType model.ResourceType, parentID string) ([]*model.Folder, error)
	// FindByName 查找 parent 下名为 name 的子文件夹，不存在时返回 NotFound。
	FindByName(ctx context.Context, parentType model.ResourceType, parentID, name string) (*model.Folder, error)
	IncrementSize(ctx context.Context, id string, delta int64) error
	SetSize(ctx context.Context, id string, size int64) error
	SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error
	FindInBatches(ctx context.Context, batchSize int, fn func([]*model.Folder) error) error
}

// folderRepository 是 FolderRepository 接口的 GORM 实现。
type folderRepository struct {
	db *gorm.DB
}

// NewFolderRepository 创建一个新的 FolderRepository 实例。
func NewFolderRepository(db *gorm.DB) FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) Create(ctx context.Context, folder *model.Folder) error {
	return r.db.WithContext(ctx).Create(folder).Error
}

func (r *folderRepository) FindByID(ctx context.Context, id string) (*model.Folder, error) {
	var folder model.Folder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&folder).Error; err != nil {
		return nil, translate(err, "folder", id)
	}
	return &folder, nil
}

func (r *folderRepository) Update(ctx context.Context, folder *model.Folder) error {
	return r.db.WithContext(ctx).Save(folder).Error
}

func (r *folderRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Folder{}).Error
}

func (r *folderRepository) FindChildren(ctx context.Context, parentType model.ResourceType, parentID string) ([]*model.Folder, error) {
	var folders []*model.Folder
	err := r.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parentType, parentID).
		Order("name asc").Find(&folders).Error
	return folders, err
}

func (r *folderRepository) FindByName(ctx context.Context, parentType model.ResourceType, parentID, name string) (*model.Folder, error) {
	var folder model.Folder
	err := r.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ? AND name = ?", parentType, parentID, name).
		First(&folder).Error
	if err != nil {
		return nil, translate(err, "folder", name)
	}
	return &folder, nil
}

func (r *folderRepository) IncrementSize(ctx context.Context, id string, delta int64) error {
	res := r.db.WithContext(ctx).Model(&model.Folder{}).Where("id = ?", id).
		UpdateColumn("size", gorm.Expr("size + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "folder", id)
	}
	return nil
}

func (r *folderRepository) SetSize(ctx context.Context, id string, size int64) error {
	return r.db.WithContext(ctx).Model(&model.Folder{}).Where("id = ?", id).UpdateColumn("size", size).Error
}

func (r *folderRepository) SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Folder{}).Where("id IN ?", ids).
		UpdateColumns(map[string]interface{}{
			"base_parent_type": root.Type,
			"base_parent_id":   root.ID,
		}).Error
}

func (r *folderRepository) FindInBatches(ctx context.Context, batchSize int, fn func([]*model.Folder) error) error {
	var batch []*model.Folder
	return r.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
