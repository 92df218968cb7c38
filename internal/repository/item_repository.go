package repository

import (
	"context"

	"datavault-go/internal/model"

	"gorm.io/gorm"
)

// ItemRepository 接口定义了 Item 的持久化操作。
type ItemRepository interface {
	Create(ctx context.Context, item *model.Item) error
	FindByID(ctx context.Context, id string) (*model.Item, error)
	Update(ctx context.Context, item *model.Item) error
	Delete(ctx context.Context, id string) error
	FindByFolder(ctx context.Context, folderID string) ([]*model.Item, error)
	// IncrementSize 是单条记录上的原子自增（size = size + delta）。
	IncrementSize(ctx context.Context, id string, delta int64) error
	SetSize(ctx context.Context, id string, size int64) error
	SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error
	// SetBaseParentByFolders 把 folderIDs 下所有 Item 的根节点改为 root。
	SetBaseParentByFolders(ctx context.Context, folderIDs []string, root model.RootRef) error
	FindInBatches(ctx context.Context, batchSize int, fn func([]*model.Item) error) error
}

// itemRepository 是 ItemRepository 接口的 GORM 实现。
type itemRepository struct {
	db *gorm.DB
}

// NewItemRepository 创建一个新的 ItemRepository 实例。
func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) Create(ctx context.Context, item *model.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *itemRepository) FindByID(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err, "item", id)
	}
	return &item, nil
}

func (r *itemRepository) Update(ctx context.Context, item *model.Item) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *itemRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Item{}).Error
}

func (r *itemRepository) FindByFolder(ctx context.Context, folderID string) ([]*model.Item, error) {
	var items []*model.Item
	err := r.db.WithContext(ctx).Where("folder_id = ?", folderID).Order("name asc").Find(&items).Error
	return items, err
}

func (r *itemRepository) IncrementSize(ctx context.Context, id string, delta int64) error {
	res := r.db.WithContext(ctx).Model(&model.Item{}).Where("id = ?", id).
		UpdateColumn("size", gorm.Expr("size + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "item", id)
	}
	return nil
}

func (r *itemRepository) SetSize(ctx context.Context, id string, size int64) error {
	return r.db.WithContext(ctx).Model(&model.Item{}).Where("id = ?", id).UpdateColumn("size", size).Error
}

func (r *itemRepository) SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Item{}).Where("id IN ?", ids).
		UpdateColumns(map[string]interface{}{
			"base_parent_type": root.Type,
			"base_parent_id":   root.ID,
		}).Error
}

func (r *itemRepository) SetBaseParentByFolders(ctx context.Context, folderIDs []string, root model.RootRef) error {
	if len(folderIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Item{}).Where("folder_id IN ?", folderIDs).
		UpdateColumns(map[string]interface{}{
			"base_parent_type": root.Type,
			"base_parent_id":   root.ID,
		}).Error
}

func (r *itemRepository) FindInBatches(ctx context.Context, batchSize int, fn func([]*model.Item) error) error {
	var batch []*model.Item
	return r.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
