package repository

import (
	"context"

	"datavault-go/internal/model"

	"gorm.io/gorm"
)

// AssetstoreRepository 接口定义了存储配置的持久化操作。
type AssetstoreRepository interface {
	Create(ctx context.Context, store *model.Assetstore) error
	FindByID(ctx context.Context, id string) (*model.Assetstore, error)
	FindByName(ctx context.Context, name string) (*model.Assetstore, error)
	Update(ctx context.Context, store *model.Assetstore) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.Assetstore, error)
	// FindCurrent 返回当前存储，没有时返回 NotFound。
	FindCurrent(ctx context.Context) (*model.Assetstore, error)
	// SetCurrent 在一个事务中清除旧的当前标记并把 id 标记为当前。
	SetCurrent(ctx context.Context, id string) error
}

// assetstoreRepository 是 AssetstoreRepository 接口的 GORM 实现。
type assetstoreRepository struct {
	db *gorm.DB
}

// NewAssetstoreRepository 创建一个新的 AssetstoreRepository 实例。
func NewAssetstoreRepository(db *gorm.DB) AssetstoreRepository {
	return &assetstoreRepository{db: db}
}

func (r *assetstoreRepository) Create(ctx context.Context, store *model.Assetstore) error {
	store.Current = false
	store.CurrentMark = nil
	return r.db.WithContext(ctx).Create(store).Error
}

func (r *assetstoreRepository) FindByID(ctx context.Context, id string) (*model.Assetstore, error) {
	var store model.Assetstore
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&store).Error; err != nil {
		return nil, translate(err, "assetstore", id)
	}
	return &store, nil
}

func (r *assetstoreRepository) FindByName(ctx context.Context, name string) (*model.Assetstore, error) {
	var store model.Assetstore
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&store).Error; err != nil {
		return nil, translate(err, "assetstore", name)
	}
	return &store, nil
}

// Update 保存配置字段，不修改当前标记（当前标记只能通过 SetCurrent 变更）。
func (r *assetstoreRepository) Update(ctx context.Context, store *model.Assetstore) error {
	return r.db.WithContext(ctx).Model(store).Omit("current", "current_mark").Save(store).Error
}

func (r *assetstoreRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Assetstore{}).Error
}

func (r *assetstoreRepository) List(ctx context.Context) ([]*model.Assetstore, error) {
	var stores []*model.Assetstore
	err := r.db.WithContext(ctx).Order("created_at asc").Find(&stores).Error
	return stores, err
}

func (r *assetstoreRepository) FindCurrent(ctx context.Context) (*model.Assetstore, error) {
	var store model.Assetstore
	if err := r.db.WithContext(ctx).Where("current_mark = ?", 1).First(&store).Error; err != nil {
		return nil, translate(err, "assetstore", "current")
	}
	return &store, nil
}

func (r *assetstoreRepository) SetCurrent(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Assetstore{}).Where("current_mark = ? AND id <> ?", 1, id).
			UpdateColumns(map[string]interface{}{"current": false, "current_mark": nil}).Error; err != nil {
			return err
		}
		one := int8(1)
		res := tx.Model(&model.Assetstore{}).Where("id = ?", id).
			UpdateColumns(map[string]interface{}{"current": true, "current_mark": &one})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// MySQL 在值未变化时 RowsAffected 为 0，需要再确认记录是否存在
			var n int64
			if err := tx.Model(&model.Assetstore{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return translate(gorm.ErrRecordNotFound, "assetstore", id)
			}
		}
		return nil
	})
}
