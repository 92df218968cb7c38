package repository

import (
	"context"

	"datavault-go/internal/model"

	"github.com/juju/errors"
	"gorm.io/gorm"
)

// RootRepository 接口定义了层级树根节点（用户和集合）的持久化操作。
type RootRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateCollection(ctx context.Context, collection *model.Collection) error
	FindCollection(ctx context.Context, id string) (*model.Collection, error)
	// Find 返回根节点的引用（含缓存大小），不存在时返回 NotFound。
	Find(ctx context.Context, rootType model.ResourceType, id string) (model.RootRef, error)
	IncrementSize(ctx context.Context, rootType model.ResourceType, id string, delta int64) error
	SetSize(ctx context.Context, rootType model.ResourceType, id string, size int64) error
	// List 返回所有根节点。
	List(ctx context.Context) ([]model.RootRef, error)
}

// rootRepository 是 RootRepository 接口的 GORM 实现。
type rootRepository struct {
	db *gorm.DB
}

// NewRootRepository 创建一个新的 RootRepository 实例。
func NewRootRepository(db *gorm.DB) RootRepository {
	return &rootRepository{db: db}
}

// modelFor 返回根类型对应的 GORM 模型。
func modelFor(rootType model.ResourceType) (interface{}, error) {
	switch rootType {
	case model.ResourceUser:
		return &model.User{}, nil
	case model.ResourceCollection:
		return &model.Collection{}, nil
	}
	return nil, errors.NotValidf("root type %q", rootType)
}

func (r *rootRepository) CreateUser(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *rootRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err, "user", id)
	}
	return &user, nil
}

func (r *rootRepository) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("login = ?", login).First(&user).Error; err != nil {
		return nil, translate(err, "user", login)
	}
	return &user, nil
}

func (r *rootRepository) CreateCollection(ctx context.Context, collection *model.Collection) error {
	return r.db.WithContext(ctx).Create(collection).Error
}

func (r *rootRepository) FindCollection(ctx context.Context, id string) (*model.Collection, error) {
	var c model.Collection
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err, "collection", id)
	}
	return &c, nil
}

func (r *rootRepository) Find(ctx context.Context, rootType model.ResourceType, id string) (model.RootRef, error) {
	m, err := modelFor(rootType)
	if err != nil {
		return model.RootRef{}, err
	}
	var row struct{ Size int64 }
	err = r.db.WithContext(ctx).Model(m).Select("size").Where("id = ?", id).Take(&row).Error
	if err != nil {
		return model.RootRef{}, translate(err, string(rootType), id)
	}
	return model.RootRef{Type: rootType, ID: id, Size: row.Size}, nil
}

func (r *rootRepository) IncrementSize(ctx context.Context, rootType model.ResourceType, id string, delta int64) error {
	m, err := modelFor(rootType)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(m).Where("id = ?", id).UpdateColumn("size", gorm.Expr("size + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, string(rootType), id)
	}
	return nil
}

func (r *rootRepository) SetSize(ctx context.Context, rootType model.ResourceType, id string, size int64) error {
	m, err := modelFor(rootType)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(m).Where("id = ?", id).UpdateColumn("size", size).Error
}

func (r *rootRepository) List(ctx context.Context) ([]model.RootRef, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Select("id", "size").Find(&users).Error; err != nil {
		return nil, err
	}
	var collections []model.Collection
	if err := r.db.WithContext(ctx).Select("id", "size").Find(&collections).Error; err != nil {
		return nil, err
	}
	roots := make([]model.RootRef, 0, len(users)+len(collections))
	for _, u := range users {
		roots = append(roots, model.RootRef{Type: model.ResourceUser, ID: u.ID, Size: u.Size})
	}
	for _, c := range collections {
		roots = append(roots, model.RootRef{Type: model.ResourceCollection, ID: c.ID, Size: c.Size})
	}
	return roots, nil
}
