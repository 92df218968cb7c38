package service

import (
	"context"

	"datavault-go/internal/model"
	"datavault-go/internal/repository"

	"github.com/juju/errors"
)

// AccessLevel 区分读和写。
type AccessLevel int

const (
	AccessRead AccessLevel = iota
	AccessWrite
)

// AccessService 根据节点所属的根判断调用方能否访问。
// 规则：管理员不受限；用户根只对本人开放；集合对创建者可写、公开时所有人可读；
// 公开文件夹所有人可读。user 为 nil 表示匿名调用方。
type AccessService interface {
	User(ctx context.Context, id string) (*model.User, error)
	UserByLogin(ctx context.Context, login string) (*model.User, error)

	CheckRoot(ctx context.Context, user *model.User, root model.RootRef, level AccessLevel) error
	CheckParent(ctx context.Context, user *model.User, parentType model.ResourceType, parentID string, level AccessLevel) error
	CheckFolder(ctx context.Context, user *model.User, folder *model.Folder, level AccessLevel) error
	CheckItem(ctx context.Context, user *model.User, item *model.Item, level AccessLevel) error
	CheckFile(ctx context.Context, user *model.User, file *model.File, level AccessLevel) error
	CheckUpload(user *model.User, upload *model.Upload) error
}

type accessService struct {
	roots   repository.RootRepository
	folders repository.FolderRepository
	items   repository.ItemRepository
}

// NewAccessService 创建一个新的 AccessService 实例。
func NewAccessService(roots repository.RootRepository, folders repository.FolderRepository, items repository.ItemRepository) AccessService {
	return &accessService{roots: roots, folders: folders, items: items}
}

func (s *accessService) User(ctx context.Context, id string) (*model.User, error) {
	return s.roots.FindUser(ctx, id)
}

func (s *accessService) UserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.roots.FindUserByLogin(ctx, login)
}

func denied(user *model.User, what string, args ...interface{}) error {
	if user == nil {
		return errors.Unauthorizedf(what, args...)
	}
	return errors.Forbiddenf(what, args...)
}

func (s *accessService) CheckRoot(ctx context.Context, user *model.User, root model.RootRef, level AccessLevel) error {
	if user != nil && user.Admin {
		return nil
	}
	switch root.Type {
	case model.ResourceUser:
		if user != nil && user.ID == root.ID {
			return nil
		}
		return denied(user, "access to user %s", root.ID)
	case model.ResourceCollection:
		c, err := s.roots.FindCollection(ctx, root.ID)
		if err != nil {
			return err
		}
		if user != nil && c.CreatorID != nil && *c.CreatorID == user.ID {
			return nil
		}
		if level == AccessRead && c.Public {
			return nil
		}
		return denied(user, "access to collection %s", root.ID)
	}
	return errors.NotValidf("root type %q", root.Type)
}

func (s *accessService) CheckParent(ctx context.Context, user *model.User, parentType model.ResourceType, parentID string, level AccessLevel) error {
	switch {
	case parentType.IsRoot():
		return s.CheckRoot(ctx, user, model.RootRef{Type: parentType, ID: parentID}, level)
	case parentType == model.ResourceFolder:
		folder, err := s.folders.FindByID(ctx, parentID)
		if err != nil {
			return err
		}
		return s.CheckFolder(ctx, user, folder, level)
	case parentType == model.ResourceItem:
		item, err := s.items.FindByID(ctx, parentID)
		if err != nil {
			return err
		}
		return s.CheckItem(ctx, user, item, level)
	}
	return errors.NotValidf("parent type %q", parentType)
}

func (s *accessService) CheckFolder(ctx context.Context, user *model.User, folder *model.Folder, level AccessLevel) error {
	if level == AccessRead && folder.Public {
		return nil
	}
	root := folder.BaseParent()
	if root.ID == "" {
		var err error
		if root, err = resolveRoot(ctx, s.folders, folder.ParentType, folder.ParentID, nil); err != nil {
			return err
		}
	}
	return s.CheckRoot(ctx, user, root, level)
}

func (s *accessService) CheckItem(ctx context.Context, user *model.User, item *model.Item, level AccessLevel) error {
	folder, err := s.folders.FindByID(ctx, item.FolderID)
	if err != nil {
		return err
	}
	return s.CheckFolder(ctx, user, folder, level)
}

func (s *accessService) CheckFile(ctx context.Context, user *model.User, file *model.File, level AccessLevel) error {
	if file.ItemID != nil {
		item, err := s.items.FindByID(ctx, *file.ItemID)
		if err != nil {
			return err
		}
		return s.CheckItem(ctx, user, item, level)
	}
	if file.AttachedToID != nil {
		return s.CheckParent(ctx, user, file.AttachedToType, *file.AttachedToID, level)
	}
	// 孤立文件只有管理员能看到
	if user != nil && user.Admin {
		return nil
	}
	return denied(user, "access to file %s", file.ID)
}

// CheckUpload 只允许上传的发起者或管理员继续操作；匿名上传凭 ID 即可操作。
func (s *accessService) CheckUpload(user *model.User, upload *model.Upload) error {
	if upload.UserID == nil {
		return nil
	}
	if user != nil && (user.Admin || user.ID == *upload.UserID) {
		return nil
	}
	return denied(user, "access to upload %s", upload.ID)
}
