package service

import (
	"context"

	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/juju/errors"
)

// SizePropagator 在文件大小变化时更新祖先节点的缓存大小。
//
// 三次自增（Item、直接父 Folder、根节点）是彼此独立的单记录原子更新，
// 不在同一个事务中。中途失败会让大小暂时不一致，由 ConsistencyService.RecalculateSizes 修复。
// Folder.Size 只统计直接子 Item，根节点的大小统计整棵子树。
type SizePropagator interface {
	// Propagate 把 delta 依次加到 item（skipItem 为 true 时跳过）、item 所在文件夹和根节点上。
	Propagate(ctx context.Context, item *model.Item, delta int64, skipItem bool) error
	// PropagateToRoot 只调整根节点的大小，用于移动整个文件夹子树。
	PropagateToRoot(ctx context.Context, root model.RootRef, delta int64) error
}

type sizePropagator struct {
	items   repository.ItemRepository
	folders repository.FolderRepository
	roots   repository.RootRepository
}

// NewSizePropagator 创建一个新的 SizePropagator 实例。
func NewSizePropagator(items repository.ItemRepository, folders repository.FolderRepository, roots repository.RootRepository) SizePropagator {
	return &sizePropagator{items: items, folders: folders, roots: roots}
}

func (p *sizePropagator) Propagate(ctx context.Context, item *model.Item, delta int64, skipItem bool) error {
	if delta == 0 || item == nil {
		return nil
	}
	if !skipItem {
		if err := tolerateMissing(p.items.IncrementSize(ctx, item.ID, delta)); err != nil {
			return errors.Annotatef(err, "increment size of item %s", item.ID)
		}
	}
	if item.FolderID != "" {
		if err := tolerateMissing(p.folders.IncrementSize(ctx, item.FolderID, delta)); err != nil {
			return errors.Annotatef(err, "increment size of folder %s", item.FolderID)
		}
	}
	return p.PropagateToRoot(ctx, item.BaseParent(), delta)
}

func (p *sizePropagator) PropagateToRoot(ctx context.Context, root model.RootRef, delta int64) error {
	if delta == 0 || !root.Type.IsRoot() || root.ID == "" {
		return nil
	}
	if err := tolerateMissing(p.roots.IncrementSize(ctx, root.Type, root.ID, delta)); err != nil {
		return errors.Annotatef(err, "increment size of %s %s", root.Type, root.ID)
	}
	return nil
}

// tolerateMissing 忽略祖先已被并发删除的情况。
func tolerateMissing(err error) error {
	if errors.Is(err, errors.NotFound) {
		log.Debugf("[SizePropagator] 祖先节点不存在，跳过: %v", err)
		return nil
	}
	return err
}
