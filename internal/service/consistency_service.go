package service

import (
	"context"

	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/juju/errors"
)

// ConsistencyService 提供三个可在线运行的修复扫描，每个都返回修正的文档数。
// 扫描逐文档读取后按需写入，不使用事务；单个文档失败只记录日志，不中断扫描。
type ConsistencyService interface {
	// PruneOrphans 删除父节点已不存在的文件夹、Item 和文件（文件的后端数据一并删除）。
	PruneOrphans(ctx context.Context, progress ProgressSink) (int, error)
	// FixBaseParents 沿父链重新计算每个文件夹和 Item 的根节点并修正缓存。
	FixBaseParents(ctx context.Context, progress ProgressSink) (int, error)
	// RecalculateSizes 按文件的真实大小重新计算 Item、文件夹和根节点的缓存大小。
	RecalculateSizes(ctx context.Context, progress ProgressSink) (int, error)
}

type consistencyService struct {
	roots     repository.RootRepository
	folders   repository.FolderRepository
	items     repository.ItemRepository
	files     repository.FileRepository
	hierarchy HierarchyService
	fileSvc   FileService
}

// NewConsistencyService 创建一个新的 ConsistencyService 实例。
func NewConsistencyService(
	roots repository.RootRepository,
	folders repository.FolderRepository,
	items repository.ItemRepository,
	files repository.FileRepository,
	hierarchy HierarchyService,
	fileSvc FileService,
) ConsistencyService {
	return &consistencyService{
		roots:     roots,
		folders:   folders,
		items:     items,
		files:     files,
		hierarchy: hierarchy,
		fileSvc:   fileSvc,
	}
}

func (s *consistencyService) PruneOrphans(ctx context.Context, progress ProgressSink) (int, error) {
	progress = progressOrNop(progress)
	var scanned int64
	pruned := 0

	err := s.folders.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Folder) error {
		for _, f := range batch {
			scanned++
			ok, err := s.parentExists(ctx, f.ParentType, f.ParentID)
			if err != nil {
				log.Warnf("[ConsistencyService.PruneOrphans] 检查文件夹失败, folder_id: %s, error: %v", f.ID, err)
				continue
			}
			if ok {
				continue
			}
			if err := s.hierarchy.DeleteFolder(ctx, f.ID); err != nil {
				if !errors.Is(err, errors.NotFound) {
					log.Warnf("[ConsistencyService.PruneOrphans] 删除孤立文件夹失败, folder_id: %s, error: %v", f.ID, err)
				}
				continue
			}
			pruned++
		}
		progress.Update(scanned, 0, "checking folders")
		return ctx.Err()
	})
	if err != nil {
		return pruned, err
	}

	err = s.items.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Item) error {
		for _, i := range batch {
			scanned++
			ok, err := s.parentExists(ctx, model.ResourceFolder, i.FolderID)
			if err != nil {
				log.Warnf("[ConsistencyService.PruneOrphans] 检查 Item 失败, item_id: %s, error: %v", i.ID, err)
				continue
			}
			if ok {
				continue
			}
			if err := s.hierarchy.DeleteItem(ctx, i.ID); err != nil {
				if !errors.Is(err, errors.NotFound) {
					log.Warnf("[ConsistencyService.PruneOrphans] 删除孤立 Item 失败, item_id: %s, error: %v", i.ID, err)
				}
				continue
			}
			pruned++
		}
		progress.Update(scanned, 0, "checking items")
		return ctx.Err()
	})
	if err != nil {
		return pruned, err
	}

	err = s.files.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.File) error {
		for _, f := range batch {
			scanned++
			var ok bool
			var err error
			switch {
			case f.ItemID != nil:
				ok, err = s.parentExists(ctx, model.ResourceItem, *f.ItemID)
			case f.AttachedToID != nil:
				ok, err = s.parentExists(ctx, f.AttachedToType, *f.AttachedToID)
			}
			if err != nil {
				log.Warnf("[ConsistencyService.PruneOrphans] 检查文件失败, file_id: %s, error: %v", f.ID, err)
				continue
			}
			if ok {
				continue
			}
			if err := s.fileSvc.Remove(ctx, f, false); err != nil {
				log.Warnf("[ConsistencyService.PruneOrphans] 删除孤立文件失败, file_id: %s, error: %v", f.ID, err)
				continue
			}
			pruned++
		}
		progress.Update(scanned, 0, "checking files")
		return ctx.Err()
	})
	if err != nil {
		return pruned, err
	}
	log.Infof("[ConsistencyService.PruneOrphans] 扫描完成, scanned: %d, pruned: %d", scanned, pruned)
	return pruned, nil
}

// parentExists 判断父节点是否存在；NotFound 以外的错误原样返回。
func (s *consistencyService) parentExists(ctx context.Context, t model.ResourceType, id string) (bool, error) {
	var err error
	switch {
	case t == model.ResourceFolder:
		_, err = s.folders.FindByID(ctx, id)
	case t == model.ResourceItem:
		_, err = s.items.FindByID(ctx, id)
	case t.IsRoot():
		_, err = s.roots.Find(ctx, t, id)
	default:
		return false, nil
	}
	if errors.Is(err, errors.NotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *consistencyService) FixBaseParents(ctx context.Context, progress ProgressSink) (int, error) {
	progress = progressOrNop(progress)
	memo := map[string]model.RootRef{}
	var scanned int64
	fixed := 0

	err := s.folders.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Folder) error {
		for _, f := range batch {
			scanned++
			root, err := resolveRoot(ctx, s.folders, f.ParentType, f.ParentID, memo)
			if err != nil {
				log.Warnf("[ConsistencyService.FixBaseParents] 无法确定根节点, folder_id: %s, error: %v", f.ID, err)
				continue
			}
			memo[f.ID] = root
			if f.BaseParentType == root.Type && f.BaseParentID == root.ID {
				continue
			}
			if err := s.folders.SetBaseParent(ctx, []string{f.ID}, root); err != nil {
				log.Warnf("[ConsistencyService.FixBaseParents] 修正文件夹失败, folder_id: %s, error: %v", f.ID, err)
				continue
			}
			fixed++
		}
		progress.Update(scanned, 0, "checking folders")
		return ctx.Err()
	})
	if err != nil {
		return fixed, err
	}

	err = s.items.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Item) error {
		for _, i := range batch {
			scanned++
			root, err := resolveRoot(ctx, s.folders, model.ResourceFolder, i.FolderID, memo)
			if err != nil {
				log.Warnf("[ConsistencyService.FixBaseParents] 无法确定根节点, item_id: %s, error: %v", i.ID, err)
				continue
			}
			if i.BaseParentType == root.Type && i.BaseParentID == root.ID {
				continue
			}
			if err := s.items.SetBaseParent(ctx, []string{i.ID}, root); err != nil {
				log.Warnf("[ConsistencyService.FixBaseParents] 修正 Item 失败, item_id: %s, error: %v", i.ID, err)
				continue
			}
			fixed++
		}
		progress.Update(scanned, 0, "checking items")
		return ctx.Err()
	})
	if err != nil {
		return fixed, err
	}
	log.Infof("[ConsistencyService.FixBaseParents] 扫描完成, scanned: %d, fixed: %d", scanned, fixed)
	return fixed, nil
}

func (s *consistencyService) RecalculateSizes(ctx context.Context, progress ProgressSink) (int, error) {
	progress = progressOrNop(progress)
	var scanned int64
	fixed := 0

	err := s.items.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Item) error {
		for _, i := range batch {
			scanned++
			files, err := s.files.FindByItem(ctx, i.ID)
			if err != nil {
				log.Warnf("[ConsistencyService.RecalculateSizes] 读取文件失败, item_id: %s, error: %v", i.ID, err)
				continue
			}
			var size int64
			for _, f := range files {
				size += f.Size
			}
			if size == i.Size {
				continue
			}
			if err := s.items.SetSize(ctx, i.ID, size); err != nil {
				log.Warnf("[ConsistencyService.RecalculateSizes] 修正 Item 大小失败, item_id: %s, error: %v", i.ID, err)
				continue
			}
			fixed++
		}
		progress.Update(scanned, 0, "recalculating items")
		return ctx.Err()
	})
	if err != nil {
		return fixed, err
	}

	// 根节点的大小是其所有文件夹（各自只统计直接子 Item）大小之和
	rootSizes := map[model.RootRef]int64{}
	memo := map[string]model.RootRef{}
	err = s.folders.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Folder) error {
		for _, f := range batch {
			scanned++
			items, err := s.items.FindByFolder(ctx, f.ID)
			if err != nil {
				log.Warnf("[ConsistencyService.RecalculateSizes] 读取 Item 失败, folder_id: %s, error: %v", f.ID, err)
				continue
			}
			var size int64
			for _, i := range items {
				size += i.Size
			}

			root := model.RootRef{Type: f.BaseParentType, ID: f.BaseParentID}
			if root.ID == "" {
				if root, err = resolveRoot(ctx, s.folders, f.ParentType, f.ParentID, memo); err != nil {
					log.Warnf("[ConsistencyService.RecalculateSizes] 无法确定根节点, folder_id: %s, error: %v", f.ID, err)
				}
			}
			if root.ID != "" {
				rootSizes[root] += size
			}

			if size == f.Size {
				continue
			}
			if err := s.folders.SetSize(ctx, f.ID, size); err != nil {
				log.Warnf("[ConsistencyService.RecalculateSizes] 修正文件夹大小失败, folder_id: %s, error: %v", f.ID, err)
				continue
			}
			fixed++
		}
		progress.Update(scanned, 0, "recalculating folders")
		return ctx.Err()
	})
	if err != nil {
		return fixed, err
	}

	roots, err := s.roots.List(ctx)
	if err != nil {
		return fixed, err
	}
	for _, r := range roots {
		scanned++
		want := rootSizes[model.RootRef{Type: r.Type, ID: r.ID}]
		if want == r.Size {
			continue
		}
		if err := s.roots.SetSize(ctx, r.Type, r.ID, want); err != nil {
			log.Warnf("[ConsistencyService.RecalculateSizes] 修正根节点大小失败, %s: %s, error: %v", r.Type, r.ID, err)
			continue
		}
		fixed++
	}
	progress.Update(scanned, scanned, "done")
	log.Infof("[ConsistencyService.RecalculateSizes] 扫描完成, scanned: %d, fixed: %d", scanned, fixed)
	return fixed, nil
}
