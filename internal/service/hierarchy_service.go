package service

import (
	"context"
	"strings"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// FolderRequest 是创建文件夹的参数。
type FolderRequest struct {
	ParentType  model.ResourceType
	ParentID    string
	Name        string
	Description string
	Public      bool
	CreatorID   *string
}

// FolderContents 是一个文件夹的直接子节点。
type FolderContents struct {
	Folder  *model.Folder
	Folders []*model.Folder
	Items   []*model.Item
}

// HierarchyService 接口定义了 User/Collection/Folder/Item 层级树上的操作。
// 所有改变文件归属的操作都通过 SizePropagator 维护缓存大小。
type HierarchyService interface {
	CreateUser(ctx context.Context, login string, admin bool) (*model.User, error)
	CreateCollection(ctx context.Context, name, description string, public bool, creatorID *string) (*model.Collection, error)
	CreateFolder(ctx context.Context, req FolderRequest) (*model.Folder, error)
	CreateItem(ctx context.Context, folderID, name, description string, creatorID *string) (*model.Item, error)

	GetRoot(ctx context.Context, rootType model.ResourceType, id string) (model.RootRef, error)
	GetFolder(ctx context.Context, id string) (*model.Folder, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListFolder(ctx context.Context, id string) (*FolderContents, error)
	ListItemFiles(ctx context.Context, itemID string) ([]*model.File, error)

	MoveItem(ctx context.Context, itemID, destFolderID string) (*model.Item, error)
	MoveFolder(ctx context.Context, folderID string, parentType model.ResourceType, parentID string) (*model.Folder, error)
	CopyItem(ctx context.Context, itemID, destFolderID string, creatorID *string) (*model.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
	DeleteFolder(ctx context.Context, folderID string) error

	// MigrateBaseParents 为缺少根节点缓存的旧文档补齐字段，返回修改的文档数。
	MigrateBaseParents(ctx context.Context) (int, error)
	// ImportSink 返回把导入内容登记到层级树上的 assetstore.ImportSink。
	ImportSink(creatorID *string) assetstore.ImportSink
}

type hierarchyService struct {
	roots   repository.RootRepository
	folders repository.FolderRepository
	items   repository.ItemRepository
	files   repository.FileRepository
	fileSvc FileService
	sizes   SizePropagator
}

// NewHierarchyService 创建一个新的 HierarchyService 实例。
func NewHierarchyService(
	roots repository.RootRepository,
	folders repository.FolderRepository,
	items repository.ItemRepository,
	files repository.FileRepository,
	fileSvc FileService,
	sizes SizePropagator,
) HierarchyService {
	return &hierarchyService{
		roots:   roots,
		folders: folders,
		items:   items,
		files:   files,
		fileSvc: fileSvc,
		sizes:   sizes,
	}
}

func (s *hierarchyService) CreateUser(ctx context.Context, login string, admin bool) (*model.User, error) {
	if strings.TrimSpace(login) == "" {
		return nil, errors.NotValidf("empty login")
	}
	if _, err := s.roots.FindUserByLogin(ctx, login); err == nil {
		return nil, errors.AlreadyExistsf("user %q", login)
	} else if !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	user := &model.User{ID: uuid.NewString(), Login: login, Admin: admin}
	if err := s.roots.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *hierarchyService) CreateCollection(ctx context.Context, name, description string, public bool, creatorID *string) (*model.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.NotValidf("empty collection name")
	}
	c := &model.Collection{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Public:      public,
		CreatorID:   creatorID,
	}
	if err := s.roots.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *hierarchyService) CreateFolder(ctx context.Context, req FolderRequest) (*model.Folder, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NotValidf("empty folder name")
	}
	root, err := s.rootForNewChild(ctx, req.ParentType, req.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkFolderName(ctx, req.ParentType, req.ParentID, req.Name, ""); err != nil {
		return nil, err
	}

	folder := &model.Folder{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		ParentType:     req.ParentType,
		ParentID:       req.ParentID,
		BaseParentType: root.Type,
		BaseParentID:   root.ID,
		Public:         req.Public,
		CreatorID:      req.CreatorID,
	}
	if err := s.folders.Create(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

func (s *hierarchyService) CreateItem(ctx context.Context, folderID, name, description string, creatorID *string) (*model.Item, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.NotValidf("empty item name")
	}
	folder, err := s.folders.FindByID(ctx, folderID)
	if err != nil {
		return nil, err
	}
	item, err := newItemIn(ctx, s.items, folder, name, creatorID)
	if err != nil {
		return nil, err
	}
	if description != "" {
		item.Description = description
		if err := s.items.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (s *hierarchyService) GetRoot(ctx context.Context, rootType model.ResourceType, id string) (model.RootRef, error) {
	return s.roots.Find(ctx, rootType, id)
}

func (s *hierarchyService) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	return s.folders.FindByID(ctx, id)
}

func (s *hierarchyService) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return s.items.FindByID(ctx, id)
}

func (s *hierarchyService) ListFolder(ctx context.Context, id string) (*FolderContents, error) {
	folder, err := s.folders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.folders.FindChildren(ctx, model.ResourceFolder, id)
	if err != nil {
		return nil, err
	}
	items, err := s.items.FindByFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &FolderContents{Folder: folder, Folders: children, Items: items}, nil
}

func (s *hierarchyService) ListItemFiles(ctx context.Context, itemID string) ([]*model.File, error) {
	if _, err := s.items.FindByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.files.FindByItem(ctx, itemID)
}

func (s *hierarchyService) MoveItem(ctx context.Context, itemID, destFolderID string) (*model.Item, error) {
	item, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.FolderID == destFolderID {
		return item, nil
	}
	dest, err := s.folders.FindByID(ctx, destFolderID)
	if err != nil {
		return nil, err
	}
	if dest.IsVirtual {
		return nil, errors.NotValidf("virtual folder %s cannot contain items", dest.ID)
	}

	// 先从旧链路上减去，再加到新链路上；Item 自身的大小不变
	if err := s.sizes.Propagate(ctx, item, -item.Size, true); err != nil {
		return nil, errors.Annotate(err, "remove item size from old parents")
	}
	item.FolderID = dest.ID
	item.BaseParentType = dest.BaseParentType
	item.BaseParentID = dest.BaseParentID
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	if err := s.sizes.Propagate(ctx, item, item.Size, true); err != nil {
		return nil, errors.Annotate(err, "add item size to new parents")
	}
	log.Infof("[HierarchyService.MoveItem] Item 移动成功, item_id: %s, folder_id: %s", item.ID, dest.ID)
	return item, nil
}

func (s *hierarchyService) MoveFolder(ctx context.Context, folderID string, parentType model.ResourceType, parentID string) (*model.Folder, error) {
	folder, err := s.folders.FindByID(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder.ParentType == parentType && folder.ParentID == parentID {
		return folder, nil
	}
	newRoot, err := s.rootForNewChild(ctx, parentType, parentID)
	if err != nil {
		return nil, err
	}
	if parentType == model.ResourceFolder {
		inside, err := s.isInSubtree(ctx, parentID, folder.ID)
		if err != nil {
			return nil, err
		}
		if inside {
			return nil, errors.NotValidf("move folder %s into its own subtree", folder.ID)
		}
	}
	if err := s.checkFolderName(ctx, parentType, parentID, folder.Name, folder.ID); err != nil {
		return nil, err
	}

	subtree, err := s.subtreeFolders(ctx, folder)
	if err != nil {
		return nil, err
	}
	var subtreeSize int64
	ids := make([]string, 0, len(subtree))
	for _, f := range subtree {
		subtreeSize += f.Size
		ids = append(ids, f.ID)
	}

	oldRoot := folder.BaseParent()
	folder.ParentType = parentType
	folder.ParentID = parentID
	folder.BaseParentType = newRoot.Type
	folder.BaseParentID = newRoot.ID
	if err := s.folders.Update(ctx, folder); err != nil {
		return nil, err
	}

	if oldRoot.Type != newRoot.Type || oldRoot.ID != newRoot.ID {
		if err := s.folders.SetBaseParent(ctx, ids, newRoot); err != nil {
			return nil, errors.Annotate(err, "update base parent of subfolders")
		}
		if err := s.items.SetBaseParentByFolders(ctx, ids, newRoot); err != nil {
			return nil, errors.Annotate(err, "update base parent of items")
		}
		if err := s.sizes.PropagateToRoot(ctx, oldRoot, -subtreeSize); err != nil {
			return nil, err
		}
		if err := s.sizes.PropagateToRoot(ctx, newRoot, subtreeSize); err != nil {
			return nil, err
		}
	}
	log.Infof("[HierarchyService.MoveFolder] 文件夹移动成功, folder_id: %s, parent: %s/%s", folder.ID, parentType, parentID)
	return folder, nil
}

func (s *hierarchyService) CopyItem(ctx context.Context, itemID, destFolderID string, creatorID *string) (*model.Item, error) {
	src, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	dest, err := s.folders.FindByID(ctx, destFolderID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.FindByItem(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	item, err := newItemIn(ctx, s.items, dest, src.Name, creatorID)
	if err != nil {
		return nil, err
	}
	if src.Description != "" {
		item.Description = src.Description
		if err := s.items.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		if _, err := s.fileSvc.CopyFile(ctx, f, item, creatorID); err != nil {
			return nil, errors.Annotatef(err, "copy file %s", f.ID)
		}
	}
	return s.items.FindByID(ctx, item.ID)
}

func (s *hierarchyService) DeleteItem(ctx context.Context, itemID string) error {
	item, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return err
	}
	return s.deleteItem(ctx, item)
}

func (s *hierarchyService) deleteItem(ctx context.Context, item *model.Item) error {
	files, err := s.files.FindByItem(ctx, item.ID)
	if err != nil {
		return err
	}
	// Item 即将被删除，文件逐个删除时不再传播，最后一次性减去 Item 的大小
	for _, f := range files {
		if err := s.fileSvc.Remove(ctx, f, false); err != nil {
			return errors.Annotatef(err, "remove file %s", f.ID)
		}
	}
	if err := s.removeAttached(ctx, model.ResourceItem, item.ID); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, item.ID); err != nil {
		return err
	}
	if err := s.sizes.Propagate(ctx, item, -item.Size, true); err != nil {
		log.Warnf("[HierarchyService.deleteItem] 大小传播失败, item_id: %s, error: %v", item.ID, err)
	}
	return nil
}

func (s *hierarchyService) DeleteFolder(ctx context.Context, folderID string) error {
	folder, err := s.folders.FindByID(ctx, folderID)
	if err != nil {
		return err
	}
	return s.deleteFolder(ctx, folder)
}

func (s *hierarchyService) deleteFolder(ctx context.Context, folder *model.Folder) error {
	children, err := s.folders.FindChildren(ctx, model.ResourceFolder, folder.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.deleteFolder(ctx, child); err != nil {
			return err
		}
	}
	items, err := s.items.FindByFolder(ctx, folder.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.deleteItem(ctx, item); err != nil {
			return err
		}
	}
	if err := s.removeAttached(ctx, model.ResourceFolder, folder.ID); err != nil {
		return err
	}
	if err := s.folders.Delete(ctx, folder.ID); err != nil {
		return err
	}
	log.Infof("[HierarchyService.deleteFolder] 文件夹已删除, folder_id: %s", folder.ID)
	return nil
}

// removeAttached 删除直接挂在资源上的文件，这些文件不计入层级大小。
func (s *hierarchyService) removeAttached(ctx context.Context, t model.ResourceType, id string) error {
	attached, err := s.files.FindAttachedTo(ctx, t, id)
	if err != nil {
		return err
	}
	for _, f := range attached {
		if err := s.fileSvc.Remove(ctx, f, false); err != nil {
			return errors.Annotatef(err, "remove attached file %s", f.ID)
		}
	}
	return nil
}

func (s *hierarchyService) MigrateBaseParents(ctx context.Context) (int, error) {
	memo := map[string]model.RootRef{}
	fixed := 0

	err := s.folders.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Folder) error {
		for _, f := range batch {
			if f.BaseParentID != "" {
				continue
			}
			var parent *model.Folder
			if f.ParentType == model.ResourceFolder {
				p, err := s.folderWithRoot(ctx, f.ParentID, memo)
				if err != nil {
					log.Warnf("[HierarchyService.MigrateBaseParents] 无法确定根节点, folder_id: %s, error: %v", f.ID, err)
					continue
				}
				parent = p
			}
			migrated := EnsureFolderDerivedFields(*f, parent)
			if migrated.BaseParentID == "" {
				continue
			}
			if err := s.folders.Update(ctx, &migrated); err != nil {
				return err
			}
			memo[f.ID] = migrated.BaseParent()
			fixed++
		}
		return nil
	})
	if err != nil {
		return fixed, errors.Annotate(err, "migrate folders")
	}

	err = s.items.FindInBatches(ctx, repository.DefaultBatchSize, func(batch []*model.Item) error {
		for _, i := range batch {
			if i.BaseParentID != "" {
				continue
			}
			folder, err := s.folderWithRoot(ctx, i.FolderID, memo)
			if err != nil {
				log.Warnf("[HierarchyService.MigrateBaseParents] 无法确定根节点, item_id: %s, error: %v", i.ID, err)
				continue
			}
			migrated := EnsureItemDerivedFields(*i, folder)
			if migrated.BaseParentID == "" {
				continue
			}
			if err := s.items.Update(ctx, &migrated); err != nil {
				return err
			}
			fixed++
		}
		return nil
	})
	if err != nil {
		return fixed, errors.Annotate(err, "migrate items")
	}
	if fixed > 0 {
		log.Infof("[HierarchyService.MigrateBaseParents] 已补齐根节点缓存, count: %d", fixed)
	}
	return fixed, nil
}

// folderWithRoot 加载文件夹，并在缺少根节点缓存时沿父链计算出来（只填入返回值，不写库）。
func (s *hierarchyService) folderWithRoot(ctx context.Context, id string, memo map[string]model.RootRef) (*model.Folder, error) {
	f, err := s.folders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.BaseParentID != "" {
		return f, nil
	}
	root, err := resolveRoot(ctx, s.folders, model.ResourceFolder, id, memo)
	if err != nil {
		return nil, err
	}
	f.BaseParentType = root.Type
	f.BaseParentID = root.ID
	return f, nil
}

// rootForNewChild 校验父节点可以容纳子文件夹，并返回新子节点的根。
func (s *hierarchyService) rootForNewChild(ctx context.Context, parentType model.ResourceType, parentID string) (model.RootRef, error) {
	switch {
	case parentType.IsRoot():
		if _, err := s.roots.Find(ctx, parentType, parentID); err != nil {
			return model.RootRef{}, err
		}
		return model.RootRef{Type: parentType, ID: parentID}, nil
	case parentType == model.ResourceFolder:
		parent, err := s.folders.FindByID(ctx, parentID)
		if err != nil {
			return model.RootRef{}, err
		}
		if parent.IsVirtual {
			return model.RootRef{}, errors.NotValidf("virtual folder %s cannot contain folders", parent.ID)
		}
		return parent.BaseParent(), nil
	default:
		return model.RootRef{}, errors.NotValidf("folder parent type %q", parentType)
	}
}

func (s *hierarchyService) checkFolderName(ctx context.Context, parentType model.ResourceType, parentID, name, selfID string) error {
	existing, err := s.folders.FindByName(ctx, parentType, parentID, name)
	switch {
	case errors.Is(err, errors.NotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return errors.AlreadyExistsf("folder %q under %s %s", name, parentType, parentID)
	}
	return nil
}

// isInSubtree 判断 folderID 是否等于 ancestorID 或位于其子树中。
func (s *hierarchyService) isInSubtree(ctx context.Context, folderID, ancestorID string) (bool, error) {
	seen := map[string]bool{}
	id := folderID
	for {
		if id == ancestorID {
			return true, nil
		}
		if seen[id] {
			return false, errors.NotValidf("cycle in folder ancestry at %s", id)
		}
		seen[id] = true
		f, err := s.folders.FindByID(ctx, id)
		if err != nil {
			return false, err
		}
		if f.ParentType != model.ResourceFolder {
			return false, nil
		}
		id = f.ParentID
	}
}

// subtreeFolders 返回 root 及其所有后代文件夹。
func (s *hierarchyService) subtreeFolders(ctx context.Context, root *model.Folder) ([]*model.Folder, error) {
	out := []*model.Folder{root}
	for i := 0; i < len(out); i++ {
		children, err := s.folders.FindChildren(ctx, model.ResourceFolder, out[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

// resolveRoot 沿父链向上查找真正的根节点，memo 记录已解析的文件夹。
// 它不信任各级缓存的 BaseParent 字段。
func resolveRoot(ctx context.Context, folders repository.FolderRepository, parentType model.ResourceType, parentID string, memo map[string]model.RootRef) (model.RootRef, error) {
	var chain []string
	seen := map[string]bool{}
	var root model.RootRef
	for {
		if parentType.IsRoot() {
			root = model.RootRef{Type: parentType, ID: parentID}
			break
		}
		if parentType != model.ResourceFolder {
			return model.RootRef{}, errors.NotValidf("parent type %q", parentType)
		}
		if r, ok := memo[parentID]; ok {
			root = r
			break
		}
		if seen[parentID] {
			return model.RootRef{}, errors.NotValidf("cycle in folder ancestry at %s", parentID)
		}
		seen[parentID] = true
		chain = append(chain, parentID)
		f, err := folders.FindByID(ctx, parentID)
		if err != nil {
			return model.RootRef{}, err
		}
		parentType, parentID = f.ParentType, f.ParentID
	}
	if memo != nil {
		for _, id := range chain {
			memo[id] = root
		}
	}
	return root, nil
}

// EnsureFolderDerivedFields 返回补齐了根节点缓存的文件夹副本。
// parent 是父文件夹（父节点为根时传 nil）；已有缓存或无法推导时原样返回。
func EnsureFolderDerivedFields(folder model.Folder, parent *model.Folder) model.Folder {
	if folder.BaseParentID != "" {
		return folder
	}
	switch {
	case folder.ParentType.IsRoot():
		folder.BaseParentType = folder.ParentType
		folder.BaseParentID = folder.ParentID
	case parent != nil && parent.ID == folder.ParentID && parent.BaseParentID != "":
		folder.BaseParentType = parent.BaseParentType
		folder.BaseParentID = parent.BaseParentID
	}
	return folder
}

// EnsureItemDerivedFields 返回补齐了根节点缓存的 Item 副本。
func EnsureItemDerivedFields(item model.Item, folder *model.Folder) model.Item {
	if item.BaseParentID != "" || folder == nil || folder.ID != item.FolderID || folder.BaseParentID == "" {
		return item
	}
	item.BaseParentType = folder.BaseParentType
	item.BaseParentID = folder.BaseParentID
	return item
}

func (s *hierarchyService) ImportSink(creatorID *string) assetstore.ImportSink {
	return &importSink{svc: s, creatorID: creatorID}
}

// importSink 把适配器扫描到的目录和文件登记为文件夹、Item 和 File。
type importSink struct {
	svc       *hierarchyService
	creatorID *string
}

func (k *importSink) ImportFolder(ctx context.Context, parent assetstore.Target, name string) (assetstore.Target, error) {
	existing, err := k.svc.folders.FindByName(ctx, parent.Type, parent.ID, name)
	if err == nil {
		return assetstore.Target{Type: model.ResourceFolder, ID: existing.ID}, nil
	}
	if !errors.Is(err, errors.NotFound) {
		return assetstore.Target{}, err
	}
	folder, err := k.svc.CreateFolder(ctx, FolderRequest{
		ParentType: parent.Type,
		ParentID:   parent.ID,
		Name:       name,
		CreatorID:  k.creatorID,
	})
	if err != nil {
		return assetstore.Target{}, err
	}
	return assetstore.Target{Type: model.ResourceFolder, ID: folder.ID}, nil
}

func (k *importSink) ImportFile(ctx context.Context, parent assetstore.Target, file *model.File) error {
	if parent.Type != model.ResourceFolder {
		return errors.NotValidf("import file into %s", parent.Type)
	}
	folder, err := k.svc.folders.FindByID(ctx, parent.ID)
	if err != nil {
		return err
	}
	items, err := k.svc.items.FindByFolder(ctx, folder.ID)
	if err != nil {
		return err
	}
	var item *model.Item
	for _, it := range items {
		if it.Name == file.Name {
			item = it
			break
		}
	}
	if item == nil {
		if item, err = newItemIn(ctx, k.svc.items, folder, file.Name, k.creatorID); err != nil {
			return err
		}
	}

	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	file.ItemID = &item.ID
	file.CreatorID = k.creatorID
	if err := k.svc.files.Create(ctx, file); err != nil {
		return err
	}
	if err := k.svc.sizes.Propagate(ctx, item, file.Size, false); err != nil {
		log.Warnf("[ImportSink.ImportFile] 大小传播失败, file_id: %s, error: %v", file.ID, err)
	}
	return nil
}
