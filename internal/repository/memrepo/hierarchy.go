package memrepo

import (
	"context"
	"sort"

	"datavault-go/internal/model"

	"github.com/juju/errors"
)

type fileRepo struct{ s *Store }

func (r fileRepo) Create(ctx context.Context, f *model.File) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.files[f.ID]; ok {
		return errors.AlreadyExistsf("file %s", f.ID)
	}
	touch(&f.CreatedAt, &f.UpdatedAt)
	r.s.files[f.ID] = *f
	return nil
}

func (r fileRepo) FindByID(ctx context.Context, id string) (*model.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, errors.NotFoundf("file %s", id)
	}
	return &f, nil
}

func (r fileRepo) Update(ctx context.Context, f *model.File) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	touch(&f.CreatedAt, &f.UpdatedAt)
	r.s.files[f.ID] = *f
	return nil
}

func (r fileRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.files, id)
	return nil
}

func (r fileRepo) match(pred func(*model.File) bool) []*model.File {
	var out []*model.File
	for _, f := range r.s.files {
		f := f
		if pred(&f) {
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r fileRepo) FindByItem(ctx context.Context, itemID string) ([]*model.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.match(func(f *model.File) bool { return f.ItemID != nil && *f.ItemID == itemID }), nil
}

func (r fileRepo) FindAttachedTo(ctx context.Context, t model.ResourceType, id string) ([]*model.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.match(func(f *model.File) bool {
		return f.AttachedToType == t && f.AttachedToID != nil && *f.AttachedToID == id
	}), nil
}

func (r fileRepo) CountByAssetstore(ctx context.Context, assetstoreID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.match(func(f *model.File) bool {
		return f.AssetstoreID != nil && *f.AssetstoreID == assetstoreID
	}))), nil
}

func (r fileRepo) CountByHash(ctx context.Context, assetstoreID, sha512, excludeID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.match(func(f *model.File) bool {
		return f.AssetstoreID != nil && *f.AssetstoreID == assetstoreID &&
			f.SHA512 == sha512 && !f.Imported && f.ID != excludeID
	}))), nil
}

func (r fileRepo) ExistsByPath(ctx context.Context, assetstoreID, path string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.match(func(f *model.File) bool {
		return f.AssetstoreID != nil && *f.AssetstoreID == assetstoreID && f.Path == path
	})) > 0, nil
}

func (r fileRepo) FindInBatches(ctx context.Context, size int, fn func([]*model.File) error) error {
	r.s.mu.Lock()
	all := r.match(func(*model.File) bool { return true })
	r.s.mu.Unlock()
	return batches(all, size, fn)
}

type itemRepo struct{ s *Store }

func (r itemRepo) Create(ctx context.Context, i *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[i.ID]; ok {
		return errors.AlreadyExistsf("item %s", i.ID)
	}
	touch(&i.CreatedAt, &i.UpdatedAt)
	r.s.items[i.ID] = *i
	return nil
}

func (r itemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.items[id]
	if !ok {
		return nil, errors.NotFoundf("item %s", id)
	}
	return &i, nil
}

// Update 与 GORM 的 Save 一致，会覆盖 size；调用方在更新前应重新读取记录。
func (r itemRepo) Update(ctx context.Context, i *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	touch(&i.CreatedAt, &i.UpdatedAt)
	r.s.items[i.ID] = *i
	return nil
}

func (r itemRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.items, id)
	return nil
}

func (r itemRepo) all(pred func(*model.Item) bool) []*model.Item {
	var out []*model.Item
	for _, i := range r.s.items {
		i := i
		if pred(&i) {
			out = append(out, &i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (r itemRepo) FindByFolder(ctx context.Context, folderID string) ([]*model.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.all(func(i *model.Item) bool { return i.FolderID == folderID }), nil
}

func (r itemRepo) IncrementSize(ctx context.Context, id string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.items[id]
	if !ok {
		return errors.NotFoundf("item %s", id)
	}
	i.Size += delta
	r.s.items[id] = i
	return nil
}

func (r itemRepo) SetSize(ctx context.Context, id string, size int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i, ok := r.s.items[id]; ok {
		i.Size = size
		r.s.items[id] = i
	}
	return nil
}

func (r itemRepo) SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if i, ok := r.s.items[id]; ok {
			i.BaseParentType, i.BaseParentID = root.Type, root.ID
			r.s.items[id] = i
		}
	}
	return nil
}

func (r itemRepo) SetBaseParentByFolders(ctx context.Context, folderIDs []string, root model.RootRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := make(map[string]bool, len(folderIDs))
	for _, id := range folderIDs {
		set[id] = true
	}
	for id, i := range r.s.items {
		if set[i.FolderID] {
			i.BaseParentType, i.BaseParentID = root.Type, root.ID
			r.s.items[id] = i
		}
	}
	return nil
}

func (r itemRepo) FindInBatches(ctx context.Context, size int, fn func([]*model.Item) error) error {
	r.s.mu.Lock()
	all := r.all(func(*model.Item) bool { return true })
	r.s.mu.Unlock()
	return batches(all, size, fn)
}

type folderRepo struct{ s *Store }

func (r folderRepo) Create(ctx context.Context, f *model.Folder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.folders[f.ID]; ok {
		return errors.AlreadyExistsf("folder %s", f.ID)
	}
	touch(&f.CreatedAt, &f.UpdatedAt)
	r.s.folders[f.ID] = *f
	return nil
}

func (r folderRepo) FindByID(ctx context.Context, id string) (*model.Folder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.folders[id]
	if !ok {
		return nil, errors.NotFoundf("folder %s", id)
	}
	return &f, nil
}

func (r folderRepo) Update(ctx context.Context, f *model.Folder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	touch(&f.CreatedAt, &f.UpdatedAt)
	r.s.folders[f.ID] = *f
	return nil
}

func (r folderRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.folders, id)
	return nil
}

func (r folderRepo) all(pred func(*model.Folder) bool) []*model.Folder {
	var out []*model.Folder
	for _, f := range r.s.folders {
		f := f
		if pred(&f) {
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (r folderRepo) FindChildren(ctx context.Context, t model.ResourceType, parentID string) ([]*model.Folder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.all(func(f *model.Folder) bool { return f.ParentType == t && f.ParentID == parentID }), nil
}

func (r folderRepo) FindByName(ctx context.Context, t model.ResourceType, parentID, name string) (*model.Folder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	found := r.all(func(f *model.Folder) bool {
		return f.ParentType == t && f.ParentID == parentID && f.Name == name
	})
	if len(found) == 0 {
		return nil, errors.NotFoundf("folder %s", name)
	}
	return found[0], nil
}

func (r folderRepo) IncrementSize(ctx context.Context, id string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.folders[id]
	if !ok {
		return errors.NotFoundf("folder %s", id)
	}
	f.Size += delta
	r.s.folders[id] = f
	return nil
}

func (r folderRepo) SetSize(ctx context.Context, id string, size int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f, ok := r.s.folders[id]; ok {
		f.Size = size
		r.s.folders[id] = f
	}
	return nil
}

func (r folderRepo) SetBaseParent(ctx context.Context, ids []string, root model.RootRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if f, ok := r.s.folders[id]; ok {
			f.BaseParentType, f.BaseParentID = root.Type, root.ID
			r.s.folders[id] = f
		}
	}
	return nil
}

func (r folderRepo) FindInBatches(ctx context.Context, size int, fn func([]*model.Folder) error) error {
	r.s.mu.Lock()
	all := r.all(func(*model.Folder) bool { return true })
	r.s.mu.Unlock()
	return batches(all, size, fn)
}
