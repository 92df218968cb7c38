// Package memrepo 提供 repository 接口的内存实现，用于测试和 database.driver=memory 的本地开发模式。
// 所有读取都返回副本，写入前对象的修改不会影响已保存的数据。
package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"datavault-go/internal/model"
	"datavault-go/internal/repository"

	"github.com/juju/errors"
)

// Store 是所有内存仓库共享的数据。
type Store struct {
	mu          sync.Mutex
	uploads     map[string]model.Upload
	locks       map[string]time.Time
	files       map[string]model.File
	items       map[string]model.Item
	folders     map[string]model.Folder
	users       map[string]model.User
	collections map[string]model.Collection
	assetstores map[string]model.Assetstore
	jobs        map[string]model.Job
	canceled    map[string]bool
}

// New 创建一个空的内存数据集。
func New() *Store {
	return &Store{
		uploads:     map[string]model.Upload{},
		locks:       map[string]time.Time{},
		files:       map[string]model.File{},
		items:       map[string]model.Item{},
		folders:     map[string]model.Folder{},
		users:       map[string]model.User{},
		collections: map[string]model.Collection{},
		assetstores: map[string]model.Assetstore{},
		jobs:        map[string]model.Job{},
		canceled:    map[string]bool{},
	}
}

// Uploads 返回上传仓库。
func (s *Store) Uploads() repository.UploadRepository { return uploadRepo{s} }

// Files 返回文件仓库。
func (s *Store) Files() repository.FileRepository { return fileRepo{s} }

// Items 返回 Item 仓库。
func (s *Store) Items() repository.ItemRepository { return itemRepo{s} }

// Folders 返回文件夹仓库。
func (s *Store) Folders() repository.FolderRepository { return folderRepo{s} }

// Roots 返回根节点仓库。
func (s *Store) Roots() repository.RootRepository { return rootRepo{s} }

// Assetstores 返回存储配置仓库。
func (s *Store) Assetstores() repository.AssetstoreRepository { return assetstoreRepo{s} }

// Jobs 返回任务仓库。
func (s *Store) Jobs() repository.JobRepository { return jobRepo{s} }

func touch(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func less(p repository.Page, nameA, nameB string, sizeA, sizeB int64, createdA, createdB, updatedA, updatedB time.Time) bool {
	var r int
	switch p.Sort {
	case "name":
		r = strings.Compare(nameA, nameB)
	case "size":
		r = cmp(sizeA, sizeB)
	case "updated":
		r = cmp(updatedA.UnixNano(), updatedB.UnixNano())
	default:
		r = cmp(createdA.UnixNano(), createdB.UnixNano())
	}
	if p.Desc {
		return r > 0
	}
	return r < 0
}

func cmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func window[T any](all []T, p repository.Page) []T {
	if p.Offset >= len(all) {
		return nil
	}
	all = all[p.Offset:]
	if p.Limit > 0 && p.Limit < len(all) {
		all = all[:p.Limit]
	}
	return all
}

func batches[T any](all []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = repository.DefaultBatchSize
	}
	for i := 0; i < len(all); i += size {
		end := i + size
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[i:end]); err != nil {
			return err
		}
	}
	return nil
}

type uploadRepo struct{ s *Store }

func (r uploadRepo) Create(ctx context.Context, u *model.Upload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.uploads[u.ID]; ok {
		return errors.AlreadyExistsf("upload %s", u.ID)
	}
	touch(&u.CreatedAt, &u.UpdatedAt)
	r.s.uploads[u.ID] = *u
	return nil
}

func (r uploadRepo) FindByID(ctx context.Context, id string) (*model.Upload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok {
		return nil, errors.NotFoundf("upload %s", id)
	}
	return &u, nil
}

func (r uploadRepo) Update(ctx context.Context, u *model.Upload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	touch(&u.CreatedAt, &u.UpdatedAt)
	r.s.uploads[u.ID] = *u
	return nil
}

func (r uploadRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.uploads[id]; !ok {
		return errors.NotFoundf("upload %s", id)
	}
	delete(r.s.uploads, id)
	return nil
}

func (r uploadRepo) List(ctx context.Context, f repository.UploadFilter, p repository.Page) ([]*model.Upload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cutoff := time.Now().Add(-f.MinimumAge)
	var out []*model.Upload
	for _, u := range r.s.uploads {
		u := u
		switch {
		case f.UploadID != "" && u.ID != f.UploadID,
			f.UserID != "" && (u.UserID == nil || *u.UserID != f.UserID),
			f.ParentID != "" && (u.ParentID == nil || *u.ParentID != f.ParentID),
			f.AssetstoreID != "" && u.AssetstoreID != f.AssetstoreID,
			f.MinimumAge > 0 && !u.UpdatedAt.Before(cutoff):
			continue
		}
		out = append(out, &u)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return less(p, a.Name, b.Name, a.Size, b.Size, a.CreatedAt, b.CreatedAt, a.UpdatedAt, b.UpdatedAt)
	})
	return window(out, p), nil
}

func (r uploadRepo) AcquireChunkLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if exp, ok := r.s.locks[id]; ok && time.Now().Before(exp) {
		return false, nil
	}
	r.s.locks[id] = time.Now().Add(ttl)
	return true, nil
}

func (r uploadRepo) ReleaseChunkLock(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.locks, id)
	return nil
}
