package service

import (
	"path/filepath"
	"sync"
	"testing"

	"datavault-go/internal/model"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

type progressLog struct {
	mu      sync.Mutex
	updates int
}

func (p *progressLog) Update(current, total int64, message string) {
	p.mu.Lock()
	p.updates++
	p.mu.Unlock()
}

func TestRecalculateSizes_Converges(t *testing.T) {
	f := newFixture(t, Hooks{})
	sub := f.newFolder(t, model.ResourceFolder, f.folder.ID, "sub")
	other := f.newFolder(t, model.ResourceUser, f.user.ID, "other")
	a := f.uploadBytes(t, f.folder.ID, "a", "aaaa")
	b := f.uploadBytes(t, sub.ID, "b", "bbbbbbbb")
	c := f.uploadBytes(t, other.ID, "c", "cc")
	_, err := f.hierarchy.MoveItem(f.ctx, *a.ItemID, other.ID)
	require.NoError(t, err)
	require.NoError(t, f.files.DeleteFile(f.ctx, c.ID))

	// 模拟传播中途失败留下的错误缓存
	require.NoError(t, f.mem.Items().SetSize(f.ctx, *b.ItemID, 999))
	require.NoError(t, f.mem.Folders().SetSize(f.ctx, sub.ID, -5))
	require.NoError(t, f.mem.Roots().SetSize(f.ctx, model.ResourceUser, f.user.ID, 1))

	progress := &progressLog{}
	fixed, err := f.consistency.RecalculateSizes(f.ctx, progress)
	require.NoError(t, err)
	require.Equal(t, 3, fixed)
	require.Positive(t, progress.updates)

	items, err := f.mem.Items().FindByFolder(f.ctx, sub.ID)
	require.NoError(t, err)
	for _, item := range items {
		files, err := f.hierarchy.ListItemFiles(f.ctx, item.ID)
		require.NoError(t, err)
		var sum int64
		for _, file := range files {
			sum += file.Size
		}
		require.Equal(t, sum, item.Size)
	}
	require.EqualValues(t, 8, f.itemSize(t, *b.ItemID))
	require.EqualValues(t, 8, f.folderSize(t, sub.ID))
	require.EqualValues(t, 4, f.folderSize(t, other.ID))
	require.EqualValues(t, 0, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 12, f.rootSize(t, model.ResourceUser, f.user.ID))

	fixed, err = f.consistency.RecalculateSizes(f.ctx, nil)
	require.NoError(t, err)
	require.Zero(t, fixed)
}

func TestPruneOrphans_ReclaimsBackendBytes(t *testing.T) {
	f := newFixture(t, Hooks{})
	doomed := f.newFolder(t, model.ResourceUser, f.user.ID, "doomed")
	child := f.newFolder(t, model.ResourceFolder, doomed.ID, "child")
	kept := f.uploadBytes(t, f.folder.ID, "kept", "keep me")
	orphan := f.uploadBytes(t, doomed.ID, "orphan", "orphaned bytes")
	blob := filepath.Join(f.root, orphan.Path)

	// 绕过服务直接删除父节点，留下孤立的子文件夹和 Item
	require.NoError(t, f.mem.Folders().Delete(f.ctx, doomed.ID))
	loose := &model.File{ID: "loose", Name: "loose", Size: 0}
	require.NoError(t, f.mem.Files().Create(f.ctx, loose))

	pruned, err := f.consistency.PruneOrphans(f.ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 3, pruned)

	_, err = f.hierarchy.GetFolder(f.ctx, child.ID)
	require.True(t, errors.Is(err, errors.NotFound))
	_, err = f.files.Get(f.ctx, orphan.ID)
	require.True(t, errors.Is(err, errors.NotFound))
	_, err = f.files.Get(f.ctx, "loose")
	require.True(t, errors.Is(err, errors.NotFound))
	require.NoFileExists(t, blob)
	require.Equal(t, "keep me", f.download(t, kept.ID))

	pruned, err = f.consistency.PruneOrphans(f.ctx, nil)
	require.NoError(t, err)
	require.Zero(t, pruned)
}

func TestFixBaseParents(t *testing.T) {
	f := newFixture(t, Hooks{})
	sub := f.newFolder(t, model.ResourceFolder, f.folder.ID, "sub")
	file := f.uploadBytes(t, sub.ID, "x", "x")
	wrong := model.RootRef{Type: model.ResourceCollection, ID: "stale"}
	require.NoError(t, f.mem.Folders().SetBaseParent(f.ctx, []string{sub.ID}, wrong))
	require.NoError(t, f.mem.Items().SetBaseParent(f.ctx, []string{*file.ItemID}, wrong))

	fixed, err := f.consistency.FixBaseParents(f.ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, fixed)

	want := model.RootRef{Type: model.ResourceUser, ID: f.user.ID}
	got, err := f.hierarchy.GetFolder(f.ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, want, got.BaseParent())
	item, err := f.hierarchy.GetItem(f.ctx, *file.ItemID)
	require.NoError(t, err)
	require.Equal(t, want, item.BaseParent())

	fixed, err = f.consistency.FixBaseParents(f.ctx, nil)
	require.NoError(t, err)
	require.Zero(t, fixed)
}
