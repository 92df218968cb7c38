package service

import (
	"os"
	"path/filepath"
	"testing"

	"datavault-go/internal/model"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

func TestMoveItem_ConservesSize(t *testing.T) {
	f := newFixture(t, Hooks{})
	a := f.folder
	b := f.newFolder(t, model.ResourceUser, f.user.ID, "B")
	file := f.uploadBytes(t, a.ID, "data", "0123456789")

	_, err := f.hierarchy.MoveItem(f.ctx, *file.ItemID, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.folderSize(t, a.ID))
	require.EqualValues(t, 10, f.folderSize(t, b.ID))
	require.EqualValues(t, 10, f.itemSize(t, *file.ItemID))
	require.EqualValues(t, 10, f.rootSize(t, model.ResourceUser, f.user.ID))

	// 跨根节点移动
	coll, err := f.hierarchy.CreateCollection(f.ctx, "shared", "", true, &f.user.ID)
	require.NoError(t, err)
	c := f.newFolder(t, model.ResourceCollection, coll.ID, "C")
	item, err := f.hierarchy.MoveItem(f.ctx, *file.ItemID, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.RootRef{Type: model.ResourceCollection, ID: coll.ID}, item.BaseParent())
	require.EqualValues(t, 0, f.folderSize(t, b.ID))
	require.EqualValues(t, 10, f.folderSize(t, c.ID))
	require.EqualValues(t, 0, f.rootSize(t, model.ResourceUser, f.user.ID))
	require.EqualValues(t, 10, f.rootSize(t, model.ResourceCollection, coll.ID))
}

func TestDeleteFile_LeavesEmptyItem(t *testing.T) {
	f := newFixture(t, Hooks{})
	file := f.uploadBytes(t, f.folder.ID, "a.txt", "hello")
	itemID := *file.ItemID

	require.NoError(t, f.files.DeleteFile(f.ctx, file.ID))
	require.EqualValues(t, 0, f.itemSize(t, itemID))
	require.EqualValues(t, 0, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 0, f.rootSize(t, model.ResourceUser, f.user.ID))
	require.NoFileExists(t, filepath.Join(f.root, file.Path))

	require.NoError(t, f.hierarchy.DeleteItem(f.ctx, itemID))
	_, err := f.hierarchy.GetItem(f.ctx, itemID)
	require.True(t, errors.Is(err, errors.NotFound))
}

func TestDeleteItem_DecrementsAncestors(t *testing.T) {
	f := newFixture(t, Hooks{})
	keep := f.uploadBytes(t, f.folder.ID, "keep", "12345")
	gone := f.uploadBytes(t, f.folder.ID, "gone", "1234567")

	require.NoError(t, f.hierarchy.DeleteItem(f.ctx, *gone.ItemID))
	require.EqualValues(t, 5, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 5, f.rootSize(t, model.ResourceUser, f.user.ID))
	_, err := f.files.Get(f.ctx, gone.ID)
	require.True(t, errors.Is(err, errors.NotFound))
	require.Equal(t, "12345", f.download(t, keep.ID))
}

func TestDeleteFolder_Recursive(t *testing.T) {
	f := newFixture(t, Hooks{})
	sub := f.newFolder(t, model.ResourceFolder, f.folder.ID, "sub")
	deep := f.newFolder(t, model.ResourceFolder, sub.ID, "deep")
	top := f.uploadBytes(t, f.folder.ID, "top", "aaa")
	low := f.uploadBytes(t, deep.ID, "low", "bbbbbb")
	blob := filepath.Join(f.root, low.Path)

	require.NoError(t, f.hierarchy.DeleteFolder(f.ctx, sub.ID))
	_, err := f.hierarchy.GetFolder(f.ctx, deep.ID)
	require.True(t, errors.Is(err, errors.NotFound))
	_, err = f.files.Get(f.ctx, low.ID)
	require.True(t, errors.Is(err, errors.NotFound))
	require.NoFileExists(t, blob)

	require.EqualValues(t, 3, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 3, f.rootSize(t, model.ResourceUser, f.user.ID))
	require.Equal(t, "aaa", f.download(t, top.ID))
}

func TestMoveFolder_UpdatesSubtree(t *testing.T) {
	f := newFixture(t, Hooks{})
	sub := f.newFolder(t, model.ResourceFolder, f.folder.ID, "sub")
	f.uploadBytes(t, f.folder.ID, "one", "1")
	low := f.uploadBytes(t, sub.ID, "two", "22")

	other, err := f.hierarchy.CreateUser(f.ctx, "bob", false)
	require.NoError(t, err)

	moved, err := f.hierarchy.MoveFolder(f.ctx, f.folder.ID, model.ResourceUser, other.ID)
	require.NoError(t, err)
	require.Equal(t, other.ID, moved.BaseParentID)

	gotSub, err := f.hierarchy.GetFolder(f.ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, model.RootRef{Type: model.ResourceUser, ID: other.ID}, gotSub.BaseParent())
	item, err := f.hierarchy.GetItem(f.ctx, *low.ItemID)
	require.NoError(t, err)
	require.Equal(t, other.ID, item.BaseParentID)

	require.EqualValues(t, 0, f.rootSize(t, model.ResourceUser, f.user.ID))
	require.EqualValues(t, 3, f.rootSize(t, model.ResourceUser, other.ID))
	require.EqualValues(t, 1, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 2, f.folderSize(t, sub.ID))
}

func TestMoveFolder_RejectsCycles(t *testing.T) {
	f := newFixture(t, Hooks{})
	sub := f.newFolder(t, model.ResourceFolder, f.folder.ID, "sub")

	_, err := f.hierarchy.MoveFolder(f.ctx, f.folder.ID, model.ResourceFolder, sub.ID)
	require.True(t, errors.Is(err, errors.NotValid), "%v", err)
	_, err = f.hierarchy.MoveFolder(f.ctx, f.folder.ID, model.ResourceFolder, f.folder.ID)
	require.True(t, errors.Is(err, errors.NotValid), "%v", err)
}

func TestCreateFolder_Validation(t *testing.T) {
	f := newFixture(t, Hooks{})

	_, err := f.hierarchy.CreateFolder(f.ctx, FolderRequest{ParentType: model.ResourceUser, ParentID: f.user.ID, Name: "F"})
	require.True(t, errors.Is(err, errors.AlreadyExists))

	_, err = f.hierarchy.CreateFolder(f.ctx, FolderRequest{ParentType: model.ResourceItem, ParentID: "x", Name: "G"})
	require.True(t, errors.Is(err, errors.NotValid))

	_, err = f.hierarchy.CreateFolder(f.ctx, FolderRequest{ParentType: model.ResourceUser, ParentID: "nobody", Name: "G"})
	require.True(t, errors.Is(err, errors.NotFound))

	virtual := &model.Folder{ID: "v", Name: "virtual", ParentType: model.ResourceUser, ParentID: f.user.ID, IsVirtual: true}
	require.NoError(t, f.mem.Folders().Create(f.ctx, virtual))
	_, err = f.hierarchy.CreateFolder(f.ctx, FolderRequest{ParentType: model.ResourceFolder, ParentID: "v", Name: "G"})
	require.True(t, errors.Is(err, errors.NotValid))
	_, err = f.hierarchy.CreateItem(f.ctx, "v", "i", "", nil)
	require.True(t, errors.Is(err, errors.NotValid))
}

func TestCopyItem_SharesBlobUntilLastReference(t *testing.T) {
	f := newFixture(t, Hooks{})
	dest := f.newFolder(t, model.ResourceUser, f.user.ID, "copies")
	src := f.uploadBytes(t, f.folder.ID, "orig", "payload")
	blob := filepath.Join(f.root, src.Path)

	copied, err := f.hierarchy.CopyItem(f.ctx, *src.ItemID, dest.ID, &f.user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 7, copied.Size)
	require.EqualValues(t, 7, f.folderSize(t, dest.ID))
	require.EqualValues(t, 14, f.rootSize(t, model.ResourceUser, f.user.ID))

	files, err := f.hierarchy.ListItemFiles(f.ctx, copied.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NotEqual(t, src.ID, files[0].ID)

	require.NoError(t, f.hierarchy.DeleteItem(f.ctx, *src.ItemID))
	require.FileExists(t, blob)
	require.Equal(t, "payload", f.download(t, files[0].ID))

	require.NoError(t, f.hierarchy.DeleteItem(f.ctx, copied.ID))
	require.NoFileExists(t, blob)
}

func TestLinkFile(t *testing.T) {
	f := newFixture(t, Hooks{})
	link, err := f.files.CreateLinkFile(f.ctx, LinkFileRequest{
		Name: "docs", ParentType: model.ResourceFolder, ParentID: f.folder.ID, URL: "https://example.com/doc",
	})
	require.NoError(t, err)
	require.NotNil(t, link.ItemID)

	d, err := f.files.Download(f.ctx, link.ID, 0, -1)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/doc", d.RedirectURL)
	require.Nil(t, d.Body)

	_, err = f.files.GetAssetstoreAdapter(f.ctx, link)
	require.True(t, errors.Is(err, errors.NotSupported))

	_, err = f.files.CreateLinkFile(f.ctx, LinkFileRequest{Name: "bad", ParentType: model.ResourceFolder, ParentID: f.folder.ID, URL: "ftp://x"})
	require.True(t, errors.Is(err, errors.NotValid))

	require.NoError(t, f.files.DeleteFile(f.ctx, link.ID))
}

func TestDownload_RangeValidation(t *testing.T) {
	f := newFixture(t, Hooks{})
	file := f.uploadBytes(t, f.folder.ID, "r", "abcdef")

	d, err := f.files.Download(f.ctx, file.ID, 2, 100)
	require.NoError(t, err)
	require.EqualValues(t, 6, d.End)
	d.Body.Close()

	d, err = f.files.Download(f.ctx, file.ID, 6, -1)
	require.NoError(t, err)
	require.Zero(t, d.Length())

	_, err = f.files.Download(f.ctx, file.ID, 5, 3)
	require.True(t, errors.Is(err, errors.NotValid))

	path, err := f.files.LocalPath(f.ctx, file.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(data))
}

func TestEnsureDerivedFields(t *testing.T) {
	top := EnsureFolderDerivedFields(model.Folder{ID: "a", ParentType: model.ResourceCollection, ParentID: "c1"}, nil)
	require.Equal(t, model.RootRef{Type: model.ResourceCollection, ID: "c1"}, top.BaseParent())

	child := EnsureFolderDerivedFields(model.Folder{ID: "b", ParentType: model.ResourceFolder, ParentID: "a"}, &top)
	require.Equal(t, "c1", child.BaseParentID)

	unknown := EnsureFolderDerivedFields(model.Folder{ID: "b", ParentType: model.ResourceFolder, ParentID: "a"}, nil)
	require.Empty(t, unknown.BaseParentID)

	item := EnsureItemDerivedFields(model.Item{ID: "i", FolderID: "b"}, &child)
	require.Equal(t, model.RootRef{Type: model.ResourceCollection, ID: "c1"}, item.BaseParent())

	kept := EnsureItemDerivedFields(model.Item{ID: "i", FolderID: "b", BaseParentType: model.ResourceUser, BaseParentID: "u"}, &child)
	require.Equal(t, "u", kept.BaseParentID)
}

func TestMigrateBaseParents(t *testing.T) {
	f := newFixture(t, Hooks{})
	legacyTop := &model.Folder{ID: "legacy-top", Name: "lt", ParentType: model.ResourceUser, ParentID: f.user.ID}
	legacyChild := &model.Folder{ID: "legacy-child", Name: "lc", ParentType: model.ResourceFolder, ParentID: "legacy-top"}
	legacyItem := &model.Item{ID: "legacy-item", Name: "li", FolderID: "legacy-child"}
	require.NoError(t, f.mem.Folders().Create(f.ctx, legacyChild))
	require.NoError(t, f.mem.Folders().Create(f.ctx, legacyTop))
	require.NoError(t, f.mem.Items().Create(f.ctx, legacyItem))

	n, err := f.hierarchy.MigrateBaseParents(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, id := range []string{"legacy-top", "legacy-child"} {
		folder, err := f.hierarchy.GetFolder(f.ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.RootRef{Type: model.ResourceUser, ID: f.user.ID}, folder.BaseParent())
	}
	item, err := f.hierarchy.GetItem(f.ctx, "legacy-item")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, item.BaseParentID)

	n, err = f.hierarchy.MigrateBaseParents(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestImportData_RegistersFilesystemTree(t *testing.T) {
	f := newFixture(t, Hooks{})
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "skip.tmp"), []byte("zz"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("bb"), 0o644))

	n, err := f.stores.ImportData(f.ctx, ImportRequest{
		AssetstoreID: f.store.ID,
		Path:         src,
		ParentType:   model.ResourceFolder,
		ParentID:     f.folder.ID,
		Exclude:      `\.tmp$`,
		UserID:       &f.user.ID,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	contents, err := f.hierarchy.ListFolder(f.ctx, f.folder.ID)
	require.NoError(t, err)
	require.Len(t, contents.Items, 1)
	require.Len(t, contents.Folders, 1)
	require.Equal(t, "nested", contents.Folders[0].Name)
	require.EqualValues(t, 4, f.folderSize(t, f.folder.ID))
	require.EqualValues(t, 2, f.folderSize(t, contents.Folders[0].ID))
	require.EqualValues(t, 6, f.rootSize(t, model.ResourceUser, f.user.ID))

	files, err := f.hierarchy.ListItemFiles(f.ctx, contents.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.True(t, files[0].Imported)
	require.Equal(t, "aaaa", f.download(t, files[0].ID))

	// 已登记的路径不会被重复导入；删除导入的文件不会删除源数据
	n, err = f.stores.ImportData(f.ctx, ImportRequest{AssetstoreID: f.store.ID, Path: src, ParentType: model.ResourceFolder, ParentID: f.folder.ID}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, f.hierarchy.DeleteItem(f.ctx, contents.Items[0].ID))
	require.FileExists(t, filepath.Join(src, "a.txt"))
}
