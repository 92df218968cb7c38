package filesystem

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	refs  map[string]int64
	paths map[string]bool
}

func (f *fakeIndex) CountByHash(ctx context.Context, assetstoreID, sha, excludeID string) (int64, error) {
	return f.refs[sha], nil
}

func (f *fakeIndex) ExistsByPath(ctx context.Context, assetstoreID, path string) (bool, error) {
	return f.paths[path], nil
}

type recordingSink struct {
	folders []string
	files   []*model.File
}

func (s *recordingSink) ImportFolder(ctx context.Context, parent assetstore.Target, name string) (assetstore.Target, error) {
	s.folders = append(s.folders, name)
	return assetstore.Target{Type: model.ResourceFolder, ID: parent.ID + "/" + name}, nil
}

func (s *recordingSink) ImportFile(ctx context.Context, parent assetstore.Target, file *model.File) error {
	s.files = append(s.files, file)
	return nil
}

func newAdapter(t *testing.T) (*Adapter, *fakeIndex) {
	t.Helper()
	idx := &fakeIndex{refs: map[string]int64{}, paths: map[string]bool{}}
	a, err := New(&model.Assetstore{ID: "store-1", Name: "local", Type: "filesystem", Root: t.TempDir()}, idx)
	require.NoError(t, err)
	return a, idx
}

func chunk(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func sum(s string) string {
	h := sha512.Sum512([]byte(s))
	return hex.EncodeToString(h[:])
}

func upload(t *testing.T, a *Adapter, parts ...string) (*model.Upload, *model.File) {
	t.Helper()
	ctx := context.Background()
	var size int64
	for _, p := range parts {
		size += int64(len(p))
	}
	u := &model.Upload{ID: "u1", Size: size, AssetstoreID: "store-1"}
	require.NoError(t, a.InitUpload(ctx, u))
	for _, p := range parts {
		require.NoError(t, a.UploadChunk(ctx, u, chunk(p)))
	}
	f := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	return u, f
}

func TestUploadAndDownloadRoundTrip(t *testing.T) {
	a, _ := newAdapter(t)
	_, f := upload(t, a, "hello ", "wor", "ld")

	require.Equal(t, sum("hello world"), f.SHA512)
	require.Equal(t, int64(11), f.Size)
	require.Equal(t, "store-1", *f.AssetstoreID)

	r, err := a.DownloadFile(context.Background(), f, 0, 11)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	r, err = a.DownloadFile(context.Background(), f, 6, -1)
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "world", string(data))
}

func TestUploadChunk_OverrunDoesNotAdvance(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 4}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, chunk("ab")))

	err := a.UploadChunk(ctx, u, chunk("cde"))
	require.True(t, errors.Is(err, errors.NotValid))
	require.Equal(t, int64(2), u.Received)

	info, err := os.Stat(u.TempFile)
	require.NoError(t, err)
	require.Equal(t, int64(2), info.Size())

	require.NoError(t, a.UploadChunk(ctx, u, chunk("cd")))
	f := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	require.Equal(t, sum("abcd"), f.SHA512)
}

func TestUploadChunk_ClosesStream(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 2}
	require.NoError(t, a.InitUpload(ctx, u))

	c := &closeTracker{Reader: strings.NewReader("xyz")}
	require.Error(t, a.UploadChunk(ctx, u, c))
	require.True(t, c.closed)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestFinalize_DeduplicatesContent(t *testing.T) {
	a, _ := newAdapter(t)
	u1, f1 := upload(t, a, "same bytes")
	u2, f2 := upload(t, a, "same ", "bytes")

	require.Equal(t, f1.Path, f2.Path)
	_, err := os.Stat(u1.TempFile)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(u2.TempFile)
	require.True(t, os.IsNotExist(err))
}

func TestFinalize_DuplicateReplacesBlobWithStagedData(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()
	_, first := upload(t, a, "same bytes")
	abs, err := a.LocalFilePath(first)
	require.NoError(t, err)

	u := &model.Upload{ID: "u2", Size: 10, AssetstoreID: "store-1"}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, chunk("same bytes")))
	staged, err := os.Stat(u.TempFile)
	require.NoError(t, err)

	f := &model.File{ID: "f2"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	require.Equal(t, first.Path, f.Path)
	blob, err := os.Stat(abs)
	require.NoError(t, err)
	require.True(t, os.SameFile(staged, blob))

	// 之前的数据被并发删除后，重试 finalize 不会把文件指向空位置
	require.NoError(t, os.Remove(abs))
	u3 := &model.Upload{ID: "u3", Size: 10, AssetstoreID: "store-1"}
	require.NoError(t, a.InitUpload(ctx, u3))
	require.NoError(t, a.UploadChunk(ctx, u3, chunk("same bytes")))
	require.NoError(t, a.FinalizeUpload(ctx, u3, &model.File{ID: "f3"}))
	require.NoError(t, a.FinalizeUpload(ctx, u3, &model.File{ID: "f3"}))
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.Equal(t, "same bytes", string(data))
}

func TestDeleteFile_KeepsSharedBlob(t *testing.T) {
	a, idx := newAdapter(t)
	_, f := upload(t, a, "shared")
	abs, err := a.LocalFilePath(f)
	require.NoError(t, err)

	idx.refs[f.SHA512] = 1
	require.NoError(t, a.DeleteFile(context.Background(), f))
	_, err = os.Stat(abs)
	require.NoError(t, err)

	idx.refs[f.SHA512] = 0
	require.NoError(t, a.DeleteFile(context.Background(), f))
	_, err = os.Stat(abs)
	require.True(t, os.IsNotExist(err))

	// 已不存在时不报错
	require.NoError(t, a.DeleteFile(context.Background(), f))
}

func TestCancelAndUntrackedUploads(t *testing.T) {
	a, _ := newAdapter(t)
	ctx := context.Background()

	u := &model.Upload{ID: "u1", Size: 5 << 20}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, io.NopCloser(bytes.NewReader(make([]byte, 5<<20)))))

	orphan := &model.Upload{ID: "orphan", Size: 10}
	require.NoError(t, a.InitUpload(ctx, orphan))

	found, err := a.UntrackedUploads(ctx, []*model.Upload{u}, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, orphan.TempFile, found[0].Key)
	require.False(t, found[0].Removed)

	found, err = a.UntrackedUploads(ctx, []*model.Upload{u}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.True(t, found[0].Removed)

	require.NoError(t, a.CancelUpload(ctx, u))
	_, err = os.Stat(u.TempFile)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, a.CancelUpload(ctx, u))

	found, err = a.UntrackedUploads(ctx, nil, false)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestImportData(t *testing.T) {
	a, idx := newAdapter(t)
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "skip.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "known.txt"), []byte("k"), 0o644))
	idx.paths[filepath.Join(src, "sub", "known.txt")] = true

	sink := &recordingSink{}
	err := a.ImportData(context.Background(), sink, assetstore.ImportParams{
		Path:    src,
		Parent:  assetstore.Target{Type: model.ResourceFolder, ID: "root"},
		Exclude: regexp.MustCompile(`\.log$`),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sub"}, sink.folders)
	require.Len(t, sink.files, 2)
	for _, f := range sink.files {
		require.True(t, f.Imported)
		require.True(t, filepath.IsAbs(f.Path))
	}

	r, err := a.DownloadFile(context.Background(), sink.files[0], 0, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "aaa", string(data))

	// 导入的文件不会被删除
	require.NoError(t, a.DeleteFile(context.Background(), sink.files[0]))
	_, err = os.Stat(sink.files[0].Path)
	require.NoError(t, err)
}

func TestImportData_Canceled(t *testing.T) {
	a, _ := newAdapter(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	err := a.ImportData(context.Background(), &recordingSink{}, assetstore.ImportParams{
		Path:     src,
		Canceled: func() bool { return true },
	})
	require.ErrorIs(t, err, assetstore.ErrCanceled)
}

func TestZeroByteUpload(t *testing.T) {
	a, _ := newAdapter(t)
	_, f := upload(t, a)
	require.Equal(t, int64(0), f.Size)
	require.Equal(t, sum(""), f.SHA512)
}

func TestCapacityInfo(t *testing.T) {
	a, _ := newAdapter(t)
	c, err := a.CapacityInfo(context.Background())
	if errors.Is(err, errors.NotSupported) {
		t.Skip("capacity not supported on this platform")
	}
	require.NoError(t, err)
	require.NotZero(t, c.Total)
}
