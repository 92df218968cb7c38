package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/assetstore/filesystem"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/internal/repository/memrepo"
	"datavault-go/pkg/tasks"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []tasks.DataProcessTask
}

func (p *recordingPublisher) Publish(ctx context.Context, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := payload.(tasks.DataProcessTask); ok && event == tasks.DataProcessEvent {
		p.events = append(p.events, t)
	}
	return nil
}

func (p *recordingPublisher) published() []tasks.DataProcessTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tasks.DataProcessTask(nil), p.events...)
}

type fixture struct {
	ctx         context.Context
	mem         *memrepo.Store
	registry    *assetstore.Registry
	sizes       SizePropagator
	files       FileService
	hierarchy   HierarchyService
	stores      AssetstoreService
	uploads     UploadService
	consistency ConsistencyService
	jobs        JobService
	publisher   *recordingPublisher

	store  *model.Assetstore
	root   string
	user   *model.User
	folder *model.Folder
}

func newFixture(t *testing.T, hooks Hooks) *fixture {
	t.Helper()
	mem := memrepo.New()
	registry := assetstore.NewRegistry(map[assetstore.Kind]assetstore.Factory{
		assetstore.KindFilesystem: func(s *model.Assetstore) (assetstore.Adapter, error) {
			return filesystem.New(s, mem.Files())
		},
	})
	sizes := NewSizePropagator(mem.Items(), mem.Folders(), mem.Roots())
	files := NewFileService(mem.Files(), mem.Items(), mem.Folders(), mem.Assetstores(), registry, sizes)
	hierarchy := NewHierarchyService(mem.Roots(), mem.Folders(), mem.Items(), mem.Files(), files, sizes)
	publisher := &recordingPublisher{}

	f := &fixture{
		ctx:       context.Background(),
		mem:       mem,
		registry:  registry,
		sizes:     sizes,
		files:     files,
		hierarchy: hierarchy,
		stores:    NewAssetstoreService(mem.Assetstores(), mem.Files(), mem.Uploads(), registry, hierarchy),
		uploads: NewUploadService(UploadServiceOptions{
			Uploads:     mem.Uploads(),
			Files:       mem.Files(),
			Assetstores: mem.Assetstores(),
			Registry:    registry,
			Hierarchy:   hierarchy,
			Sizes:       sizes,
			Publisher:   publisher,
			Hooks:       hooks,
		}),
		consistency: NewConsistencyService(mem.Roots(), mem.Folders(), mem.Items(), mem.Files(), hierarchy, files),
		jobs:        NewJobService(mem.Jobs()),
		publisher:   publisher,
	}

	f.root = t.TempDir()
	store, err := f.stores.Create(f.ctx, AssetstoreRequest{Name: "S", Type: "filesystem", Root: f.root})
	require.NoError(t, err)
	f.store = store

	f.user, err = hierarchy.CreateUser(f.ctx, "alice", false)
	require.NoError(t, err)
	f.folder = f.newFolder(t, model.ResourceUser, f.user.ID, "F")
	return f
}

// uploadServiceWith 用替换过的上传和文件仓库创建 UploadService，其余依赖与 fixture 相同。
func (f *fixture) uploadServiceWith(uploads repository.UploadRepository, files repository.FileRepository) UploadService {
	return NewUploadService(UploadServiceOptions{
		Uploads:     uploads,
		Files:       files,
		Assetstores: f.mem.Assetstores(),
		Registry:    f.registry,
		Hierarchy:   f.hierarchy,
		Sizes:       f.sizes,
		Publisher:   f.publisher,
	})
}

func (f *fixture) newFolder(t *testing.T, parentType model.ResourceType, parentID, name string) *model.Folder {
	t.Helper()
	folder, err := f.hierarchy.CreateFolder(f.ctx, FolderRequest{ParentType: parentType, ParentID: parentID, Name: name})
	require.NoError(t, err)
	return folder
}

// uploadBytes 把 content 按 parts 切分后上传到 folder，返回生成的文件。
func (f *fixture) uploadBytes(t *testing.T, folderID, name, content string, parts ...int) *model.File {
	t.Helper()
	res, err := f.uploads.CreateUpload(f.ctx, CreateUploadRequest{
		UserID:     &f.user.ID,
		Name:       name,
		ParentType: model.ResourceFolder,
		ParentID:   folderID,
		Size:       int64(len(content)),
	})
	require.NoError(t, err)
	if res.File != nil {
		return res.File
	}
	uploadID := res.Upload.ID
	if len(parts) == 0 {
		parts = []int{len(content)}
	}
	offset := 0
	for _, n := range parts {
		res, err = f.uploads.HandleChunk(f.ctx, ChunkRequest{
			UploadID: uploadID,
			Offset:   int64(offset),
			Length:   UnknownLength,
			Body:     body(content[offset : offset+n]),
		})
		require.NoError(t, err)
		offset += n
	}
	require.NotNil(t, res.File)
	return res.File
}

func (f *fixture) download(t *testing.T, fileID string) string {
	t.Helper()
	d, err := f.files.Download(f.ctx, fileID, 0, -1)
	require.NoError(t, err)
	defer d.Body.Close()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) folderSize(t *testing.T, id string) int64 {
	t.Helper()
	folder, err := f.mem.Folders().FindByID(f.ctx, id)
	require.NoError(t, err)
	return folder.Size
}

func (f *fixture) itemSize(t *testing.T, id string) int64 {
	t.Helper()
	item, err := f.mem.Items().FindByID(f.ctx, id)
	require.NoError(t, err)
	return item.Size
}

func (f *fixture) rootSize(t *testing.T, rootType model.ResourceType, id string) int64 {
	t.Helper()
	root, err := f.mem.Roots().Find(f.ctx, rootType, id)
	require.NoError(t, err)
	return root.Size
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}
