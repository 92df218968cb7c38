package miniostore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

// fakeMinio 是一个内存中的对象存储，只实现适配器用到的语义。
type fakeMinio struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeMinio() *fakeMinio {
	return &fakeMinio{objects: map[string][]byte{}}
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Key: key, Message: "not found"}
}

func (f *fakeMinio) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeMinio) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	return f.ComposeObject(ctx, dst, src)
}

func (f *fakeMinio) ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, src := range srcs {
		data, ok := f.objects[src.Object]
		if !ok {
			return minio.UploadInfo{}, noSuchKey(src.Object)
		}
		buf.Write(data)
	}
	f.objects[dst.Object] = buf.Bytes()
	return minio.UploadInfo{Key: dst.Object, Size: int64(buf.Len())}, nil
}

func (f *fakeMinio) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(objectName)
	}
	return minio.ObjectInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeMinio) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, noSuchKey(objectName)
}

func (f *fakeMinio) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeMinio) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	ch := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k, Size: int64(len(f.objects[k]))}
	}
	close(ch)
	return ch
}

func (f *fakeMinio) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	out := make(chan minio.RemoveObjectError)
	go func() {
		defer close(out)
		for obj := range objectsCh {
			f.mu.Lock()
			delete(f.objects, obj.Key)
			f.mu.Unlock()
		}
	}()
	return out
}

func (f *fakeMinio) keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func newAdapter() (*Adapter, *fakeMinio) {
	client := newFakeMinio()
	store := &model.Assetstore{ID: "minio-1", Name: "minio", Type: "minio", Bucket: "vault", Prefix: "data"}
	return newWithClient(store, client, nil), client
}

func body(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

func TestNormalizePrefix(t *testing.T) {
	require.Equal(t, "", normalizePrefix(""))
	require.Equal(t, "", normalizePrefix("/"))
	require.Equal(t, "vault/", normalizePrefix("vault"))
	require.Equal(t, "a/b/", normalizePrefix("/a/b/"))
	require.Equal(t, "a/b/", normalizePrefix("a//b"))
}

func TestChunkAndObjectKeys(t *testing.T) {
	a := &Adapter{prefix: "vault/"}
	p := a.chunkPrefix("u1")
	require.Equal(t, "vault/chunks/u1/", p)
	require.Equal(t, "vault/chunks/u1/3", chunkKey(p, 3))
	require.Equal(t, "vault/files/f1", a.objectKey("f1"))
}

func TestComposeRoundTrip(t *testing.T) {
	a, client := newAdapter()
	ctx := context.Background()

	first := bytes.Repeat([]byte("a"), assetstore.MinChunkSize)
	u := &model.Upload{ID: "u1", Size: int64(len(first) + 4)}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, body(first)))
	require.NoError(t, a.UploadChunk(ctx, u, body([]byte("tail"))))
	require.Equal(t, 2, u.ChunkCount)

	off, err := a.RequestOffset(ctx, u)
	require.NoError(t, err)
	require.Equal(t, u.Size, off)

	f := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	require.Equal(t, "data/files/u1", f.Path)
	require.Len(t, client.objects[f.Path], len(first)+4)
	require.Empty(t, client.keys(u.BlobKey))
}

func TestFinalizeUpload_Retry(t *testing.T) {
	a, client := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 4}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, body([]byte("data"))))

	first := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, first))
	require.Empty(t, client.keys(u.BlobKey))

	// 分片已清理，重试时复用已合并的对象
	again := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, again))
	require.Equal(t, first.Path, again.Path)
	require.Equal(t, first.SHA512, again.SHA512)
	require.Equal(t, []byte("data"), client.objects[again.Path])
}

func TestUploadChunk_RejectsSmallNonFinalChunk(t *testing.T) {
	a, client := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: assetstore.MinChunkSize * 2}
	require.NoError(t, a.InitUpload(ctx, u))

	err := a.UploadChunk(ctx, u, body([]byte("tiny")))
	require.Error(t, err)
	require.Zero(t, u.Received)
	require.Empty(t, client.keys(u.BlobKey))
}

func TestCancelAndUntracked(t *testing.T) {
	a, client := newAdapter()
	ctx := context.Background()
	tracked := &model.Upload{ID: "u1", Size: 3}
	orphan := &model.Upload{ID: "u2", Size: 3}
	require.NoError(t, a.InitUpload(ctx, tracked))
	require.NoError(t, a.InitUpload(ctx, orphan))
	require.NoError(t, a.UploadChunk(ctx, tracked, body([]byte("abc"))))
	require.NoError(t, a.UploadChunk(ctx, orphan, body([]byte("xyz"))))

	found, err := a.UntrackedUploads(ctx, []*model.Upload{tracked}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, orphan.BlobKey, found[0].Key)
	require.True(t, found[0].Removed)

	require.NoError(t, a.CancelUpload(ctx, tracked))
	require.Empty(t, client.keys("data/chunks/"))
}
