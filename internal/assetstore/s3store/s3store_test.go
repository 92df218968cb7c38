package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

type multipart struct {
	key   string
	parts map[int32][]byte
}

// fakeS3 是一个内存中的 S3，只实现适配器用到的语义。
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]*multipart
	nextID  int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, uploads: map[string]*multipart{}}
}

func noSuch(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "mp-" + strconv.Itoa(f.nextID)
	f.uploads[id] = &multipart{key: aws.ToString(in.Key), parts: map[int32][]byte{}}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	mp, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, noSuch("NoSuchUpload")
	}
	mp.parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(etag(data))}, nil
}

func (f *fakeS3) ListParts(ctx context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mp, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, noSuch("NoSuchUpload")
	}
	out := &s3.ListPartsOutput{}
	for n, data := range mp.parts {
		out.Parts = append(out.Parts, types.Part{
			PartNumber: aws.Int32(n),
			Size:       aws.Int64(int64(len(data))),
			ETag:       aws.String(etag(data)),
		})
	}
	return out, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	mp, ok := f.uploads[id]
	if !ok {
		return nil, noSuch("NoSuchUpload")
	}
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		data := mp.parts[aws.ToInt32(p.PartNumber)]
		if etag(data) != aws.ToString(p.ETag) {
			return nil, noSuch("InvalidPart")
		}
		buf.Write(data)
	}
	f.objects[mp.key] = buf.Bytes()
	delete(f.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, noSuch("NoSuchUpload")
	}
	delete(f.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListMultipartUploadsOutput{}
	for id, mp := range f.uploads {
		if strings.HasPrefix(mp.key, aws.ToString(in.Prefix)) {
			out.Uploads = append(out.Uploads, types.MultipartUpload{Key: aws.String(mp.key), UploadId: aws.String(id)})
		}
	}
	return out, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, noSuch("NoSuchKey")
	}
	if r := aws.ToString(in.Range); r != "" {
		var start, end int
		spec := strings.TrimPrefix(r, "bytes=")
		if strings.HasSuffix(spec, "-") {
			start, _ = strconv.Atoi(strings.TrimSuffix(spec, "-"))
			end = len(data) - 1
		} else if _, err := fmt.Sscanf(spec, "%d-%d", &start, &end); err != nil {
			return nil, err
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, noSuch("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	data, ok := f.objects[src]
	if !ok {
		return nil, noSuch("NoSuchKey")
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), data...)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k, data := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func etag(data []byte) string {
	return fmt.Sprintf("%x", len(data)) + "-" + string(data[:min(len(data), 4)])
}

type noIndex struct{}

func (noIndex) CountByHash(context.Context, string, string, string) (int64, error) { return 0, nil }
func (noIndex) ExistsByPath(context.Context, string, string) (bool, error)       { return false, nil }

func newAdapter() (*Adapter, *fakeS3) {
	api := newFakeS3()
	store := &model.Assetstore{ID: "s3-1", Name: "s3", Type: "s3", Bucket: "vault", Prefix: "data"}
	return NewWithAPI(store, api, noIndex{}), api
}

func body(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

func TestMultipartRoundTrip(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()

	first := bytes.Repeat([]byte("a"), assetstore.MinChunkSize)
	last := []byte("tail")
	u := &model.Upload{ID: "u1", Size: int64(len(first) + len(last))}
	require.NoError(t, a.InitUpload(ctx, u))
	require.Equal(t, "data/uploads/u1", u.BlobKey)

	require.NoError(t, a.UploadChunk(ctx, u, body(first)))
	off, err := a.RequestOffset(ctx, u)
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), off)

	require.NoError(t, a.UploadChunk(ctx, u, body(last)))
	f := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	require.Equal(t, u.Size, f.Size)
	require.Empty(t, api.uploads)

	r, err := a.DownloadFile(ctx, f, int64(len(first)), -1)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "tail", string(data))
}

func TestFinalizeUpload_Retry(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 4}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, body([]byte("data"))))

	first := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, first))

	// 调用方保存失败后用同一条上传记录重试
	again := &model.File{ID: "f1"}
	require.NoError(t, a.FinalizeUpload(ctx, u, again))
	require.Equal(t, first.Path, again.Path)
	require.Equal(t, first.SHA512, again.SHA512)
	require.Equal(t, []byte("data"), api.objects[again.Path])

	zero := &model.Upload{ID: "u0"}
	require.NoError(t, a.InitUpload(ctx, zero))
	require.NoError(t, a.FinalizeUpload(ctx, zero, &model.File{ID: "f0"}))
	require.NoError(t, a.FinalizeUpload(ctx, zero, &model.File{ID: "f0"}))
}

func TestUploadChunk_RejectsSmallNonFinalChunk(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: assetstore.MinChunkSize * 2}
	require.NoError(t, a.InitUpload(ctx, u))

	err := a.UploadChunk(ctx, u, body([]byte("tiny")))
	require.True(t, errors.Is(err, errors.NotValid))
	require.Zero(t, u.Received)
	require.Empty(t, api.uploads[u.MultipartID].parts)
}

func TestUploadChunk_RejectsOverrun(t *testing.T) {
	a, _ := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 3}
	require.NoError(t, a.InitUpload(ctx, u))

	err := a.UploadChunk(ctx, u, body([]byte("four")))
	require.True(t, errors.Is(err, errors.NotValid))
	require.Zero(t, u.Received)
}

func TestRequestOffset_RestartsWhenPartLost(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u1", Size: 3}
	require.NoError(t, a.InitUpload(ctx, u))
	require.NoError(t, a.UploadChunk(ctx, u, body([]byte("abc"))))

	delete(api.uploads[u.MultipartID].parts, 1)
	off, err := a.RequestOffset(ctx, u)
	require.NoError(t, err)
	require.Zero(t, off)
	require.Zero(t, u.ChunkCount)
}

func TestZeroByteUpload(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()
	u := &model.Upload{ID: "u0"}
	require.NoError(t, a.InitUpload(ctx, u))
	f := &model.File{ID: "f0"}
	require.NoError(t, a.FinalizeUpload(ctx, u, f))
	require.Empty(t, api.uploads)
	require.Contains(t, api.objects, "data/uploads/u0")
}

func TestCancelAndUntracked(t *testing.T) {
	a, _ := newAdapter()
	ctx := context.Background()
	tracked := &model.Upload{ID: "u1", Size: 10}
	orphan := &model.Upload{ID: "u2", Size: 10}
	require.NoError(t, a.InitUpload(ctx, tracked))
	require.NoError(t, a.InitUpload(ctx, orphan))

	found, err := a.UntrackedUploads(ctx, []*model.Upload{tracked}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, orphan.MultipartID, found[0].UploadID)
	require.True(t, found[0].Removed)

	require.NoError(t, a.CancelUpload(ctx, tracked))
	require.NoError(t, a.CancelUpload(ctx, tracked))

	found, err = a.UntrackedUploads(ctx, nil, false)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCopyAndDelete(t *testing.T) {
	a, api := newAdapter()
	ctx := context.Background()
	api.objects["data/files/src"] = []byte("payload")

	dest := &model.File{ID: "copy"}
	require.NoError(t, a.CopyFile(ctx, &model.File{ID: "src", Path: "data/files/src", Size: 7}, dest))
	require.Equal(t, "data/files/copy", dest.Path)
	require.Equal(t, []byte("payload"), api.objects[dest.Path])

	require.NoError(t, a.DeleteFile(ctx, dest))
	require.NotContains(t, api.objects, dest.Path)

	_, err := a.DownloadFile(ctx, dest, 0, -1)
	require.True(t, errors.Is(err, errors.NotFound))
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "https://s3.local:9000", endpointURL("s3.local:9000", true))
	require.Equal(t, "http://s3.local", endpointURL("http://s3.local", true))
	require.Equal(t, "b/dir/a%20b.txt", copySource("b", "dir/a b.txt"))
	require.Equal(t, "application/octet-stream", contentType(""))
}
