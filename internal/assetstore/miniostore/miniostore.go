// Package miniostore 实现了基于 MinIO 的存储适配器：
// 每个分片写成一个独立对象，最后用服务端 Copy/Compose 合并。
package miniostore

import (
	"bytes"
	"context"
	"io"
	"path"
	"strconv"
	"strings"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/pkg/checksum"
	"datavault-go/pkg/log"
	"datavault-go/pkg/storage"

	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
)

// objectClient 是适配器用到的 MinIO 客户端方法集合，*minio.Client 满足该接口。
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
}

// Adapter 是 MinIO 存储适配器。
type Adapter struct {
	store  *model.Assetstore
	client objectClient
	bucket string
	prefix string
	index  assetstore.FileIndex
}

var _ assetstore.Adapter = (*Adapter)(nil)

// New 创建 MinIO 适配器，存储桶不存在时会自动创建。
func New(ctx context.Context, store *model.Assetstore, index assetstore.FileIndex) (*Adapter, error) {
	if store.Endpoint == "" || store.Bucket == "" {
		return nil, errors.NotValidf("minio assetstore %q without endpoint or bucket", store.Name)
	}
	client, err := storage.NewMinioClient(ctx, storage.Options{
		Endpoint:        store.Endpoint,
		Region:          store.Region,
		Bucket:          store.Bucket,
		AccessKeyID:     store.AccessKeyID,
		SecretAccessKey: store.SecretAccessKey,
		UseSSL:          store.UseSSL,
	})
	if err != nil {
		return nil, assetstore.Unavailable(err)
	}
	return newWithClient(store, client, index), nil
}

func newWithClient(store *model.Assetstore, client objectClient, index assetstore.FileIndex) *Adapter {
	return &Adapter{
		store:  store,
		client: client,
		bucket: store.Bucket,
		prefix: normalizePrefix(store.Prefix),
		index:  index,
	}
}

func (a *Adapter) InitUpload(ctx context.Context, upload *model.Upload) error {
	upload.BlobKey = a.chunkPrefix(upload.ID)
	upload.ChunkCount = 0
	upload.ChecksumState = nil
	return nil
}

func (a *Adapter) UploadChunk(ctx context.Context, upload *model.Upload, chunk io.ReadCloser) error {
	defer chunk.Close()

	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}

	objectName := chunkKey(upload.BlobKey, upload.ChunkCount)
	body := io.TeeReader(io.LimitReader(chunk, upload.Remaining()+1), cs)
	info, err := a.client.PutObject(ctx, a.bucket, objectName, body, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		log.Errorf("[Minio.UploadChunk] 上传分片失败, objectName: %s, error: %v", objectName, err)
		return wrapErr(err, objectName)
	}

	n := info.Size
	var verr error
	switch {
	case upload.Received+n > upload.Size:
		verr = assetstore.ReceivedTooMuch(upload.Received+n, upload.Size)
	case upload.Received+n < upload.Size && n < assetstore.MinChunkSize:
		verr = assetstore.ChunkTooSmall(n)
	}
	if verr != nil {
		if err := a.client.RemoveObject(ctx, a.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
			log.Warnf("[Minio.UploadChunk] 删除无效分片失败, objectName: %s, error: %v", objectName, err)
		}
		return verr
	}

	state, err := cs.State()
	if err != nil {
		return errors.Trace(err)
	}
	upload.ChecksumState = state
	upload.Received += n
	upload.ChunkCount++
	return nil
}

// RequestOffset 以 MinIO 中实际存在的分片为准；任何已确认的分片丢失时从头开始。
func (a *Adapter) RequestOffset(ctx context.Context, upload *model.Upload) (int64, error) {
	chunks, err := a.listChunks(ctx, upload.BlobKey)
	if err != nil {
		return 0, err
	}
	var total int64
	for i := 0; i < upload.ChunkCount; i++ {
		obj, ok := chunks[i]
		if !ok {
			log.Warnf("[Minio.RequestOffset] 分片 %d 丢失，上传将从头开始, upload_id: %s", i, upload.ID)
			upload.ChunkCount = 0
			upload.ChecksumState = nil
			return 0, nil
		}
		total += obj.Size
	}
	return total, nil
}

func (a *Adapter) FinalizeUpload(ctx context.Context, upload *model.Upload, file *model.File) error {
	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}

	dst := minio.CopyDestOptions{Bucket: a.bucket, Object: a.objectKey(upload.ID)}
	// 上一次 finalize 已经合并、但上传记录没能删除时，分片可能已被清理，直接复用合并结果
	committed, err := a.committed(ctx, dst.Object, upload.Size)
	if err != nil {
		return err
	}
	if committed {
		log.Infof("[Minio.FinalizeUpload] 对象已合并，跳过合并, upload_id: %s", upload.ID)
	} else {
		switch upload.ChunkCount {
		case 0:
			_, err = a.client.PutObject(ctx, a.bucket, dst.Object, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
		case 1:
			// 对于单分片文件，使用 CopyObject
			_, err = a.client.CopyObject(ctx, dst, minio.CopySrcOptions{Bucket: a.bucket, Object: chunkKey(upload.BlobKey, 0)})
		default:
			// 对于多分片文件，使用 ComposeObject
			srcs := make([]minio.CopySrcOptions, 0, upload.ChunkCount)
			for i := 0; i < upload.ChunkCount; i++ {
				srcs = append(srcs, minio.CopySrcOptions{Bucket: a.bucket, Object: chunkKey(upload.BlobKey, i)})
			}
			_, err = a.client.ComposeObject(ctx, dst, srcs...)
		}
		if err != nil {
			log.Errorf("[Minio.FinalizeUpload] 合并分片失败, upload_id: %s, error: %v", upload.ID, err)
			return wrapErr(err, dst.Object)
		}
		log.Infof("[Minio.FinalizeUpload] 分片合并成功, upload_id: %s, chunks: %d", upload.ID, upload.ChunkCount)
	}

	if err := a.removeChunks(ctx, upload.BlobKey); err != nil {
		log.Warnf("[Minio.FinalizeUpload] 清理分片失败, upload_id: %s, error: %v", upload.ID, err)
	}

	file.SHA512 = cs.Hex()
	file.Path = dst.Object
	file.Size = upload.Size
	file.AssetstoreID = &a.store.ID
	file.Imported = false
	return nil
}

func (a *Adapter) CancelUpload(ctx context.Context, upload *model.Upload) error {
	if upload.BlobKey == "" {
		return nil
	}
	return a.removeChunks(ctx, upload.BlobKey)
}

func (a *Adapter) DeleteFile(ctx context.Context, file *model.File) error {
	if file.Imported || file.Path == "" {
		return nil
	}
	if err := a.client.RemoveObject(ctx, a.bucket, file.Path, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return assetstore.Unavailable(err)
	}
	return nil
}

func (a *Adapter) DownloadFile(ctx context.Context, file *model.File, offset, endByte int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	var err error
	switch {
	case endByte >= 0:
		err = opts.SetRange(offset, endByte-1)
	case offset > 0:
		err = opts.SetRange(offset, 0)
	}
	if err != nil {
		return nil, errors.NotValidf("range %d-%d", offset, endByte)
	}
	obj, err := a.client.GetObject(ctx, a.bucket, file.Path, opts)
	if err != nil {
		return nil, wrapErr(err, file.Path)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, wrapErr(err, file.Path)
	}
	return obj, nil
}

func (a *Adapter) CopyFile(ctx context.Context, src, dest *model.File) error {
	key := a.objectKey(dest.ID)
	_, err := a.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: a.bucket, Object: key},
		minio.CopySrcOptions{Bucket: a.bucket, Object: src.Path},
	)
	if err != nil {
		return wrapErr(err, src.Path)
	}
	dest.Path = key
	dest.SHA512 = src.SHA512
	dest.Size = src.Size
	dest.Imported = false
	dest.AssetstoreID = &a.store.ID
	return nil
}

func (a *Adapter) UntrackedUploads(ctx context.Context, known []*model.Upload, remove bool) ([]assetstore.UntrackedUpload, error) {
	tracked := make(map[string]struct{}, len(known))
	for _, u := range known {
		tracked[u.ID] = struct{}{}
	}

	root := a.prefix + "chunks/"
	sizes := make(map[string]int64)
	var order []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: root, Recursive: true}) {
		if obj.Err != nil {
			return nil, wrapErr(obj.Err, root)
		}
		id, _, ok := strings.Cut(strings.TrimPrefix(obj.Key, root), "/")
		if !ok {
			continue
		}
		if _, ok := tracked[id]; ok {
			continue
		}
		if _, seen := sizes[id]; !seen {
			order = append(order, id)
		}
		sizes[id] += obj.Size
	}

	untracked := make([]assetstore.UntrackedUpload, 0, len(order))
	for _, id := range order {
		u := assetstore.UntrackedUpload{AssetstoreID: a.store.ID, Key: a.chunkPrefix(id), Size: sizes[id]}
		if remove {
			if err := a.removeChunks(ctx, u.Key); err != nil {
				log.Warnf("[Minio.UntrackedUploads] 删除残留分片失败, key: %s, error: %v", u.Key, err)
			} else {
				u.Removed = true
			}
		}
		untracked = append(untracked, u)
	}
	return untracked, nil
}

func (a *Adapter) CapacityInfo(ctx context.Context) (*assetstore.Capacity, error) {
	return nil, errors.NotSupportedf("capacity info for minio assetstores")
}

func (a *Adapter) LocalFilePath(file *model.File) (string, error) {
	return "", errors.NotSupportedf("local path for minio assetstores")
}

func (a *Adapter) chunkPrefix(uploadID string) string {
	return a.prefix + "chunks/" + uploadID + "/"
}

func (a *Adapter) objectKey(id string) string {
	return a.prefix + "files/" + id
}

// committed 判断合并后的对象是否已经以完整大小存在。
func (a *Adapter) committed(ctx context.Context, key string, size int64) (bool, error) {
	info, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if errors.Is(wrapErr(err, key), errors.NotFound) {
			return false, nil
		}
		return false, assetstore.Unavailable(err)
	}
	return info.Size == size, nil
}

func (a *Adapter) listChunks(ctx context.Context, chunkPrefix string) (map[int]minio.ObjectInfo, error) {
	chunks := make(map[int]minio.ObjectInfo)
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: chunkPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, wrapErr(obj.Err, chunkPrefix)
		}
		i, err := strconv.Atoi(strings.TrimPrefix(obj.Key, chunkPrefix))
		if err != nil {
			continue
		}
		chunks[i] = obj
	}
	return chunks, nil
}

func (a *Adapter) removeChunks(ctx context.Context, chunkPrefix string) error {
	objectsCh := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: chunkPrefix, Recursive: true})
	var firstErr error
	for rerr := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if firstErr == nil && minio.ToErrorResponse(rerr.Err).Code != "NoSuchKey" {
			firstErr = assetstore.Unavailable(rerr.Err)
		}
	}
	return firstErr
}

// chunkKey 返回第 i 个分片的对象名。
func chunkKey(chunkPrefix string, i int) string {
	return chunkPrefix + strconv.Itoa(i)
}

// normalizePrefix 去掉首尾斜杠，非空时保证以 "/" 结尾。
func normalizePrefix(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func wrapErr(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return errors.NotFoundf("object %s", key)
	}
	return assetstore.Unavailable(err)
}
