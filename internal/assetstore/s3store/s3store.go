// Package s3store 实现了基于 S3 原生 multipart upload 的存储适配器。
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/pkg/checksum"
	"datavault-go/pkg/log"
	"datavault-go/pkg/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// maxParts 是 S3 单次 multipart upload 允许的最大分片数。
const maxParts = 10000

// API 是适配器用到的 S3 客户端方法集合，*s3.Client 满足该接口。
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Adapter 是 S3 存储适配器。每个上传对应一个 multipart upload，
// 每个分片对应一个 part，最终对象直接落在上传时确定的键上。
type Adapter struct {
	store  *model.Assetstore
	api    API
	bucket string
	prefix string
	index  assetstore.FileIndex
}

var _ assetstore.Adapter = (*Adapter)(nil)

// New 根据存储配置创建 S3 适配器。
func New(ctx context.Context, store *model.Assetstore, index assetstore.FileIndex) (*Adapter, error) {
	if store.Bucket == "" {
		return nil, errors.NotValidf("s3 assetstore %q without bucket", store.Name)
	}
	client, err := storage.NewS3Client(ctx, storage.Options{
		Endpoint:        endpointURL(store.Endpoint, store.UseSSL),
		Region:          store.Region,
		Bucket:          store.Bucket,
		AccessKeyID:     store.AccessKeyID,
		SecretAccessKey: store.SecretAccessKey,
	})
	if err != nil {
		return nil, assetstore.Unavailable(err)
	}
	return NewWithAPI(store, client, index), nil
}

// NewWithAPI 使用给定的客户端创建适配器。
func NewWithAPI(store *model.Assetstore, api API, index assetstore.FileIndex) *Adapter {
	return &Adapter{
		store:  store,
		api:    api,
		bucket: store.Bucket,
		prefix: normalizePrefix(store.Prefix),
		index:  index,
	}
}

func (a *Adapter) InitUpload(ctx context.Context, upload *model.Upload) error {
	key := a.prefix + "uploads/" + upload.ID
	out, err := a.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(upload.MimeType)),
	})
	if err != nil {
		return wrapErr(err, key)
	}
	upload.BlobKey = key
	upload.MultipartID = aws.ToString(out.UploadId)
	upload.ChunkCount = 0
	upload.ChecksumState = nil
	return nil
}

// UploadChunk 先把分片写入本地临时文件以得到长度和可重放的请求体，校验通过后再作为 part 上传。
func (a *Adapter) UploadChunk(ctx context.Context, upload *model.Upload, chunk io.ReadCloser) error {
	defer chunk.Close()

	if upload.ChunkCount >= maxParts {
		return errors.NotValidf("upload %s already has %d parts", upload.ID, maxParts)
	}
	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}

	spool, err := os.CreateTemp("", "datavault-part-*")
	if err != nil {
		return errors.Annotate(err, "create spool file")
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	n, err := io.Copy(io.MultiWriter(spool, cs), io.LimitReader(chunk, upload.Remaining()+1))
	if err != nil {
		return errors.Annotate(err, "read chunk")
	}
	switch {
	case upload.Received+n > upload.Size:
		return assetstore.ReceivedTooMuch(upload.Received+n, upload.Size)
	case upload.Received+n < upload.Size && n < assetstore.MinChunkSize:
		return assetstore.ChunkTooSmall(n)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return errors.Trace(err)
	}

	partNumber := int32(upload.ChunkCount + 1)
	_, err = a.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(upload.BlobKey),
		UploadId:      aws.String(upload.MultipartID),
		PartNumber:    aws.Int32(partNumber),
		Body:          spool,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		log.Errorf("[S3.UploadChunk] 上传 part 失败, upload_id: %s, part: %d, error: %v", upload.ID, partNumber, err)
		return wrapErr(err, upload.BlobKey)
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

// RequestOffset 以 ListParts 的结果为准；任何已确认的 part 丢失时从头开始。
func (a *Adapter) RequestOffset(ctx context.Context, upload *model.Upload) (int64, error) {
	parts, err := a.listParts(ctx, upload)
	if err != nil {
		return 0, err
	}
	var total int64
	for i := 1; i <= upload.ChunkCount; i++ {
		p, ok := parts[int32(i)]
		if !ok {
			log.Warnf("[S3.RequestOffset] part %d 丢失，上传将从头开始, upload_id: %s", i, upload.ID)
			upload.ChunkCount = 0
			upload.ChecksumState = nil
			return 0, nil
		}
		total += aws.ToInt64(p.Size)
	}
	return total, nil
}

func (a *Adapter) FinalizeUpload(ctx context.Context, upload *model.Upload, file *model.File) error {
	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}

	// 上一次 finalize 已经提交了对象、但上传记录没能删除时，直接复用该对象
	committed, err := a.committed(ctx, upload)
	if err != nil {
		return err
	}
	if committed {
		log.Infof("[S3.FinalizeUpload] 对象已提交，跳过合并, upload_id: %s", upload.ID)
	} else if upload.ChunkCount == 0 {
		// S3 不允许完成没有 part 的 multipart upload
		if err := a.abort(ctx, upload.BlobKey, upload.MultipartID); err != nil {
			return err
		}
		_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(upload.BlobKey),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		})
		if err != nil {
			return wrapErr(err, upload.BlobKey)
		}
	} else {
		parts, err := a.listParts(ctx, upload)
		if err != nil {
			return err
		}
		completed := make([]types.CompletedPart, 0, upload.ChunkCount)
		for i := 1; i <= upload.ChunkCount; i++ {
			p, ok := parts[int32(i)]
			if !ok {
				return errors.NotFoundf("part %d of upload %s", i, upload.ID)
			}
			completed = append(completed, types.CompletedPart{ETag: p.ETag, PartNumber: aws.Int32(int32(i))})
		}
		_, err = a.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(a.bucket),
			Key:             aws.String(upload.BlobKey),
			UploadId:        aws.String(upload.MultipartID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		if err != nil {
			log.Errorf("[S3.FinalizeUpload] 完成 multipart upload 失败, upload_id: %s, error: %v", upload.ID, err)
			return wrapErr(err, upload.BlobKey)
		}
	}

	file.SHA512 = cs.Hex()
	file.Path = upload.BlobKey
	file.Size = upload.Size
	file.AssetstoreID = &a.store.ID
	file.Imported = false
	return nil
}

func (a *Adapter) CancelUpload(ctx context.Context, upload *model.Upload) error {
	if upload.MultipartID == "" {
		return nil
	}
	return a.abort(ctx, upload.BlobKey, upload.MultipartID)
}

func (a *Adapter) DeleteFile(ctx context.Context, file *model.File) error {
	if file.Imported || file.Path == "" {
		return nil
	}
	_, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(file.Path),
	})
	if err != nil && !isCode(err, "NoSuchKey") {
		return assetstore.Unavailable(err)
	}
	return nil
}

func (a *Adapter) DownloadFile(ctx context.Context, file *model.File, offset, endByte int64) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(file.Path),
	}
	switch {
	case endByte >= 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, endByte-1))
	case offset > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := a.api.GetObject(ctx, in)
	if err != nil {
		return nil, wrapErr(err, file.Path)
	}
	return out.Body, nil
}

func (a *Adapter) CopyFile(ctx context.Context, src, dest *model.File) error {
	key := a.prefix + "files/" + dest.ID
	_, err := a.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(key),
		CopySource: aws.String(copySource(a.bucket, src.Path)),
	})
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

func (a *Adapter) ImportData(ctx context.Context, sink assetstore.ImportSink, params assetstore.ImportParams) error {
	root := strings.TrimPrefix(params.Path, "/")
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}

	folders := map[string]assetstore.Target{"": params.Parent}
	var count int64
	p := s3.NewListObjectsV2Paginator(a.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(root),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return wrapErr(err, root)
		}
		for _, obj := range page.Contents {
			if params.IsCanceled() {
				return assetstore.ErrCanceled
			}
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			dir, name := path.Split(strings.TrimPrefix(key, root))
			if !params.Accept(name) {
				continue
			}
			parent, err := resolveFolder(ctx, sink, folders, strings.TrimSuffix(dir, "/"))
			if err != nil {
				return err
			}
			exists, err := a.index.ExistsByPath(ctx, a.store.ID, key)
			if err != nil {
				return errors.Trace(err)
			}
			if exists {
				continue
			}
			file := &model.File{
				ID:           uuid.NewString(),
				Name:         name,
				Size:         aws.ToInt64(obj.Size),
				AssetstoreID: &a.store.ID,
				Path:         key,
				Imported:     true,
			}
			if err := sink.ImportFile(ctx, parent, file); err != nil {
				return errors.Annotatef(err, "import object %s", key)
			}
			count++
			params.Report(count, 0, key)
		}
	}
	return nil
}

func (a *Adapter) UntrackedUploads(ctx context.Context, known []*model.Upload, remove bool) ([]assetstore.UntrackedUpload, error) {
	tracked := make(map[string]struct{}, len(known))
	for _, u := range known {
		if u.MultipartID != "" {
			tracked[u.MultipartID] = struct{}{}
		}
	}

	var untracked []assetstore.UntrackedUpload
	in := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.prefix + "uploads/"),
	}
	for {
		out, err := a.api.ListMultipartUploads(ctx, in)
		if err != nil {
			return nil, wrapErr(err, a.prefix)
		}
		for _, mu := range out.Uploads {
			id := aws.ToString(mu.UploadId)
			if _, ok := tracked[id]; ok {
				continue
			}
			u := assetstore.UntrackedUpload{AssetstoreID: a.store.ID, Key: aws.ToString(mu.Key), UploadID: id}
			if remove {
				if err := a.abort(ctx, u.Key, id); err != nil {
					log.Warnf("[S3.UntrackedUploads] 中止残留上传失败, key: %s, error: %v", u.Key, err)
				} else {
					u.Removed = true
				}
			}
			untracked = append(untracked, u)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.UploadIdMarker = out.NextUploadIdMarker
	}
	return untracked, nil
}

func (a *Adapter) CapacityInfo(ctx context.Context) (*assetstore.Capacity, error) {
	return nil, errors.NotSupportedf("capacity info for s3 assetstores")
}

func (a *Adapter) LocalFilePath(file *model.File) (string, error) {
	return "", errors.NotSupportedf("local path for s3 assetstores")
}

func (a *Adapter) listParts(ctx context.Context, upload *model.Upload) (map[int32]types.Part, error) {
	parts := make(map[int32]types.Part)
	p := s3.NewListPartsPaginator(a.api, &s3.ListPartsInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(upload.BlobKey),
		UploadId: aws.String(upload.MultipartID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(err, upload.BlobKey)
		}
		for _, part := range page.Parts {
			parts[aws.ToInt32(part.PartNumber)] = part
		}
	}
	return parts, nil
}

// committed 判断上传的目标对象是否已经以完整大小存在。
func (a *Adapter) committed(ctx context.Context, upload *model.Upload) (bool, error) {
	out, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(upload.BlobKey),
	})
	if err != nil {
		if isCode(err, "NotFound", "NoSuchKey") {
			return false, nil
		}
		return false, assetstore.Unavailable(err)
	}
	return aws.ToInt64(out.ContentLength) == upload.Size, nil
}

func (a *Adapter) abort(ctx context.Context, key, uploadID string) error {
	_, err := a.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil && !isCode(err, "NoSuchUpload") {
		return assetstore.Unavailable(err)
	}
	return nil
}

func resolveFolder(ctx context.Context, sink assetstore.ImportSink, folders map[string]assetstore.Target, dir string) (assetstore.Target, error) {
	if t, ok := folders[dir]; ok {
		return t, nil
	}
	parentDir, name := path.Split(dir)
	parent, err := resolveFolder(ctx, sink, folders, strings.TrimSuffix(parentDir, "/"))
	if err != nil {
		return assetstore.Target{}, err
	}
	t, err := sink.ImportFolder(ctx, parent, name)
	if err != nil {
		return assetstore.Target{}, errors.Annotatef(err, "import folder %s", dir)
	}
	folders[dir] = t
	return t, nil
}

func isCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

func wrapErr(err error, key string) error {
	if isCode(err, "NoSuchKey", "NoSuchUpload", "NotFound") {
		return errors.NotFoundf("object %s", key)
	}
	return assetstore.Unavailable(err)
}

// copySource 按 S3 要求对 CopySource 做 URL 编码，保留分隔符 "/"。
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

// endpointURL 为缺少协议头的 endpoint 补上 http:// 或 https://。
func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func normalizePrefix(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func contentType(mime string) string {
	if mime == "" {
		return "application/octet-stream"
	}
	return mime
}
