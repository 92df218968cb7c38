package miniostore

import (
	"context"
	"path"
	"strings"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
)

// ImportData 把存储桶中 params.Path 前缀下的对象登记为 imported 文件，
// 键中的 "/" 分段映射为文件夹。
func (a *Adapter) ImportData(ctx context.Context, sink assetstore.ImportSink, params assetstore.ImportParams) error {
	root := strings.TrimPrefix(params.Path, "/")
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}

	folders := map[string]assetstore.Target{"": params.Parent}
	var count int64
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: root, Recursive: true}) {
		if obj.Err != nil {
			return wrapErr(obj.Err, root)
		}
		if params.IsCanceled() {
			return assetstore.ErrCanceled
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		dir, name := path.Split(strings.TrimPrefix(obj.Key, root))
		if !params.Accept(name) {
			continue
		}

		parent, err := a.resolveFolder(ctx, sink, folders, strings.TrimSuffix(dir, "/"))
		if err != nil {
			return err
		}
		exists, err := a.index.ExistsByPath(ctx, a.store.ID, obj.Key)
		if err != nil {
			return errors.Trace(err)
		}
		if exists {
			log.Debugf("[Minio.ImportData] 对象已被跟踪，跳过: %s", obj.Key)
			continue
		}

		file := &model.File{
			ID:           uuid.NewString(),
			Name:         name,
			MimeType:     obj.ContentType,
			Size:         obj.Size,
			AssetstoreID: &a.store.ID,
			Path:         obj.Key,
			Imported:     true,
		}
		if err := sink.ImportFile(ctx, parent, file); err != nil {
			return errors.Annotatef(err, "import object %s", obj.Key)
		}
		count++
		params.Report(count, 0, obj.Key)
	}
	return nil
}

// resolveFolder 逐级创建 dir 对应的文件夹并缓存结果。
func (a *Adapter) resolveFolder(ctx context.Context, sink assetstore.ImportSink, folders map[string]assetstore.Target, dir string) (assetstore.Target, error) {
	if t, ok := folders[dir]; ok {
		return t, nil
	}
	parentDir, name := path.Split(dir)
	parent, err := a.resolveFolder(ctx, sink, folders, strings.TrimSuffix(parentDir, "/"))
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
